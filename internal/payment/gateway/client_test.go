package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adspark/internal/common/money"
	"adspark/internal/payment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL}, StaticToken("tok"), testLogger())
}

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestCreateOrder(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/payments/create-payment-order", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "sub_basic", req["subscription_id"])
			assert.Equal(t, float64(49900), req["amount"])

			writeEnvelope(w, http.StatusCreated, `{
				"success": true,
				"data": {
					"order": {"id": "order_1", "subscription_id": "sub_basic", "receipt": "rcpt_1",
						"amount": {"amount_minor": 49900, "currency": "INR"}, "status": "created"},
					"upi_deep_link": "upi://pay?pa=adspark%40upi"
				}
			}`)
		})

		result, err := c.CreateOrder(context.Background(), "sub_basic", money.Paisa(49900))
		require.NoError(t, err)
		assert.Equal(t, "order_1", result.Order.ID)
		assert.Equal(t, "upi://pay?pa=adspark%40upi", result.UPIDeepLink)
	})

	t.Run("fail, validates inputs before the wire", func(t *testing.T) {
		called := false
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

		_, err := c.CreateOrder(context.Background(), "bad id!", money.Paisa(100))
		var vErr *payment.ValidationError
		require.ErrorAs(t, err, &vErr)

		_, err = c.CreateOrder(context.Background(), "sub_basic", money.Paisa(0))
		require.ErrorAs(t, err, &vErr)

		assert.False(t, called)
	})

	t.Run("fail, rejects a malformed order id from the backend", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusCreated, `{
				"success": true,
				"data": {"order": {"id": "order id with spaces"}, "upi_deep_link": "upi://pay?pa=x@y"}
			}`)
		})

		_, err := c.CreateOrder(context.Background(), "sub_basic", money.Paisa(100))
		var vErr *payment.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "order_id", vErr.Field)
	})
}

func TestStatus(t *testing.T) {
	t.Run("ok, succeeded with raw payment id and signature", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/payments/status/order_1", r.URL.Path)
			writeEnvelope(w, http.StatusOK, `{
				"success": true,
				"data": {"status": "succeeded", "payment_id": "pay_1", "signature": "a1b2/c3=="}
			}`)
		})

		status, err := c.Status(context.Background(), "order_1")
		require.NoError(t, err)
		assert.Equal(t, payment.StateSucceeded, status.State)
		assert.Equal(t, "pay_1", status.PaymentID)
		assert.Equal(t, "a1b2/c3==", status.Signature)
	})

	t.Run("ok, failed status sanitizes the reason", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, `{
				"success": true,
				"data": {"status": "failed", "error_message": "<b>declined</b>"}
			}`)
		})

		status, err := c.Status(context.Background(), "order_1")
		require.NoError(t, err)
		assert.Equal(t, payment.StateFailed, status.State)
		assert.Equal(t, "&lt;b&gt;declined&lt;&#x2F;b&gt;", status.Reason)
	})

	t.Run("fail, unknown state is rejected", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"status": "weird"}}`)
		})

		_, err := c.Status(context.Background(), "order_1")
		var vErr *payment.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "status", vErr.Field)
	})

	t.Run("fail, server errors are transient", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusBadGateway, `{"success": false}`)
		})

		_, err := c.Status(context.Background(), "order_1")
		require.Error(t, err)
		assert.True(t, payment.IsTransient(err))
	})

	t.Run("fail, non-JSON 503 body is still transient", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("<html><body>upstream unavailable</body></html>"))
		})

		_, err := c.Status(context.Background(), "order_1")
		require.Error(t, err)
		assert.True(t, payment.IsTransient(err))
	})

	t.Run("fail, connectivity failure is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close() // refuse connections
		c := NewClient(Config{BaseURL: srv.URL}, StaticToken("tok"), testLogger())

		_, err := c.Status(context.Background(), "order_1")
		require.Error(t, err)
		assert.True(t, payment.IsTransient(err))
	})
}

func TestActivateSubscription(t *testing.T) {
	data := &payment.ValidatedPaymentData{
		PaymentID:      "pay_1",
		OrderID:        "order_1",
		Signature:      "deadbeef",
		SubscriptionID: "sub_basic",
	}

	t.Run("ok", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/payments/activate-subscription", r.URL.Path)
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "pay_1", req["payment_id"])
			writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"status": "active"}}`)
		})

		require.NoError(t, c.ActivateSubscription(context.Background(), data))
	})

	t.Run("fail, nil payload", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
		var vErr *payment.ValidationError
		require.ErrorAs(t, c.ActivateSubscription(context.Background(), nil), &vErr)
	})

	t.Run("fail, api error carries code and sanitized message", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusBadRequest, `{
				"success": false,
				"error": {"code": "PAYMENT_FAILED", "message": "<script>bad</script>"}
			}`)
		})

		err := c.ActivateSubscription(context.Background(), data)
		var apiErr *payment.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "PAYMENT_FAILED", apiErr.Code)
		assert.NotContains(t, apiErr.Message, "<script>")
	})
}

func TestAuth(t *testing.T) {
	t.Run("fail, empty token never reaches the wire", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
		defer srv.Close()
		c := NewClient(Config{BaseURL: srv.URL}, StaticToken(""), testLogger())

		_, err := c.Status(context.Background(), "order_1")
		require.ErrorIs(t, err, payment.ErrAuth)
		assert.False(t, called)
	})

	t.Run("fail, 401 maps to ErrAuth", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusUnauthorized, `{"success": false, "error": {"code": "UNAUTHORIZED", "message": "bad token"}}`)
		})

		_, err := c.Status(context.Background(), "order_1")
		require.ErrorIs(t, err, payment.ErrAuth)
	})

	t.Run("fail, plain-text 401 still maps to ErrAuth", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})

		_, err := c.Status(context.Background(), "order_1")
		require.ErrorIs(t, err, payment.ErrAuth)
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Run("ok, create, fetch, cancel", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/payments/create-subscription":
				writeEnvelope(w, http.StatusCreated, `{"success": true, "data": {"id": "sub_1", "plan_id": "plan_pro", "status": "pending"}}`)
			case "/api/payments/subscriptions/current":
				writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"id": "sub_1", "plan_id": "plan_pro", "status": "active"}}`)
			case "/api/payments/subscriptions/cancel":
				writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"status": "cancelled"}}`)
			default:
				writeEnvelope(w, http.StatusNotFound, `{"success": false, "error": {"code": "NOT_FOUND", "message": "no route"}}`)
			}
		})

		sub, err := c.CreateSubscription(context.Background(), "plan_pro")
		require.NoError(t, err)
		assert.Equal(t, "sub_1", sub.ID)

		current, err := c.CurrentSubscription(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "active", current.Status)

		require.NoError(t, c.CancelSubscription(context.Background()))
	})

	t.Run("ok, billing history", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/payments/billing/history", r.URL.Path)
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			writeEnvelope(w, http.StatusOK, `{"success": true, "data": [
				{"order_id": "order_1", "payment_id": "pay_1", "status": "paid",
					"amount": {"amount_minor": 49900, "currency": "INR"}}
			]}`)
		})

		records, err := c.BillingHistory(context.Background(), 10, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "order_1", records[0].OrderID)
		assert.Equal(t, int64(49900), records[0].Amount.AmountMinor)
	})
}
