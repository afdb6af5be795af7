package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonapi "adspark/internal/common/api"
	"adspark/internal/common/middleware"
	"adspark/internal/sim"
)

func testServer(t *testing.T, cfg sim.Config) (*httptest.Server, *sim.MemoryStore) {
	t.Helper()

	store := sim.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := sim.NewService(cfg, store, nil, logger)
	handler := NewHandler(service)

	tokenValidator := func(_ context.Context, token string) (string, error) {
		if token != "test-token" {
			return "", fmt.Errorf("unknown token")
		}
		return "user_1", nil
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.BearerAuth(tokenValidator))
		r.Use(middleware.Idempotency(NewMemoryIdempotencyStore(), time.Minute))
		r.Mount("/", handler.Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func testSimConfig() sim.Config {
	return sim.Config{
		PayeeVPA:      "adspark@upi",
		PayeeName:     "Adspark Media",
		SigningSecret: "test-secret",
		SettleAfter:   20 * time.Millisecond,
		SettleOutcome: "succeeded",
		FailureReason: "declined",
	}
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func envelopeData(t *testing.T, envelope map[string]json.RawMessage, out any) {
	t.Helper()
	require.Contains(t, envelope, "data")
	require.NoError(t, json.Unmarshal(envelope["data"], out))
}

func createOrder(t *testing.T, srv *httptest.Server) map[string]any {
	t.Helper()
	resp, envelope := doJSON(t, srv, http.MethodPost, "/api/payments/create-payment-order", map[string]any{
		"subscription_id": "sub_basic",
		"amount":          49900,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var data map[string]any
	envelopeData(t, envelope, &data)
	return data
}

func TestCreatePaymentOrder(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		data := createOrder(t, srv)
		order, ok := data["order"].(map[string]any)
		require.True(t, ok)
		assert.NotEmpty(t, order["id"])
		assert.Equal(t, "created", order["status"])
		assert.Contains(t, data["upi_deep_link"], "upi://pay")
	})

	t.Run("fail, missing auth", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		resp, err := srv.Client().Post(srv.URL+"/api/payments/create-payment-order", "application/json", bytes.NewReader([]byte(`{}`)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("fail, validation error", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		resp, envelope := doJSON(t, srv, http.MethodPost, "/api/payments/create-payment-order", map[string]any{
			"subscription_id": "",
			"amount":          0,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, string(envelope["success"]), "false")
	})

	t.Run("fail, out-of-range amount", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		resp, _ := doJSON(t, srv, http.MethodPost, "/api/payments/create-payment-order", map[string]any{
			"subscription_id": "sub_basic",
			"amount":          10_000_001,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestStatusEndpoint(t *testing.T) {
	t.Run("ok, pending then succeeded", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		data := createOrder(t, srv)
		order := data["order"].(map[string]any)
		orderID := order["id"].(string)

		resp, envelope := doJSON(t, srv, http.MethodGet, "/api/payments/status/"+orderID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var status map[string]any
		envelopeData(t, envelope, &status)
		assert.Equal(t, "pending", status["status"])

		require.Eventually(t, func() bool {
			_, envelope := doJSON(t, srv, http.MethodGet, "/api/payments/status/"+orderID, nil)
			var status map[string]any
			if err := json.Unmarshal(envelope["data"], &status); err != nil {
				return false
			}
			return status["status"] == "succeeded"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("fail, unknown order", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		resp, _ := doJSON(t, srv, http.MethodGet, "/api/payments/status/order_missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("fail, malformed order id", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		resp, _ := doJSON(t, srv, http.MethodGet, "/api/payments/status/bad%20id", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestActivateEndpoint(t *testing.T) {
	waitSucceeded := func(t *testing.T, srv *httptest.Server, orderID string) map[string]any {
		t.Helper()
		var status map[string]any
		require.Eventually(t, func() bool {
			_, envelope := doJSON(t, srv, http.MethodGet, "/api/payments/status/"+orderID, nil)
			status = map[string]any{}
			if err := json.Unmarshal(envelope["data"], &status); err != nil {
				return false
			}
			return status["status"] == "succeeded"
		}, 2*time.Second, 20*time.Millisecond)
		return status
	}

	t.Run("ok, end to end", func(t *testing.T) {
		srv, store := testServer(t, testSimConfig())

		data := createOrder(t, srv)
		orderID := data["order"].(map[string]any)["id"].(string)
		status := waitSucceeded(t, srv, orderID)

		resp, _ := doJSON(t, srv, http.MethodPost, "/api/payments/activate-subscription", map[string]any{
			"payment_id":      status["payment_id"],
			"order_id":        orderID,
			"signature":       status["signature"],
			"subscription_id": "sub_basic",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		sub, err := store.GetSubscriptionByUser(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, "active", sub.Status)
	})

	t.Run("fail, forged signature", func(t *testing.T) {
		srv, _ := testServer(t, testSimConfig())

		data := createOrder(t, srv)
		orderID := data["order"].(map[string]any)["id"].(string)
		status := waitSucceeded(t, srv, orderID)

		resp, envelope := doJSON(t, srv, http.MethodPost, "/api/payments/activate-subscription", map[string]any{
			"payment_id":      status["payment_id"],
			"order_id":        orderID,
			"signature":       "forged",
			"subscription_id": "sub_basic",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var apiErr commonapi.Error
		require.NoError(t, json.Unmarshal(envelope["error"], &apiErr))
		assert.Equal(t, commonapi.ErrCodePaymentFailed, apiErr.Code)
	})
}

func TestSubscriptionEndpoints(t *testing.T) {
	srv, _ := testServer(t, testSimConfig())

	t.Run("fail, current before any subscription", func(t *testing.T) {
		resp, _ := doJSON(t, srv, http.MethodGet, "/api/payments/subscriptions/current", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("ok, create, fetch, cancel", func(t *testing.T) {
		resp, envelope := doJSON(t, srv, http.MethodPost, "/api/payments/create-subscription", map[string]any{
			"plan_id": "plan_pro",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var sub SubscriptionPayload
		envelopeData(t, envelope, &sub)
		assert.Equal(t, "pending", sub.Status)

		resp, envelope = doJSON(t, srv, http.MethodGet, "/api/payments/subscriptions/current", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		envelopeData(t, envelope, &sub)
		assert.Equal(t, "plan_pro", sub.PlanID)

		resp, _ = doJSON(t, srv, http.MethodPost, "/api/payments/subscriptions/cancel", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestIdempotencyReplay(t *testing.T) {
	srv, _ := testServer(t, testSimConfig())

	body := map[string]any{"plan_id": "plan_pro"}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	send := func() (string, *http.Response) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/payments/create-subscription", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer test-token")
		req.Header.Set("Idempotency-Key", "key-1")

		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(raw), resp
	}

	first, resp1 := send()
	assert.Empty(t, resp1.Header.Get("X-Idempotency-Replayed"))

	second, resp2 := send()
	assert.Equal(t, "true", resp2.Header.Get("X-Idempotency-Replayed"))
	assert.Equal(t, first, second)
}
