// Package gateway is the HTTP client of the backend payment service. Every
// outbound payload is validated before the network hop and every inbound
// payload is sanitized after it; the backend is a collaborator, not a
// trusted one.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"adspark/internal/common/api"
	"adspark/internal/common/money"
	"adspark/internal/payment"
	"adspark/internal/payment/validate"
)

// Config holds gateway client configuration.
type Config struct {
	BaseURL string        `envconfig:"PAYMENT_API_BASE_URL" default:"http://localhost:8090"`
	Timeout time.Duration `envconfig:"PAYMENT_API_TIMEOUT" default:"30s"`
}

// TokenSource supplies the bearer token for outbound requests. An empty
// token or an error is an authentication precondition failure; the client
// never attempts to work around it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource wrapping a fixed token, e.g. from configuration.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// Client calls the payment service.
type Client struct {
	config     Config
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokens: tokens,
		logger: logger,
	}
}

// CreateOrderResult is the response from order creation.
type CreateOrderResult struct {
	Order       *payment.Order `json:"order"`
	UPIDeepLink string         `json:"upi_deep_link"`
	QRCodeURL   string         `json:"qr_code_url,omitempty"`
}

type createOrderRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Amount         int64  `json:"amount"`
}

// CreateOrder creates a payment order for a subscription. Inputs are
// validated before the request is built; a failure never reaches the wire.
func (c *Client) CreateOrder(ctx context.Context, subscriptionID string, amount money.Money) (*CreateOrderResult, error) {
	if !validate.SubscriptionID(subscriptionID) {
		return nil, &payment.ValidationError{Field: "subscription_id", Reason: "must be 1-50 characters of [A-Za-z0-9_-]"}
	}
	if !validate.Amount(amount.AmountMinor) {
		return nil, &payment.ValidationError{Field: "amount", Reason: fmt.Sprintf("must be between %d and %d minor units", validate.MinAmount, validate.MaxAmount)}
	}

	var data CreateOrderResult
	err := c.do(ctx, http.MethodPost, "/api/payments/create-payment-order", createOrderRequest{
		SubscriptionID: subscriptionID,
		Amount:         amount.AmountMinor,
	}, &data)
	if err != nil {
		return nil, err
	}

	if data.Order == nil || !validate.OrderID(data.Order.ID) {
		return nil, &payment.ValidationError{Field: "order_id", Reason: "backend returned a malformed order"}
	}

	c.logger.Info("payment order created",
		"order_id", data.Order.ID,
		"subscription_id", subscriptionID,
		"amount", amount.AmountMinor,
	)

	return &data, nil
}

type statusData struct {
	Status       string `json:"status"`
	PaymentID    string `json:"payment_id,omitempty"`
	Signature    string `json:"signature,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Status queries the current status of an order. Connectivity failures are
// wrapped as transient so the poller retries them within its budget.
func (c *Client) Status(ctx context.Context, orderID string) (payment.Status, error) {
	if !validate.OrderID(orderID) {
		return payment.Status{}, &payment.ValidationError{Field: "order_id", Reason: "must be 1-100 characters of [A-Za-z0-9_-]"}
	}

	var data statusData
	if err := c.do(ctx, http.MethodGet, "/api/payments/status/"+orderID, nil, &data); err != nil {
		return payment.Status{}, err
	}

	state := payment.State(data.Status)
	switch state {
	case payment.StatePending, payment.StateSucceeded, payment.StateFailed, payment.StateCancelled:
	default:
		return payment.Status{}, &payment.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown state %q", data.Status)}
	}

	// PaymentID and Signature stay raw here: they pass through the
	// validate.PaymentData funnel before any further use, and sanitizing
	// twice would double-escape them.
	return payment.Status{
		OrderID:   orderID,
		State:     state,
		PaymentID: data.PaymentID,
		Signature: data.Signature,
		Reason:    validate.SanitizeString(data.ErrorMessage),
	}, nil
}

// ActivateSubscription submits the validated payment data to the activation
// endpoint. The payload type guarantees every field already passed its
// format check.
func (c *Client) ActivateSubscription(ctx context.Context, data *payment.ValidatedPaymentData) error {
	if data == nil {
		return &payment.ValidationError{Field: "payment_data", Reason: "is required"}
	}
	if err := c.do(ctx, http.MethodPost, "/api/payments/activate-subscription", data, nil); err != nil {
		return err
	}

	c.logger.Info("subscription activated",
		"subscription_id", data.SubscriptionID,
		"order_id", data.OrderID,
	)
	return nil
}

// Subscription is the subscription record exposed by the lifecycle
// endpoints.
type Subscription struct {
	ID        string      `json:"id"`
	PlanID    string      `json:"plan_id"`
	Status    string      `json:"status"`
	Amount    money.Money `json:"amount"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

type createSubscriptionRequest struct {
	PlanID string `json:"plan_id"`
}

// CreateSubscription provisions a pending subscription for a plan.
func (c *Client) CreateSubscription(ctx context.Context, planID string) (*Subscription, error) {
	if !validate.SubscriptionID(planID) {
		return nil, &payment.ValidationError{Field: "plan_id", Reason: "must be 1-50 characters of [A-Za-z0-9_-]"}
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/api/payments/create-subscription", createSubscriptionRequest{PlanID: planID}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CurrentSubscription fetches the caller's active subscription, if any.
func (c *Client) CurrentSubscription(ctx context.Context) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/api/payments/subscriptions/current", nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels the caller's active subscription.
func (c *Client) CancelSubscription(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/payments/subscriptions/cancel", nil, nil)
}

// BillingRecord is one entry of the billing history.
type BillingRecord struct {
	OrderID   string      `json:"order_id"`
	PaymentID string      `json:"payment_id,omitempty"`
	Amount    money.Money `json:"amount"`
	Status    string      `json:"status"`
	PaidAt    *time.Time  `json:"paid_at,omitempty"`
}

// BillingHistory fetches past payments, newest first.
func (c *Client) BillingHistory(ctx context.Context, limit, offset int) ([]BillingRecord, error) {
	var records []BillingRecord
	path := fmt.Sprintf("/api/payments/billing/history?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// do performs one request/response cycle against the payment service:
// bearer auth, JSON body, envelope decode, error taxonomy mapping.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		return payment.ErrAuth
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return payment.Transient(fmt.Errorf("http request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return payment.Transient(fmt.Errorf("read response: %w", err))
	}

	// Classify by status code before touching the body: a proxy's 502 page
	// or a bare 401 is not guaranteed to be a JSON envelope.
	if httpResp.StatusCode == http.StatusUnauthorized {
		return payment.ErrAuth
	}
	if httpResp.StatusCode >= 500 {
		return payment.Transient(fmt.Errorf("payment api error: status=%d", httpResp.StatusCode))
	}

	var envelope api.Response[json.RawMessage]
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("unmarshal response: status=%d: %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode >= 400 || !envelope.Success {
		apiErr := &payment.APIError{StatusCode: httpResp.StatusCode}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = validate.SanitizeString(envelope.Error.Message)
		}
		return apiErr
	}

	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	return nil
}
