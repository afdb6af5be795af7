// Package sim is a local stand-in for the production payment service. It
// serves the payment API surface against Postgres and settles orders on a
// timer, so the client flow and poller can be exercised end to end without
// a real UPI wallet. It is development tooling, not a backend.
package sim

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"adspark/internal/common/database"
	"adspark/internal/common/events"
	"adspark/internal/common/money"
	"adspark/internal/payment"
	"adspark/internal/payment/upi"
)

// Config holds simulator behavior.
type Config struct {
	PayeeVPA      string        `envconfig:"SIM_PAYEE_VPA" default:"adspark@upi"`
	PayeeName     string        `envconfig:"SIM_PAYEE_NAME" default:"Adspark Media"`
	SigningSecret string        `envconfig:"SIM_SIGNING_SECRET" default:"dev-secret"`
	SettleAfter   time.Duration `envconfig:"SIM_SETTLE_AFTER" default:"10s"`
	SettleOutcome string        `envconfig:"SIM_SETTLE_OUTCOME" default:"succeeded"`
	FailureReason string        `envconfig:"SIM_FAILURE_REASON" default:"Payment declined by bank"`
}

// Store persists simulator orders and subscriptions.
type Store interface {
	CreateOrder(ctx context.Context, rec *OrderRecord) error
	GetOrder(ctx context.Context, orderID string) (*OrderRecord, error)
	UpdateOrder(ctx context.Context, rec *OrderRecord) error
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*OrderRecord, error)

	CreateSubscription(ctx context.Context, sub *SubscriptionRecord) error
	GetSubscriptionByUser(ctx context.Context, userID string) (*SubscriptionRecord, error)
	UpdateSubscription(ctx context.Context, sub *SubscriptionRecord) error
}

// OrderRecord is the simulator's view of a payment order.
type OrderRecord struct {
	Order        payment.Order
	UserID       string
	PaymentID    string
	Signature    string
	ErrorMessage string
	DeepLink     string
}

// SubscriptionRecord is the simulator's view of a subscription.
type SubscriptionRecord struct {
	ID        string
	UserID    string
	PlanID    string
	Status    string // pending, active, cancelled
	Amount    money.Money
	StartedAt *time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service implements the simulated payment service.
type Service struct {
	config    Config
	store     Store
	publisher events.EventPublisher
	logger    *slog.Logger
}

// NewService creates a simulator service. A nil publisher disables events.
func NewService(cfg Config, store Store, publisher events.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		config:    cfg,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateOrderRequest is the request to create a payment order.
type CreateOrderRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required,max=50"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
}

// CreateOrderResponse mirrors the production create-payment-order payload.
type CreateOrderResponse struct {
	Order       *payment.Order `json:"order"`
	UPIDeepLink string         `json:"upi_deep_link"`
	QRCodeURL   string         `json:"qr_code_url,omitempty"`
}

// CreateOrder creates an order, issues its deep link and schedules the
// configured auto-settlement.
func (s *Service) CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	orderID := fmt.Sprintf("order_%s", ulid.Make().String())
	receipt := fmt.Sprintf("rcpt_%s", ulid.Make().String())
	amount := money.Paisa(req.Amount)

	order, err := payment.NewOrder(orderID, req.SubscriptionID, receipt, amount)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	deepLink, err := upi.BuildLink(upi.LinkParams{
		PayeeAddress: s.config.PayeeVPA,
		PayeeName:    s.config.PayeeName,
		TxnRef:       orderID,
		Note:         "Adspark subscription",
		Amount:       amount,
	})
	if err != nil {
		return nil, fmt.Errorf("build deep link: %w", err)
	}

	rec := &OrderRecord{
		Order:    *order,
		UserID:   userID,
		DeepLink: deepLink,
	}
	if err := s.store.CreateOrder(ctx, rec); err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	s.publish(ctx, events.EventOrderCreated, orderID, &events.OrderCreatedData{
		OrderID:        orderID,
		SubscriptionID: req.SubscriptionID,
		AmountMinor:    amount.AmountMinor,
		Currency:       string(amount.Currency),
		Receipt:        receipt,
	})

	s.logger.Info("order created",
		"order_id", orderID,
		"subscription_id", req.SubscriptionID,
		"amount", amount.AmountMinor,
		"settle_after", s.config.SettleAfter,
	)

	// Emulate the out-of-band wallet confirmation.
	time.AfterFunc(s.config.SettleAfter, func() {
		s.settle(context.Background(), orderID)
	})

	return &CreateOrderResponse{
		Order:       order,
		UPIDeepLink: deepLink,
	}, nil
}

// settle flips a pending order to the configured outcome, as a wallet
// confirmation would.
func (s *Service) settle(ctx context.Context, orderID string) {
	rec, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("settle: order lookup failed", "order_id", orderID, "error", err)
		return
	}
	if rec.Order.IsTerminal() {
		return
	}

	if err := rec.Order.MarkAttempted(); err == nil {
		rec.PaymentID = fmt.Sprintf("pay_%s", ulid.Make().String())
	}

	switch s.config.SettleOutcome {
	case "failed":
		_ = rec.Order.MarkFailed()
		rec.ErrorMessage = s.config.FailureReason
		s.publish(ctx, events.EventPaymentFailed, orderID, &events.PaymentOutcomeData{
			OrderID:      orderID,
			AmountMinor:  rec.Order.Amount.AmountMinor,
			Currency:     string(rec.Order.Amount.Currency),
			ErrorMessage: rec.ErrorMessage,
		})
	case "cancelled":
		_ = rec.Order.MarkCancelled()
		rec.ErrorMessage = "Payment cancelled in wallet app"
		s.publish(ctx, events.EventPaymentCancelled, orderID, &events.PaymentOutcomeData{
			OrderID:     orderID,
			AmountMinor: rec.Order.Amount.AmountMinor,
			Currency:    string(rec.Order.Amount.Currency),
		})
	default:
		_ = rec.Order.MarkPaid()
		rec.Signature = s.Sign(orderID, rec.PaymentID)
		s.publish(ctx, events.EventPaymentSucceeded, orderID, &events.PaymentOutcomeData{
			OrderID:     orderID,
			PaymentID:   rec.PaymentID,
			AmountMinor: rec.Order.Amount.AmountMinor,
			Currency:    string(rec.Order.Amount.Currency),
		})
	}

	if err := s.store.UpdateOrder(ctx, rec); err != nil {
		s.logger.Error("settle: order update failed", "order_id", orderID, "error", err)
		return
	}

	s.logger.Info("order settled",
		"order_id", orderID,
		"status", rec.Order.Status,
		"payment_id", rec.PaymentID,
	)
}

// Sign computes the confirmation signature for an order/payment pair.
func (s *Service) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(s.config.SigningSecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

// StatusResponse mirrors the production status payload.
type StatusResponse struct {
	Status       string `json:"status"`
	PaymentID    string `json:"payment_id,omitempty"`
	Signature    string `json:"signature,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Status answers a status query for one order.
func (s *Service) Status(ctx context.Context, orderID string) (*StatusResponse, error) {
	rec, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{PaymentID: rec.PaymentID, ErrorMessage: rec.ErrorMessage}
	switch rec.Order.Status {
	case payment.OrderPaid:
		resp.Status = string(payment.StateSucceeded)
		resp.Signature = rec.Signature
	case payment.OrderFailed:
		resp.Status = string(payment.StateFailed)
	case payment.OrderCancelled:
		resp.Status = string(payment.StateCancelled)
	default:
		resp.Status = string(payment.StatePending)
	}
	return resp, nil
}

// ActivateRequest is the activation payload.
type ActivateRequest struct {
	PaymentID      string `json:"payment_id" validate:"required,max=100"`
	OrderID        string `json:"order_id" validate:"required,max=100"`
	Signature      string `json:"signature" validate:"required,max=512"`
	SubscriptionID string `json:"subscription_id" validate:"required,max=50"`
}

// Activate verifies the confirmation payload and activates the
// subscription the order was created for.
func (s *Service) Activate(ctx context.Context, userID string, req *ActivateRequest) error {
	rec, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if rec.Order.Status != payment.OrderPaid {
		return fmt.Errorf("order %s is not paid", req.OrderID)
	}
	if rec.PaymentID != req.PaymentID {
		return fmt.Errorf("payment id mismatch for order %s", req.OrderID)
	}
	if !hmac.Equal([]byte(rec.Signature), []byte(req.Signature)) {
		return fmt.Errorf("signature verification failed for order %s", req.OrderID)
	}

	now := time.Now().UTC()
	expiry := now.AddDate(0, 1, 0)

	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		if !database.IsNotFound(err) {
			return err
		}
		sub = &SubscriptionRecord{
			ID:        req.SubscriptionID,
			UserID:    userID,
			PlanID:    rec.Order.SubscriptionID,
			Amount:    rec.Order.Amount,
			CreatedAt: now,
		}
		sub.Status = "active"
		sub.StartedAt = &now
		sub.ExpiresAt = &expiry
		sub.UpdatedAt = now
		if err := s.store.CreateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
	} else {
		sub.Status = "active"
		sub.StartedAt = &now
		sub.ExpiresAt = &expiry
		sub.UpdatedAt = now
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
	}

	s.publish(ctx, events.EventSubscriptionActivated, sub.ID, &events.SubscriptionActivatedData{
		SubscriptionID: sub.ID,
		OrderID:        req.OrderID,
		PaymentID:      req.PaymentID,
		ActivatedAt:    now,
	})

	s.logger.Info("subscription activated",
		"subscription_id", sub.ID,
		"order_id", req.OrderID,
		"user_id", userID,
	)
	return nil
}

// CreateSubscriptionRequest provisions a pending subscription.
type CreateSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=50"`
}

// CreateSubscription provisions a pending subscription for a plan.
func (s *Service) CreateSubscription(ctx context.Context, userID string, req *CreateSubscriptionRequest) (*SubscriptionRecord, error) {
	now := time.Now().UTC()
	sub := &SubscriptionRecord{
		ID:        fmt.Sprintf("sub_%s", ulid.Make().String()),
		UserID:    userID,
		PlanID:    req.PlanID,
		Status:    "pending",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// CurrentSubscription returns the caller's subscription.
func (s *Service) CurrentSubscription(ctx context.Context, userID string) (*SubscriptionRecord, error) {
	return s.store.GetSubscriptionByUser(ctx, userID)
}

// CancelSubscription cancels the caller's subscription.
func (s *Service) CancelSubscription(ctx context.Context, userID string) error {
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return err
	}
	sub.Status = "cancelled"
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	s.publish(ctx, events.EventSubscriptionCancelled, sub.ID, map[string]string{
		"subscription_id": sub.ID,
	})
	return nil
}

// BillingRecord is one entry of a user's billing history.
type BillingRecord struct {
	OrderID   string      `json:"order_id"`
	PaymentID string      `json:"payment_id,omitempty"`
	Amount    money.Money `json:"amount"`
	Status    string      `json:"status"`
	PaidAt    *time.Time  `json:"paid_at,omitempty"`
}

// BillingHistory lists a user's past orders, newest first.
func (s *Service) BillingHistory(ctx context.Context, userID string, limit, offset int) ([]BillingRecord, error) {
	recs, err := s.store.ListOrdersByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]BillingRecord, 0, len(recs))
	for _, rec := range recs {
		br := BillingRecord{
			OrderID:   rec.Order.ID,
			PaymentID: rec.PaymentID,
			Amount:    rec.Order.Amount,
			Status:    string(rec.Order.Status),
		}
		if rec.Order.Status == payment.OrderPaid {
			paidAt := rec.Order.UpdatedAt
			br.PaidAt = &paidAt
		}
		out = append(out, br)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, eventType, aggregateID string, data any) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, "payment", aggregateID, data)
	if err != nil {
		s.logger.Warn("event marshal failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", "type", eventType, "error", err)
	}
}
