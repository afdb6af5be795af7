// Package payment contains the core types of the UPI payment confirmation
// subsystem: orders, poll results and the validated activation payload.
package payment

import (
	"errors"
	"time"

	"adspark/internal/common/money"
)

// OrderStatus represents the lifecycle status of a payment order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderAttempted OrderStatus = "attempted"
	OrderPaid      OrderStatus = "paid"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order represents one attempted payment. The record is owned by the
// backend; clients hold an immutable snapshot.
type Order struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	Amount         money.Money       `json:"amount"`
	Status         OrderStatus       `json:"status"`
	Receipt        string            `json:"receipt"`
	Notes          map[string]string `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewOrder creates an order in the created state.
func NewOrder(id, subscriptionID, receipt string, amount money.Money) (*Order, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if subscriptionID == "" {
		return nil, errors.New("subscription_id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	return &Order{
		ID:             id,
		SubscriptionID: subscriptionID,
		Amount:         amount,
		Status:         OrderCreated,
		Receipt:        receipt,
		Notes:          make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkAttempted transitions the order to attempted, once a wallet attempt
// has registered against it.
func (o *Order) MarkAttempted() error {
	if o.Status != OrderCreated {
		return errors.New("can only attempt created orders")
	}
	o.Status = OrderAttempted
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkPaid transitions the order to paid.
func (o *Order) MarkPaid() error {
	if o.Status != OrderCreated && o.Status != OrderAttempted {
		return errors.New("can only pay created or attempted orders")
	}
	o.Status = OrderPaid
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions the order to failed.
func (o *Order) MarkFailed() error {
	if o.IsTerminal() {
		return errors.New("cannot fail a terminal order")
	}
	o.Status = OrderFailed
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCancelled transitions the order to cancelled.
func (o *Order) MarkCancelled() error {
	if o.IsTerminal() {
		return errors.New("cannot cancel a terminal order")
	}
	o.Status = OrderCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal returns true if the order is in a terminal state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderPaid || o.Status == OrderFailed || o.Status == OrderCancelled
}

// State represents the outcome of a single status query. Anything other
// than StatePending is terminal and ends polling.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Status is a point-in-time answer to "what is the status of this order?".
// A fresh value is produced on every poll; values are never mutated, only
// superseded.
type Status struct {
	OrderID   string `json:"order_id"`
	State     State  `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Reason    string `json:"error_message,omitempty"`
}

// Terminal returns true for any state other than pending.
func (s Status) Terminal() bool {
	return s.State != StatePending
}

// ValidatedPaymentData is the reconstructed, sanitized activation payload.
// Its existence is the proof that every field passed its format check; it
// is produced only by validate.PaymentData and consumed exactly once by the
// activation call.
type ValidatedPaymentData struct {
	PaymentID      string `json:"payment_id"`
	OrderID        string `json:"order_id"`
	Signature      string `json:"signature"`
	SubscriptionID string `json:"subscription_id"`
}
