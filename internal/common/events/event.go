package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types emitted by the payment service
const (
	EventOrderCreated     = "payment.order.created"
	EventOrderAttempted   = "payment.order.attempted"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"

	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// OrderCreatedData is the data for payment.order.created events
type OrderCreatedData struct {
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
}

// PaymentOutcomeData is the data for payment.succeeded/failed/cancelled events
type PaymentOutcomeData struct {
	OrderID      string `json:"order_id"`
	PaymentID    string `json:"payment_id,omitempty"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// SubscriptionActivatedData is the data for subscription.activated events
type SubscriptionActivatedData struct {
	SubscriptionID string    `json:"subscription_id"`
	OrderID        string    `json:"order_id"`
	PaymentID      string    `json:"payment_id"`
	ActivatedAt    time.Time `json:"activated_at"`
}
