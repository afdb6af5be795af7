// Package flow orchestrates one payment attempt end to end: order creation,
// wallet hand-off, status polling, payload verification and subscription
// activation. Every stage is cancellable through a single token created per
// attempt, and every failure surfaces with its own type so the caller can
// offer the right recovery action.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"adspark/internal/common/money"
	"adspark/internal/payment"
	"adspark/internal/payment/gateway"
	"adspark/internal/payment/poller"
	"adspark/internal/payment/upi"
	"adspark/internal/payment/validate"
)

// State is the orchestrator's position in a payment attempt.
type State string

const (
	StateIdle             State = "idle"
	StateOrderCreated     State = "order_created"
	StatePaymentInitiated State = "payment_initiated"
	StateCheckingPayment  State = "checking_payment"
	StateVerifying        State = "verifying"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Gateway is the slice of the payment service the flow needs.
type Gateway interface {
	CreateOrder(ctx context.Context, subscriptionID string, amount money.Money) (*gateway.CreateOrderResult, error)
	Status(ctx context.Context, orderID string) (payment.Status, error)
	ActivateSubscription(ctx context.Context, data *payment.ValidatedPaymentData) error
}

// Outcome is reported to the observer when an attempt reaches a terminal
// state. Cancelled outcomes carry no error; teardown is silent.
type Outcome struct {
	State     State
	OrderID   string
	PaymentID string
	Err       error
}

// Reporter receives terminal outcomes. Injected rather than a process-wide
// singleton so the flow is testable without a UI runtime.
type Reporter func(Outcome)

// Flow runs payment attempts. One attempt at a time: starting a new attempt
// cancels any prior polling session for the same flow.
type Flow struct {
	gateway Gateway
	wallet  upi.WalletOpener
	poller  *poller.Poller
	policy  poller.Policy
	report  Reporter
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	session *poller.Session
}

// New creates a flow. A nil reporter is allowed and means no observer.
func New(gw Gateway, wallet upi.WalletOpener, policy poller.Policy, report Reporter, logger *slog.Logger) *Flow {
	f := &Flow{
		gateway: gw,
		wallet:  wallet,
		policy:  policy,
		report:  report,
		logger:  logger,
		state:   StateIdle,
	}
	f.poller = poller.New(gw.Status, logger)
	return f
}

// State returns the current state of the flow.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Cancel aborts the attempt in flight, if any: the polling session stops,
// the in-flight network call is torn down, and the flow returns to idle.
// Idempotent; safe from any goroutine.
func (f *Flow) Cancel() {
	f.mu.Lock()
	session := f.session
	cancel := f.cancel
	f.state = StateIdle
	f.mu.Unlock()

	if session != nil {
		session.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// Result is the outcome of a completed attempt.
type Result struct {
	Order     *payment.Order
	PaymentID string
}

// Run executes one payment attempt and blocks until it settles. Inputs are
// validated before any network call. The returned error is ErrCancelled
// after Cancel, ErrTimeout/ErrExhaustedAttempts when the polling budget ran
// out, a PaymentError for a definitive negative outcome, a ValidationError
// for a malformed payload, or ErrAuth when no token is available.
func (f *Flow) Run(ctx context.Context, subscriptionID string, amount money.Money) (*Result, error) {
	if !validate.SubscriptionID(subscriptionID) {
		return nil, &payment.ValidationError{Field: "subscription_id", Reason: "must be 1-50 characters of [A-Za-z0-9_-]"}
	}
	if !validate.Amount(amount.AmountMinor) {
		return nil, &payment.ValidationError{Field: "amount", Reason: "out of payable range"}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	if f.session != nil {
		// One active polling session per flow; a new attempt supersedes
		// the old one.
		f.session.Cancel()
		f.session = nil
	}
	f.cancel = cancel
	f.state = StateIdle
	f.mu.Unlock()

	result, err := f.run(attemptCtx, subscriptionID, amount)

	f.mu.Lock()
	f.session = nil
	f.cancel = nil
	if err != nil {
		if errors.Is(err, payment.ErrCancelled) {
			f.state = StateIdle
		} else {
			f.state = StateFailed
		}
	} else {
		f.state = StateCompleted
	}
	state := f.state
	f.mu.Unlock()

	if f.report != nil {
		outcome := Outcome{State: state}
		if result != nil {
			outcome.OrderID = result.Order.ID
			outcome.PaymentID = result.PaymentID
		}
		if err != nil && !errors.Is(err, payment.ErrCancelled) {
			outcome.Err = err
		}
		f.report(outcome)
	}

	return result, err
}

func (f *Flow) run(ctx context.Context, subscriptionID string, amount money.Money) (*Result, error) {
	created, err := f.gateway.CreateOrder(ctx, subscriptionID, amount)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order := created.Order
	f.setState(StateOrderCreated)

	if err := upi.Validate(created.UPIDeepLink); err != nil {
		return nil, err
	}

	if err := f.wallet.Open(ctx, created.UPIDeepLink); err != nil {
		// The hand-off context failed to open; the attempt stays where it
		// was and the caller decides how to retry.
		return nil, fmt.Errorf("open wallet app: %w", err)
	}
	f.setState(StatePaymentInitiated)

	session, err := f.poller.Start(order.ID, f.policy)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.session = session
	f.mu.Unlock()

	f.setState(StateCheckingPayment)
	status, err := session.Run(ctx)
	if err != nil {
		return nil, err
	}

	if status.State != payment.StateSucceeded {
		return nil, &payment.PaymentError{
			OrderID: order.ID,
			State:   status.State,
			Reason:  status.Reason,
		}
	}

	f.setState(StateVerifying)
	data := validate.PaymentData(map[string]any{
		"payment_id":      status.PaymentID,
		"order_id":        status.OrderID,
		"signature":       status.Signature,
		"subscription_id": subscriptionID,
	})
	if data == nil {
		return nil, &payment.ValidationError{Field: "payment_data", Reason: "confirmation payload failed verification"}
	}

	if err := f.gateway.ActivateSubscription(ctx, data); err != nil {
		return nil, fmt.Errorf("activate subscription: %w", err)
	}

	f.logger.Info("payment flow completed",
		"order_id", order.ID,
		"payment_id", status.PaymentID,
		"subscription_id", subscriptionID,
	)

	return &Result{Order: order, PaymentID: status.PaymentID}, nil
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}
