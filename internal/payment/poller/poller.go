// Package poller implements the asynchronous payment status polling engine.
// A session repeatedly queries the status of one order until a terminal
// answer is observed or the session's budget (attempts or wall clock) is
// exhausted. Wallet confirmation is human-paced, so polling is patient but
// never unbounded and never hammers the backend.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"adspark/internal/payment"
	"adspark/internal/payment/validate"
)

// Policy bounds one polling session. The defaults are tuning constants, not
// law; callers with different wallet UX can override them.
type Policy struct {
	MaxAttempts  int           `envconfig:"POLL_MAX_ATTEMPTS" default:"60"`
	InitialDelay time.Duration `envconfig:"POLL_INITIAL_DELAY" default:"2s"`
	MaxDelay     time.Duration `envconfig:"POLL_MAX_DELAY" default:"30s"`
	Timeout      time.Duration `envconfig:"POLL_TIMEOUT" default:"5m"`
}

// DefaultPolicy returns the product defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  60,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Timeout:      5 * time.Minute,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return &payment.ValidationError{Field: "max_attempts", Reason: "must be positive"}
	}
	if p.InitialDelay <= 0 {
		return &payment.ValidationError{Field: "initial_delay", Reason: "must be positive"}
	}
	if p.MaxDelay <= 0 {
		return &payment.ValidationError{Field: "max_delay", Reason: "must be positive"}
	}
	if p.InitialDelay > p.MaxDelay {
		return &payment.ValidationError{Field: "initial_delay", Reason: "must not exceed max_delay"}
	}
	if p.Timeout <= 0 {
		return &payment.ValidationError{Field: "timeout", Reason: "must be positive"}
	}
	return nil
}

// NextDelay advances the backoff schedule: delay grows by a factor of 1.5
// per pending response, capped at the policy maximum. Monotonically
// non-decreasing within a session.
func NextDelay(delay time.Duration, p Policy) time.Duration {
	next := delay + delay/2
	if next > p.MaxDelay {
		return p.MaxDelay
	}
	return next
}

// StatusFunc answers a single status query for an order. Connectivity
// failures should be wrapped with payment.Transient so the session retries
// them within its budget instead of failing outright.
type StatusFunc func(ctx context.Context, orderID string) (payment.Status, error)

// Poller creates polling sessions against one status source.
type Poller struct {
	check  StatusFunc
	logger *slog.Logger
}

// New creates a poller.
func New(check StatusFunc, logger *slog.Logger) *Poller {
	return &Poller{check: check, logger: logger}
}

// Session owns the state of one polling attempt: target order, attempt
// counter, current backoff delay, overall deadline and the cancellation
// flag. Exactly one status query is in flight at any moment; the next tick
// is scheduled only after the previous response is observed.
type Session struct {
	poller  *Poller
	orderID string
	policy  Policy

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// Start validates the inputs and returns a session ready to run. The order
// id must satisfy the opaque-token format; the policy bounds must hold.
func (p *Poller) Start(orderID string, policy Policy) (*Session, error) {
	if !validate.OrderID(orderID) {
		return nil, &payment.ValidationError{Field: "order_id", Reason: "must be 1-100 characters of [A-Za-z0-9_-]"}
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		poller:    p,
		orderID:   orderID,
		policy:    policy,
		cancelled: make(chan struct{}),
	}, nil
}

// Cancel stops the session. Idempotent; safe from any goroutine, before,
// during or after Run. Once Cancel returns, no further status query is
// issued and any in-flight query is aborted.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

// Run polls until the first terminal status and returns it. It fails with
// payment.ErrTimeout when the overall deadline elapses, with
// payment.ErrExhaustedAttempts when the attempt budget is consumed while
// the status stays pending, and with payment.ErrCancelled after Cancel.
// All timers are released on every exit path.
func (s *Session) Run(ctx context.Context) (payment.Status, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Propagate Cancel into the in-flight query.
	go func() {
		select {
		case <-s.cancelled:
			stop()
		case <-runCtx.Done():
		}
	}()

	deadline := time.NewTimer(s.policy.Timeout)
	defer deadline.Stop()

	delay := s.policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := s.gate(runCtx, deadline); err != nil {
			return payment.Status{}, err
		}

		status, err := s.poller.check(runCtx, s.orderID)
		if err != nil {
			if cErr := s.classify(runCtx, deadline); cErr != nil {
				return payment.Status{}, cErr
			}
			if !payment.IsTransient(err) {
				return payment.Status{}, fmt.Errorf("status check: %w", err)
			}
			lastErr = err
			s.poller.logger.Warn("transient status check failure",
				"order_id", s.orderID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			if status.Terminal() {
				s.poller.logger.Info("terminal payment status observed",
					"order_id", s.orderID,
					"status", status.State,
					"attempts", attempt,
				)
				return status, nil
			}
			lastErr = nil
		}

		if attempt == s.policy.MaxAttempts {
			break
		}

		if err := s.wait(runCtx, deadline, delay); err != nil {
			return payment.Status{}, err
		}
		delay = NextDelay(delay, s.policy)
	}

	if lastErr != nil {
		return payment.Status{}, fmt.Errorf("%w: last error: %v", payment.ErrExhaustedAttempts, lastErr)
	}
	return payment.Status{}, payment.ErrExhaustedAttempts
}

// gate refuses to issue a query once the session is cancelled, the deadline
// has elapsed or the caller's context is done.
func (s *Session) gate(ctx context.Context, deadline *time.Timer) error {
	select {
	case <-s.cancelled:
		return payment.ErrCancelled
	default:
	}
	select {
	case <-deadline.C:
		return payment.ErrTimeout
	default:
	}
	if err := ctx.Err(); err != nil {
		return payment.ErrCancelled
	}
	return nil
}

// classify maps a failed query to its session-level cause, if any. A query
// aborted by Cancel must surface as ErrCancelled, not as a network error.
func (s *Session) classify(ctx context.Context, deadline *time.Timer) error {
	select {
	case <-s.cancelled:
		return payment.ErrCancelled
	default:
	}
	select {
	case <-deadline.C:
		return payment.ErrTimeout
	default:
	}
	if ctx.Err() != nil {
		return payment.ErrCancelled
	}
	return nil
}

// wait sleeps for the current backoff delay, interruptible by cancellation
// and the overall deadline.
func (s *Session) wait(ctx context.Context, deadline *time.Timer, delay time.Duration) error {
	tick := time.NewTimer(delay)
	defer tick.Stop()

	select {
	case <-tick.C:
		return nil
	case <-s.cancelled:
		return payment.ErrCancelled
	case <-deadline.C:
		return payment.ErrTimeout
	case <-ctx.Done():
		select {
		case <-s.cancelled:
			return payment.ErrCancelled
		default:
		}
		return payment.ErrCancelled
	}
}
