package sim

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adspark/internal/common/database"
	"adspark/internal/common/events"
	"adspark/internal/payment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturingPublisher records published events.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *capturingPublisher) Publish(_ context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func testConfig() Config {
	return Config{
		PayeeVPA:      "adspark@upi",
		PayeeName:     "Adspark Media",
		SigningSecret: "test-secret",
		SettleAfter:   20 * time.Millisecond,
		SettleOutcome: "succeeded",
		FailureReason: "declined",
	}
}

func createAndSettle(t *testing.T, svc *Service, store *MemoryStore) *OrderRecord {
	t.Helper()
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, "user_1", &CreateOrderRequest{SubscriptionID: "sub_basic", Amount: 49900})
	require.NoError(t, err)

	var rec *OrderRecord
	require.Eventually(t, func() bool {
		r, err := store.GetOrder(ctx, resp.Order.ID)
		if err != nil || !r.Order.IsTerminal() {
			return false
		}
		rec = r
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestCreateOrderAndSettle(t *testing.T) {
	t.Run("ok, settles to paid with payment id and signature", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &capturingPublisher{}
		svc := NewService(testConfig(), store, pub, testLogger())

		resp, err := svc.CreateOrder(context.Background(), "user_1", &CreateOrderRequest{SubscriptionID: "sub_basic", Amount: 49900})
		require.NoError(t, err)
		assert.Equal(t, payment.OrderCreated, resp.Order.Status)
		assert.Contains(t, resp.UPIDeepLink, "upi://pay")

		rec := createAndSettle(t, svc, store)
		assert.Equal(t, payment.OrderPaid, rec.Order.Status)
		assert.NotEmpty(t, rec.PaymentID)
		assert.Equal(t, svc.Sign(rec.Order.ID, rec.PaymentID), rec.Signature)

		assert.Contains(t, pub.types(), events.EventOrderCreated)
		assert.Contains(t, pub.types(), events.EventPaymentSucceeded)
	})

	t.Run("ok, failed outcome records the reason", func(t *testing.T) {
		store := NewMemoryStore()
		cfg := testConfig()
		cfg.SettleOutcome = "failed"
		svc := NewService(cfg, store, nil, testLogger())

		rec := createAndSettle(t, svc, store)
		assert.Equal(t, payment.OrderFailed, rec.Order.Status)
		assert.Equal(t, "declined", rec.ErrorMessage)
		assert.Empty(t, rec.Signature)
	})

	t.Run("ok, cancelled outcome", func(t *testing.T) {
		store := NewMemoryStore()
		cfg := testConfig()
		cfg.SettleOutcome = "cancelled"
		svc := NewService(cfg, store, nil, testLogger())

		rec := createAndSettle(t, svc, store)
		assert.Equal(t, payment.OrderCancelled, rec.Order.Status)
	})
}

func TestStatus(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(testConfig(), store, nil, testLogger())

	t.Run("ok, pending before settlement", func(t *testing.T) {
		resp, err := svc.CreateOrder(context.Background(), "user_1", &CreateOrderRequest{SubscriptionID: "sub_basic", Amount: 100})
		require.NoError(t, err)

		status, err := svc.Status(context.Background(), resp.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, string(payment.StatePending), status.Status)
		assert.Empty(t, status.Signature)
	})

	t.Run("ok, succeeded exposes payment id and signature", func(t *testing.T) {
		rec := createAndSettle(t, svc, store)

		status, err := svc.Status(context.Background(), rec.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, string(payment.StateSucceeded), status.Status)
		assert.Equal(t, rec.PaymentID, status.PaymentID)
		assert.Equal(t, rec.Signature, status.Signature)
	})

	t.Run("fail, unknown order", func(t *testing.T) {
		_, err := svc.Status(context.Background(), "order_missing")
		require.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestActivate(t *testing.T) {
	t.Run("ok, activates the subscription", func(t *testing.T) {
		store := NewMemoryStore()
		pub := &capturingPublisher{}
		svc := NewService(testConfig(), store, pub, testLogger())

		rec := createAndSettle(t, svc, store)

		err := svc.Activate(context.Background(), "user_1", &ActivateRequest{
			PaymentID:      rec.PaymentID,
			OrderID:        rec.Order.ID,
			Signature:      rec.Signature,
			SubscriptionID: "sub_basic",
		})
		require.NoError(t, err)

		sub, err := store.GetSubscriptionByUser(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, "active", sub.Status)
		require.NotNil(t, sub.StartedAt)
		require.NotNil(t, sub.ExpiresAt)

		assert.Contains(t, pub.types(), events.EventSubscriptionActivated)
	})

	t.Run("fail, rejects a forged signature", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewService(testConfig(), store, nil, testLogger())

		rec := createAndSettle(t, svc, store)

		err := svc.Activate(context.Background(), "user_1", &ActivateRequest{
			PaymentID:      rec.PaymentID,
			OrderID:        rec.Order.ID,
			Signature:      "forged",
			SubscriptionID: "sub_basic",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signature")
	})

	t.Run("fail, rejects a mismatched payment id", func(t *testing.T) {
		store := NewMemoryStore()
		svc := NewService(testConfig(), store, nil, testLogger())

		rec := createAndSettle(t, svc, store)

		err := svc.Activate(context.Background(), "user_1", &ActivateRequest{
			PaymentID:      "pay_other",
			OrderID:        rec.Order.ID,
			Signature:      rec.Signature,
			SubscriptionID: "sub_basic",
		})
		require.Error(t, err)
	})

	t.Run("fail, rejects an unpaid order", func(t *testing.T) {
		store := NewMemoryStore()
		cfg := testConfig()
		cfg.SettleAfter = time.Hour // never settles within the test
		svc := NewService(cfg, store, nil, testLogger())

		resp, err := svc.CreateOrder(context.Background(), "user_1", &CreateOrderRequest{SubscriptionID: "sub_basic", Amount: 100})
		require.NoError(t, err)

		err = svc.Activate(context.Background(), "user_1", &ActivateRequest{
			PaymentID:      "pay_x",
			OrderID:        resp.Order.ID,
			Signature:      "sig",
			SubscriptionID: "sub_basic",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not paid")
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(testConfig(), store, nil, testLogger())
	ctx := context.Background()

	t.Run("ok, create then fetch then cancel", func(t *testing.T) {
		sub, err := svc.CreateSubscription(ctx, "user_1", &CreateSubscriptionRequest{PlanID: "plan_pro"})
		require.NoError(t, err)
		assert.Equal(t, "pending", sub.Status)

		current, err := svc.CurrentSubscription(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, current.ID)

		require.NoError(t, svc.CancelSubscription(ctx, "user_1"))

		current, err = svc.CurrentSubscription(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "cancelled", current.Status)
	})

	t.Run("fail, cancel without a subscription", func(t *testing.T) {
		require.ErrorIs(t, svc.CancelSubscription(ctx, "user_none"), database.ErrNotFound)
	})
}

func TestBillingHistory(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(testConfig(), store, nil, testLogger())

	rec := createAndSettle(t, svc, store)

	records, err := svc.BillingHistory(context.Background(), "user_1", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.Order.ID, records[0].OrderID)
	assert.Equal(t, string(payment.OrderPaid), records[0].Status)
	require.NotNil(t, records[0].PaidAt)
}
