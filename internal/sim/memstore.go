package sim

import (
	"context"
	"sort"
	"sync"

	"adspark/internal/common/database"
)

// MemoryStore is an in-process Store. It backs tests and lets the
// simulator run without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*OrderRecord
	subs   map[string]*SubscriptionRecord // keyed by user id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*OrderRecord),
		subs:   make(map[string]*SubscriptionRecord),
	}
}

func (m *MemoryStore) CreateOrder(_ context.Context, rec *OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.orders[rec.Order.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (*OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, rec *OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[rec.Order.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *rec
	m.orders[rec.Order.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOrdersByUser(_ context.Context, userID string, limit, offset int) ([]*OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*OrderRecord
	for _, rec := range m.orders {
		if rec.UserID == userID {
			cp := *rec
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Order.CreatedAt.After(all[j].Order.CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) CreateSubscription(_ context.Context, sub *SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetSubscriptionByUser(_ context.Context, userID string) (*SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, sub *SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.UserID]; !ok {
		return database.ErrNotFound
	}
	cp := *sub
	m.subs[sub.UserID] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
