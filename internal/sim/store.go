package sim

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"adspark/internal/common/database"
	"adspark/internal/common/money"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateOrder inserts a new order record.
func (s *PostgresStore) CreateOrder(ctx context.Context, rec *OrderRecord) error {
	query := `
		INSERT INTO payment_orders (
			id, user_id, subscription_id, amount_minor, currency, status,
			receipt, payment_id, signature, error_message, deep_link, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	notes, _ := json.Marshal(rec.Order.Notes)

	_, err := s.pool.Exec(ctx, query,
		rec.Order.ID, rec.UserID, rec.Order.SubscriptionID,
		rec.Order.Amount.AmountMinor, rec.Order.Amount.Currency, rec.Order.Status,
		rec.Order.Receipt, nullStr(rec.PaymentID), nullStr(rec.Signature),
		nullStr(rec.ErrorMessage), nullStr(rec.DeepLink), notes,
		rec.Order.CreatedAt, rec.Order.UpdatedAt,
	)
	return err
}

const orderColumns = `
	id, user_id, subscription_id, amount_minor, currency, status,
	receipt, payment_id, signature, error_message, deep_link, notes,
	created_at, updated_at
`

// GetOrder retrieves an order by ID.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE id = $1`
	return scanOrder(s.pool.QueryRow(ctx, query, orderID))
}

// UpdateOrder persists order state after settlement or activation.
func (s *PostgresStore) UpdateOrder(ctx context.Context, rec *OrderRecord) error {
	query := `
		UPDATE payment_orders
		SET status = $2, payment_id = $3, signature = $4, error_message = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.Order.ID, rec.Order.Status,
		nullStr(rec.PaymentID), nullStr(rec.Signature), nullStr(rec.ErrorMessage),
		rec.Order.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// ListOrdersByUser lists a user's orders, newest first.
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*OrderRecord, error) {
	query := `SELECT ` + orderColumns + `
		FROM payment_orders WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanOrder(row pgx.Row) (*OrderRecord, error) {
	var rec OrderRecord
	var currency string
	var paymentID, signature, errorMessage, deepLink *string
	var notes []byte

	err := row.Scan(
		&rec.Order.ID, &rec.UserID, &rec.Order.SubscriptionID,
		&rec.Order.Amount.AmountMinor, &currency, &rec.Order.Status,
		&rec.Order.Receipt, &paymentID, &signature, &errorMessage, &deepLink, &notes,
		&rec.Order.CreatedAt, &rec.Order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	rec.Order.Amount.Currency = money.Currency(currency)
	if paymentID != nil {
		rec.PaymentID = *paymentID
	}
	if signature != nil {
		rec.Signature = *signature
	}
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if deepLink != nil {
		rec.DeepLink = *deepLink
	}
	if len(notes) > 0 {
		_ = json.Unmarshal(notes, &rec.Order.Notes)
	}

	return &rec, nil
}

// CreateSubscription inserts a new subscription record.
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *SubscriptionRecord) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_id, status, amount_minor, currency,
			started_at, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.Status,
		sub.Amount.AmountMinor, sub.Amount.Currency,
		sub.StartedAt, sub.ExpiresAt, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

// GetSubscriptionByUser retrieves the most recent subscription of a user.
func (s *PostgresStore) GetSubscriptionByUser(ctx context.Context, userID string) (*SubscriptionRecord, error) {
	query := `
		SELECT id, user_id, plan_id, status, amount_minor, currency,
			   started_at, expires_at, created_at, updated_at
		FROM subscriptions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 1
	`

	var sub SubscriptionRecord
	var currency string
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status,
		&sub.Amount.AmountMinor, &currency,
		&sub.StartedAt, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Amount.Currency = money.Currency(currency)
	return &sub, nil
}

// UpdateSubscription persists subscription state.
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *SubscriptionRecord) error {
	query := `
		UPDATE subscriptions
		SET status = $2, started_at = $3, expires_at = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		sub.ID, sub.Status, sub.StartedAt, sub.ExpiresAt, sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
