package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/novaxell/dispenser/internal/models"
)

// ErrOrderNotFound is returned when no order matches a lookup.
var ErrOrderNotFound = fmt.Errorf("%w: order", models.ErrNotFound)

const orderColumns = `order_id, tag, total, currency, status, created_at, txn_id, payer_email, paid_at`

// PostgresOrderRepository is the order ledger. Orders are append-only except
// for the single pending to paid transition done by MarkPaid.
type PostgresOrderRepository struct {
	DB *sql.DB
}

// NewPostgresOrderRepository creates a PostgresOrderRepository using the provided *sql.DB.
func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{DB: db}
}

// CreateOrder inserts o as a pending order unless its id is already known.
// It reports whether a row was created.
func (s *PostgresOrderRepository) CreateOrder(ctx context.Context, o models.Order) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO orders (order_id, tag, total, currency, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (order_id) DO NOTHING
	`, o.OrderID, o.Tag, o.Total, o.Currency, o.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("CreateOrder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CreateOrder: %w", err)
	}
	return n == 1, nil
}

// GetOrder loads an order by id. Returns ErrOrderNotFound when absent.
func (s *PostgresOrderRepository) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	return scanOrder(row)
}

// FindOrderForNotification finds the order a notification refers to: the one
// whose id equals custom, else equals invoice, else is contained in memo.
// Empty identifiers never match.
func (s *PostgresOrderRepository) FindOrderForNotification(ctx context.Context, custom, invoice, memo string) (models.Order, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 <> '' AND order_id = $1)
		   OR ($2 <> '' AND order_id = $2)
		   OR ($3 <> '' AND strpos($3, order_id) > 0)
		ORDER BY CASE WHEN order_id = $1 THEN 0 WHEN order_id = $2 THEN 1 ELSE 2 END, created_at
		LIMIT 1
	`, custom, invoice, memo)
	return scanOrder(row)
}

// FindPendingByAmount returns the oldest pending order with exactly this
// total and a case-insensitively equal currency.
func (s *PostgresOrderRepository) FindPendingByAmount(ctx context.Context, total, currency string) (models.Order, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending' AND total = $1 AND upper(currency) = upper($2)
		ORDER BY created_at
		LIMIT 1
	`, total, currency)
	return scanOrder(row)
}

// MarkPaid flips a pending order to paid and stamps the payment fields.
// It reports false, without writing, when the order is not pending.
func (s *PostgresOrderRepository) MarkPaid(ctx context.Context, orderID, txnID, payer string, paidAt time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE orders SET status = 'paid', txn_id = $2, payer_email = $3, paid_at = $4
		WHERE order_id = $1 AND status = 'pending'
	`, orderID, txnID, payer, paidAt)
	if err != nil {
		return false, fmt.Errorf("MarkPaid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkPaid: %w", err)
	}
	return n == 1, nil
}

func scanOrder(row *sql.Row) (models.Order, error) {
	var (
		o      models.Order
		status string
		paidAt sql.NullTime
	)
	err := row.Scan(&o.OrderID, &o.Tag, &o.Total, &o.Currency, &status, &o.CreatedAt, &o.TxnID, &o.PayerEmail, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.Status = models.OrderStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}
