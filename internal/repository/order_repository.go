package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vendezap/pixstore-bot/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, session_id, chat_id, product_id, fee_id, kind, amount, currency, pix_tx_id, COALESCE(pix_code, ''), COALESCE(qr_code_url, ''), status, COALESCE(raw_payload, ''), created_at, updated_at`

// Create inserts the order and fills in its generated id and timestamps.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	const query = `
INSERT INTO orders (session_id, chat_id, product_id, fee_id, kind, amount, currency, pix_tx_id, pix_code, qr_code_url, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var feeID sql.NullInt64
	if o.FeeID != nil {
		feeID = sql.NullInt64{Int64: *o.FeeID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, o.SessionID, o.ChatID, o.ProductID, feeID, o.Kind,
		o.Amount, o.Currency, o.PixTxID, o.PixCode, o.QRCodeURL, o.Status, o.RawPayload)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order last insert id: %w", err)
	}
	stored, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if stored != nil {
		*o = *stored
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) FindByPixTxID(ctx context.Context, txID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE pix_tx_id = ?`
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, txID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order by tx: %w", err)
	}
	return o, nil
}

// MarkPaid transitions a pending order to paid. It reports whether the row
// changed, so a repeated webhook for the same transaction is a no-op.
func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, rawPayload string) (bool, error) {
	const query = `UPDATE orders SET status = ?, raw_payload = ?, updated_at = NOW() WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, models.OrderPaid, rawPayload, id, models.OrderPending)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order paid rows: %w", err)
	}
	return n > 0, nil
}

func (r *OrderRepository) MarkStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	const query = `UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("mark order %s: %w", status, err)
	}
	return nil
}

func (r *OrderRepository) ListByChat(ctx context.Context, chatID int64) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE chat_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var feeID sql.NullInt64
	if err := row.Scan(&o.ID, &o.SessionID, &o.ChatID, &o.ProductID, &feeID, &o.Kind, &o.Amount,
		&o.Currency, &o.PixTxID, &o.PixCode, &o.QRCodeURL, &o.Status, &o.RawPayload,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if feeID.Valid {
		o.FeeID = &feeID.Int64
	}
	return &o, nil
}
