package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vendezap/pixstore-bot/internal/models"
)

type FeeRepository struct {
	db *sql.DB
}

func NewFeeRepository(db *sql.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

func (r *FeeRepository) DB() *sql.DB {
	return r.db
}

const feeColumns = `id, product_id, name, amount, COALESCE(description, ''), COALESCE(payment_message, ''), COALESCE(button_text, ''), is_active, display_order, created_at, updated_at`

func (r *FeeRepository) ListByProduct(ctx context.Context, productID int64) ([]models.Fee, error) {
	query := `SELECT ` + feeColumns + ` FROM fees WHERE product_id = ? ORDER BY display_order ASC`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list fees: %w", err)
	}
	defer rows.Close()
	return collectFees(rows)
}

func (r *FeeRepository) ListActiveByProduct(ctx context.Context, productID int64) ([]models.Fee, error) {
	query := `SELECT ` + feeColumns + ` FROM fees WHERE product_id = ? AND is_active = 1 ORDER BY display_order ASC`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list active fees: %w", err)
	}
	defer rows.Close()
	return collectFees(rows)
}

func (r *FeeRepository) GetByID(ctx context.Context, id int64) (*models.Fee, error) {
	query := `SELECT ` + feeColumns + ` FROM fees WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	f, err := scanFee(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fee: %w", err)
	}
	return f, nil
}

// Create appends the fee at the end of the product's ordering.
func (r *FeeRepository) Create(ctx context.Context, fee *models.Fee) (*models.Fee, error) {
	const query = `
INSERT INTO fees (product_id, name, amount, description, payment_message, button_text, is_active, display_order)
SELECT ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, COALESCE(MAX(display_order), 0) + 1
FROM fees WHERE product_id = ?`
	res, err := r.db.ExecContext(ctx, query, fee.ProductID, fee.Name, fee.Amount, fee.Description,
		fee.PaymentMessage, fee.ButtonText, fee.IsActive, fee.ProductID)
	if err != nil {
		return nil, fmt.Errorf("create fee: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("fee last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *FeeRepository) Update(ctx context.Context, fee *models.Fee) (*models.Fee, error) {
	const query = `
UPDATE fees
SET name = ?, amount = ?, description = NULLIF(?, ''), payment_message = NULLIF(?, ''),
    button_text = NULLIF(?, ''), is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, fee.Name, fee.Amount, fee.Description,
		fee.PaymentMessage, fee.ButtonText, fee.IsActive, fee.ID); err != nil {
		return nil, fmt.Errorf("update fee: %w", err)
	}
	return r.GetByID(ctx, fee.ID)
}

func (r *FeeRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM fees WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete fee: %w", err)
	}
	return nil
}

func collectFees(rows *sql.Rows) ([]models.Fee, error) {
	var fees []models.Fee
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fee: %w", err)
		}
		fees = append(fees, *f)
	}
	return fees, rows.Err()
}

func scanFee(row rowScanner) (*models.Fee, error) {
	var f models.Fee
	if err := row.Scan(&f.ID, &f.ProductID, &f.Name, &f.Amount, &f.Description, &f.PaymentMessage,
		&f.ButtonText, &f.IsActive, &f.DisplayOrder, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
