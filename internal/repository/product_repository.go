package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vendezap/pixstore-bot/internal/models"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, owner_id, name, price, COALESCE(description, ''), COALESCE(media_url, ''), COALESCE(media_kind, ''), COALESCE(file_url, ''), COALESCE(group_id, ''), require_fees, legacy_upsell_product_id, is_active, created_at, updated_at`

func (r *ProductRepository) ListActive(ctx context.Context, ownerID int64) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE owner_id = ? AND is_active = 1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (r *ProductRepository) List(ctx context.Context, ownerID int64) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE owner_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *models.Product) (*models.Product, error) {
	const query = `
INSERT INTO products (owner_id, name, price, description, media_url, media_kind, file_url, group_id, require_fees, legacy_upsell_product_id, is_active)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, p.OwnerID, p.Name, p.Price, p.Description,
		p.MediaURL, p.MediaKind, p.FileURL, p.GroupID, p.RequireFees, p.LegacyUpsellProductID, p.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("product last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ProductRepository) Update(ctx context.Context, p *models.Product) (*models.Product, error) {
	const query = `
UPDATE products
SET name = ?, price = ?, description = NULLIF(?, ''), media_url = NULLIF(?, ''), media_kind = NULLIF(?, ''),
    file_url = NULLIF(?, ''), group_id = NULLIF(?, ''), require_fees = ?, legacy_upsell_product_id = ?, is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, p.Name, p.Price, p.Description, p.MediaURL, p.MediaKind,
		p.FileURL, p.GroupID, p.RequireFees, p.LegacyUpsellProductID, p.IsActive, p.ID); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return r.GetByID(ctx, p.ID)
}

func (r *ProductRepository) SetMedia(ctx context.Context, id int64, url string, kind models.MediaKind) error {
	const query = `UPDATE products SET media_url = ?, media_kind = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, url, kind, id); err != nil {
		return fmt.Errorf("set product media: %w", err)
	}
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM products WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var legacy sql.NullInt64
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Price, &p.Description, &p.MediaURL, &p.MediaKind,
		&p.FileURL, &p.GroupID, &p.RequireFees, &legacy, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if legacy.Valid {
		p.LegacyUpsellProductID = &legacy.Int64
	}
	return &p, nil
}
