package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vendezap/pixstore-bot/internal/models"
)

type FunnelRepository struct {
	db *sql.DB
}

func NewFunnelRepository(db *sql.DB) *FunnelRepository {
	return &FunnelRepository{db: db}
}

func (r *FunnelRepository) DB() *sql.DB {
	return r.db
}

const upsellColumns = `id, product_id, target_product_id, COALESCE(message_override, ''), display_order, created_at`

// LinkByProduct assembles the full funnel configuration for a product: the
// ordered upsell chain and the optional downsell.
func (r *FunnelRepository) LinkByProduct(ctx context.Context, productID int64) (*models.FunnelLink, error) {
	upsells, err := r.ListUpsells(ctx, productID)
	if err != nil {
		return nil, err
	}
	downsell, err := r.Downsell(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &models.FunnelLink{ProductID: productID, Upsells: upsells, Downsell: downsell}, nil
}

func (r *FunnelRepository) ListUpsells(ctx context.Context, productID int64) ([]models.UpsellOffer, error) {
	query := `SELECT ` + upsellColumns + ` FROM upsell_offers WHERE product_id = ? ORDER BY display_order ASC`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list upsells: %w", err)
	}
	defer rows.Close()

	var offers []models.UpsellOffer
	for rows.Next() {
		var o models.UpsellOffer
		if err := rows.Scan(&o.ID, &o.ProductID, &o.TargetProductID, &o.MessageOverride, &o.DisplayOrder, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upsell: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *FunnelRepository) GetUpsell(ctx context.Context, id int64) (*models.UpsellOffer, error) {
	query := `SELECT ` + upsellColumns + ` FROM upsell_offers WHERE id = ?`
	var o models.UpsellOffer
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&o.ID, &o.ProductID, &o.TargetProductID, &o.MessageOverride, &o.DisplayOrder, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get upsell: %w", err)
	}
	return &o, nil
}

// CreateUpsell appends the offer at the end of the product's chain.
func (r *FunnelRepository) CreateUpsell(ctx context.Context, o *models.UpsellOffer) (*models.UpsellOffer, error) {
	const query = `
INSERT INTO upsell_offers (product_id, target_product_id, message_override, display_order)
SELECT ?, ?, NULLIF(?, ''), COALESCE(MAX(display_order), 0) + 1
FROM upsell_offers WHERE product_id = ?`
	res, err := r.db.ExecContext(ctx, query, o.ProductID, o.TargetProductID, o.MessageOverride, o.ProductID)
	if err != nil {
		return nil, fmt.Errorf("create upsell: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("upsell last insert id: %w", err)
	}
	return r.GetUpsell(ctx, id)
}

func (r *FunnelRepository) UpdateUpsell(ctx context.Context, o *models.UpsellOffer) (*models.UpsellOffer, error) {
	const query = `UPDATE upsell_offers SET target_product_id = ?, message_override = NULLIF(?, '') WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, o.TargetProductID, o.MessageOverride, o.ID); err != nil {
		return nil, fmt.Errorf("update upsell: %w", err)
	}
	return r.GetUpsell(ctx, o.ID)
}

func (r *FunnelRepository) DeleteUpsell(ctx context.Context, id int64) error {
	const query = `DELETE FROM upsell_offers WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete upsell: %w", err)
	}
	return nil
}

func (r *FunnelRepository) Downsell(ctx context.Context, productID int64) (*models.DownsellOffer, error) {
	const query = `SELECT id, product_id, target_product_id, COALESCE(message_override, ''), created_at
FROM downsell_offers WHERE product_id = ?`
	var o models.DownsellOffer
	err := r.db.QueryRowContext(ctx, query, productID).
		Scan(&o.ID, &o.ProductID, &o.TargetProductID, &o.MessageOverride, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get downsell: %w", err)
	}
	return &o, nil
}

// SetDownsell creates or replaces the single downsell for a product.
func (r *FunnelRepository) SetDownsell(ctx context.Context, o *models.DownsellOffer) (*models.DownsellOffer, error) {
	const query = `
INSERT INTO downsell_offers (product_id, target_product_id, message_override)
VALUES (?, ?, NULLIF(?, ''))
ON DUPLICATE KEY UPDATE target_product_id = VALUES(target_product_id), message_override = VALUES(message_override)`
	if _, err := r.db.ExecContext(ctx, query, o.ProductID, o.TargetProductID, o.MessageOverride); err != nil {
		return nil, fmt.Errorf("set downsell: %w", err)
	}
	return r.Downsell(ctx, o.ProductID)
}

func (r *FunnelRepository) DeleteDownsell(ctx context.Context, productID int64) error {
	const query = `DELETE FROM downsell_offers WHERE product_id = ?`
	if _, err := r.db.ExecContext(ctx, query, productID); err != nil {
		return fmt.Errorf("delete downsell: %w", err)
	}
	return nil
}
