// Package catalog exposes the storefront configuration: products, their
// mandatory fees, message templates and funnel offers. The conversation
// engine reads through it; the admin API writes through it.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/repository"
)

var (
	ErrNotFound    = errors.New("catalog: not found")
	ErrInvalidName = errors.New("catalog: name must be 1-100 characters")
	ErrInvalidFee  = errors.New("catalog: fee amount must be positive and at most 999999.99")
	ErrBadOrder    = errors.New("catalog: reorder ids must be a permutation of the existing set")
)

var maxFeeAmount = decimal.RequireFromString("999999.99")

type Service struct {
	ownerID   int64
	products  *repository.ProductRepository
	fees      *repository.FeeRepository
	templates *repository.TemplateRepository
	funnels   *repository.FunnelRepository
	log       *slog.Logger
}

func NewService(ownerID int64, products *repository.ProductRepository, fees *repository.FeeRepository,
	templates *repository.TemplateRepository, funnels *repository.FunnelRepository, log *slog.Logger) *Service {
	return &Service{
		ownerID:   ownerID,
		products:  products,
		fees:      fees,
		templates: templates,
		funnels:   funnels,
		log:       log,
	}
}

// ActiveProducts, Product, ActiveFees, ActiveTemplates and FunnelLink form
// the read surface the conversation engine depends on. Everything is scoped
// to the configured owner.

func (s *Service) ActiveProducts(ctx context.Context) ([]models.Product, error) {
	return s.products.ListActive(ctx, s.ownerID)
}

func (s *Service) Product(ctx context.Context, id int64) (*models.Product, error) {
	return s.products.GetByID(ctx, id)
}

func (s *Service) ActiveFees(ctx context.Context, productID int64) ([]models.Fee, error) {
	return s.fees.ListActiveByProduct(ctx, productID)
}

func (s *Service) ActiveTemplates(ctx context.Context, t models.MessageType) ([]models.MessageTemplate, error) {
	return s.templates.ListActiveByType(ctx, s.ownerID, t)
}

func (s *Service) FunnelLink(ctx context.Context, productID int64) (*models.FunnelLink, error) {
	return s.funnels.LinkByProduct(ctx, productID)
}

func (s *Service) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.products.List(ctx, s.ownerID)
}

func (s *Service) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if err := validateName(p.Name); err != nil {
		return nil, err
	}
	if !p.Price.IsPositive() {
		return nil, fmt.Errorf("catalog: price must be positive")
	}
	p.OwnerID = s.ownerID
	return s.products.Create(ctx, p)
}

func (s *Service) UpdateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if err := validateName(p.Name); err != nil {
		return nil, err
	}
	if !p.Price.IsPositive() {
		return nil, fmt.Errorf("catalog: price must be positive")
	}
	if err := s.ownProduct(ctx, p.ID); err != nil {
		return nil, err
	}
	return s.products.Update(ctx, p)
}

func (s *Service) SetProductMedia(ctx context.Context, productID int64, url string, kind models.MediaKind) error {
	if err := s.ownProduct(ctx, productID); err != nil {
		return err
	}
	return s.products.SetMedia(ctx, productID, url, kind)
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.ownProduct(ctx, id); err != nil {
		return err
	}
	return s.products.Delete(ctx, id)
}

func (s *Service) ListFees(ctx context.Context, productID int64) ([]models.Fee, error) {
	return s.fees.ListByProduct(ctx, productID)
}

func (s *Service) CreateFee(ctx context.Context, fee *models.Fee) (*models.Fee, error) {
	if err := validateFee(fee); err != nil {
		return nil, err
	}
	if err := s.ownProduct(ctx, fee.ProductID); err != nil {
		return nil, err
	}
	return s.fees.Create(ctx, fee)
}

func (s *Service) UpdateFee(ctx context.Context, fee *models.Fee) (*models.Fee, error) {
	if err := validateFee(fee); err != nil {
		return nil, err
	}
	return s.fees.Update(ctx, fee)
}

func (s *Service) DeleteFee(ctx context.Context, id int64) error {
	return s.fees.Delete(ctx, id)
}

// ReorderFees rewrites the display order of a product's fees to follow ids.
// The ids must be exactly the fees currently attached to the product; the
// renumbering is contiguous from 1 and atomic.
func (s *Service) ReorderFees(ctx context.Context, productID int64, ids []int64) error {
	return s.reorder(ctx, s.fees.DB(),
		`SELECT id FROM fees WHERE product_id = ? FOR UPDATE`,
		`UPDATE fees SET display_order = ?, updated_at = NOW() WHERE id = ?`,
		productID, ids)
}

// ReorderUpsells rewrites the walk order of a product's upsell chain.
func (s *Service) ReorderUpsells(ctx context.Context, productID int64, ids []int64) error {
	return s.reorder(ctx, s.funnels.DB(),
		`SELECT id FROM upsell_offers WHERE product_id = ? FOR UPDATE`,
		`UPDATE upsell_offers SET display_order = ? WHERE id = ?`,
		productID, ids)
}

// ReorderTemplates rewrites the send order of the owner's templates of one
// message type.
func (s *Service) ReorderTemplates(ctx context.Context, t models.MessageType, ids []int64) error {
	db := s.fees.DB()
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM message_templates WHERE owner_id = ? AND message_type = ? FOR UPDATE`,
		s.ownerID, t)
	if err != nil {
		return fmt.Errorf("lock templates: %w", err)
	}
	existing, err := collectIDs(rows)
	if err != nil {
		return err
	}
	if !samePermutation(existing, ids) {
		return ErrBadOrder
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE message_templates SET display_order = ?, updated_at = NOW() WHERE id = ?`,
			i+1, id); err != nil {
			return fmt.Errorf("renumber template %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder tx: %w", err)
	}
	return nil
}

func (s *Service) reorder(ctx context.Context, db *sql.DB, lockQuery, updateQuery string, parentID int64, ids []int64) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, lockQuery, parentID)
	if err != nil {
		return fmt.Errorf("lock rows: %w", err)
	}
	existing, err := collectIDs(rows)
	if err != nil {
		return err
	}
	if !samePermutation(existing, ids) {
		return ErrBadOrder
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, updateQuery, i+1, id); err != nil {
			return fmt.Errorf("renumber row %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder tx: %w", err)
	}
	return nil
}

func (s *Service) ListTemplates(ctx context.Context, t models.MessageType) ([]models.MessageTemplate, error) {
	return s.templates.ListByType(ctx, s.ownerID, t)
}

func (s *Service) CreateTemplate(ctx context.Context, t *models.MessageTemplate) (*models.MessageTemplate, error) {
	if t.Content == "" {
		return nil, fmt.Errorf("catalog: template content must not be empty")
	}
	t.OwnerID = s.ownerID
	return s.templates.Create(ctx, t)
}

func (s *Service) UpdateTemplate(ctx context.Context, t *models.MessageTemplate) (*models.MessageTemplate, error) {
	if t.Content == "" {
		return nil, fmt.Errorf("catalog: template content must not be empty")
	}
	return s.templates.Update(ctx, t)
}

func (s *Service) DeleteTemplate(ctx context.Context, id int64) error {
	return s.templates.Delete(ctx, id)
}

func (s *Service) ListUpsells(ctx context.Context, productID int64) ([]models.UpsellOffer, error) {
	return s.funnels.ListUpsells(ctx, productID)
}

func (s *Service) CreateUpsell(ctx context.Context, o *models.UpsellOffer) (*models.UpsellOffer, error) {
	if err := s.ownProduct(ctx, o.ProductID); err != nil {
		return nil, err
	}
	if err := s.ownProduct(ctx, o.TargetProductID); err != nil {
		return nil, err
	}
	return s.funnels.CreateUpsell(ctx, o)
}

func (s *Service) UpdateUpsell(ctx context.Context, o *models.UpsellOffer) (*models.UpsellOffer, error) {
	if err := s.ownProduct(ctx, o.TargetProductID); err != nil {
		return nil, err
	}
	return s.funnels.UpdateUpsell(ctx, o)
}

func (s *Service) DeleteUpsell(ctx context.Context, id int64) error {
	return s.funnels.DeleteUpsell(ctx, id)
}

func (s *Service) SetDownsell(ctx context.Context, o *models.DownsellOffer) (*models.DownsellOffer, error) {
	if err := s.ownProduct(ctx, o.ProductID); err != nil {
		return nil, err
	}
	if err := s.ownProduct(ctx, o.TargetProductID); err != nil {
		return nil, err
	}
	return s.funnels.SetDownsell(ctx, o)
}

func (s *Service) DeleteDownsell(ctx context.Context, productID int64) error {
	return s.funnels.DeleteDownsell(ctx, productID)
}

func (s *Service) ownProduct(ctx context.Context, id int64) error {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil || p.OwnerID != s.ownerID {
		return ErrNotFound
	}
	return nil
}

func validateName(name string) error {
	if name == "" || len([]rune(name)) > 100 {
		return ErrInvalidName
	}
	return nil
}

func validateFee(fee *models.Fee) error {
	if err := validateName(fee.Name); err != nil {
		return err
	}
	if !fee.Amount.IsPositive() || fee.Amount.GreaterThan(maxFeeAmount) {
		return ErrInvalidFee
	}
	return nil
}

func collectIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func samePermutation(existing, requested []int64) bool {
	if len(existing) != len(requested) {
		return false
	}
	set := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		set[id] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := set[id]; !ok {
			return false
		}
		delete(set, id)
	}
	return len(set) == 0
}
