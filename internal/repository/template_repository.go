package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vendezap/pixstore-bot/internal/models"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, owner_id, message_type, content, COALESCE(media_url, ''), COALESCE(media_kind, ''), COALESCE(buttons, ''), is_active, display_order, created_at, updated_at`

func (r *TemplateRepository) ListActiveByType(ctx context.Context, ownerID int64, t models.MessageType) ([]models.MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE owner_id = ? AND message_type = ? AND is_active = 1 ORDER BY display_order ASC`
	rows, err := r.db.QueryContext(ctx, query, ownerID, t)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (r *TemplateRepository) ListByType(ctx context.Context, ownerID int64, t models.MessageType) ([]models.MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE owner_id = ? AND message_type = ? ORDER BY display_order ASC`
	rows, err := r.db.QueryContext(ctx, query, ownerID, t)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*models.MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// Create appends the template at the end of its type's ordering.
func (r *TemplateRepository) Create(ctx context.Context, t *models.MessageTemplate) (*models.MessageTemplate, error) {
	buttons, err := encodeButtons(t.Buttons)
	if err != nil {
		return nil, err
	}
	const query = `
INSERT INTO message_templates (owner_id, message_type, content, media_url, media_kind, buttons, is_active, display_order)
SELECT ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, COALESCE(MAX(display_order), 0) + 1
FROM message_templates WHERE owner_id = ? AND message_type = ?`
	res, err := r.db.ExecContext(ctx, query, t.OwnerID, t.Type, t.Content, t.MediaURL, t.MediaKind,
		buttons, t.IsActive, t.OwnerID, t.Type)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("template last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *TemplateRepository) Update(ctx context.Context, t *models.MessageTemplate) (*models.MessageTemplate, error) {
	buttons, err := encodeButtons(t.Buttons)
	if err != nil {
		return nil, err
	}
	const query = `
UPDATE message_templates
SET content = ?, media_url = NULLIF(?, ''), media_kind = NULLIF(?, ''), buttons = NULLIF(?, ''), is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, t.Content, t.MediaURL, t.MediaKind, buttons, t.IsActive, t.ID); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return r.GetByID(ctx, t.ID)
}

func (r *TemplateRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM message_templates WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

func collectTemplates(rows *sql.Rows) ([]models.MessageTemplate, error) {
	var templates []models.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func scanTemplate(row rowScanner) (*models.MessageTemplate, error) {
	var t models.MessageTemplate
	var buttons string
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Type, &t.Content, &t.MediaURL, &t.MediaKind,
		&buttons, &t.IsActive, &t.DisplayOrder, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if buttons != "" {
		if err := json.Unmarshal([]byte(buttons), &t.Buttons); err != nil {
			return nil, fmt.Errorf("decode template buttons: %w", err)
		}
	}
	return &t, nil
}

func encodeButtons(buttons []models.Button) (string, error) {
	if len(buttons) == 0 {
		return "", nil
	}
	b, err := json.Marshal(buttons)
	if err != nil {
		return "", fmt.Errorf("encode template buttons: %w", err)
	}
	return string(b), nil
}
