package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vendezap/pixstore-bot/internal/models"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, chat_id, COALESCE(customer_name, ''), state, selected_product_id, funnel_stage, funnel_cursor, COALESCE(fee_settlement, ''), pending_order_id, reminder_sent_at, created_at, updated_at`

func (r *SessionRepository) FindByChatID(ctx context.Context, chatID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE chat_id = ?`
	row := r.db.QueryRowContext(ctx, query, chatID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// Ensure returns the chat's session, creating it in the idle state on the
// first inbound event.
func (r *SessionRepository) Ensure(ctx context.Context, chatID int64, customerName string) (*models.Session, error) {
	sess, err := r.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	const query = `
INSERT INTO sessions (chat_id, customer_name, state, funnel_stage, funnel_cursor)
VALUES (?, NULLIF(?, ''), ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, query, chatID, customerName, models.StateIdle, models.FunnelNone)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session last insert id: %w", err)
	}
	now := time.Now()
	return &models.Session{
		ID:           id,
		ChatID:       chatID,
		CustomerName: customerName,
		State:        models.StateIdle,
		FunnelStage:  models.FunnelNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Save persists the full mutable state of a session row.
func (r *SessionRepository) Save(ctx context.Context, sess *models.Session) error {
	settlement, err := encodeSettlement(sess.FeeSettlement)
	if err != nil {
		return err
	}
	const query = `
UPDATE sessions
SET customer_name = NULLIF(?, ''), state = ?, selected_product_id = ?, funnel_stage = ?,
    funnel_cursor = ?, fee_settlement = ?, pending_order_id = ?, reminder_sent_at = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query,
		sess.CustomerName, sess.State, sess.SelectedProductID, sess.FunnelStage,
		sess.FunnelCursor, settlement, sess.PendingOrderID, sess.ReminderSentAt, sess.ID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// StaleAwaitingPayment lists sessions stuck awaiting payment since before
// idleSince.
func (r *SessionRepository) StaleAwaitingPayment(ctx context.Context, idleSince time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE state = ? AND updated_at < ?`
	rows, err := r.db.QueryContext(ctx, query, models.StateAwaitingPayment, idleSince)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// MarkReminded stamps the cart reminder without touching updated_at, so the
// expiry clock keeps measuring customer inactivity.
func (r *SessionRepository) MarkReminded(ctx context.Context, sessionID int64, at time.Time) error {
	const query = `UPDATE sessions SET reminder_sent_at = ?, updated_at = updated_at WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, at, sessionID); err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

// Expire moves a session to the abandoned terminal state and reports whether
// the row transitioned. The state guard keeps the sweep from clobbering a
// session whose worker advanced it past awaiting_payment after the stale
// listing was taken.
func (r *SessionRepository) Expire(ctx context.Context, sessionID int64) (bool, error) {
	const query = `UPDATE sessions SET state = ?, pending_order_id = NULL, updated_at = NOW() WHERE id = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, query, models.StateAbandoned, sessionID, models.StateAwaitingPayment)
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	return affected > 0, nil
}

func (r *SessionRepository) ListChatIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT chat_id FROM sessions`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var settlement string
	var selected, pending sql.NullInt64
	var reminded sql.NullTime
	if err := row.Scan(&s.ID, &s.ChatID, &s.CustomerName, &s.State, &selected, &s.FunnelStage,
		&s.FunnelCursor, &settlement, &pending, &reminded, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if selected.Valid {
		s.SelectedProductID = &selected.Int64
	}
	if pending.Valid {
		s.PendingOrderID = &pending.Int64
	}
	if reminded.Valid {
		t := reminded.Time
		s.ReminderSentAt = &t
	}
	ids, err := decodeSettlement(settlement)
	if err != nil {
		return nil, err
	}
	s.FeeSettlement = ids
	return &s, nil
}

func encodeSettlement(ids []int64) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode fee settlement: %w", err)
	}
	return string(b), nil
}

func decodeSettlement(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode fee settlement: %w", err)
	}
	return ids, nil
}
