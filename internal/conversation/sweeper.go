package conversation

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

// SweepStore is the session-store surface the sweeper needs.
type SweepStore interface {
	StaleAwaitingPayment(ctx context.Context, idleSince time.Time) ([]models.Session, error)
	MarkReminded(ctx context.Context, sessionID int64, at time.Time) error
	Expire(ctx context.Context, sessionID int64) (bool, error)
}

// Sweeper bounds storage growth: sessions stuck in awaiting_payment get one
// cart reminder, then expire to the abandoned terminal state. Abandoned
// sessions receive no events by definition, so writing them here does not
// race the per-session workers.
type Sweeper struct {
	sessions    SweepStore
	catalog     CatalogStore
	sender      Sender
	log         *slog.Logger
	remindAfter time.Duration
	expireAfter time.Duration
	interval    time.Duration
}

func NewSweeper(sessions SweepStore, catalog CatalogStore, sender Sender, log *slog.Logger, remindAfter, expireAfter, interval time.Duration) *Sweeper {
	return &Sweeper{
		sessions:    sessions,
		catalog:     catalog,
		sender:      sender,
		log:         log,
		remindAfter: remindAfter,
		expireAfter: expireAfter,
		interval:    interval,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass over stale awaiting_payment sessions.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	stale, err := s.sessions.StaleAwaitingPayment(ctx, now.Add(-s.remindAfter))
	if err != nil {
		s.log.Error("list stale sessions", "err", err)
		return
	}

	for _, sess := range stale {
		switch {
		case now.Sub(sess.UpdatedAt) >= s.expireAfter:
			s.expire(ctx, sess)
		case sess.ReminderSentAt == nil:
			s.remind(ctx, sess)
		}
	}
}

func (s *Sweeper) remind(ctx context.Context, sess models.Session) {
	tctx := template.CustomerContext(sess.CustomerName)
	if sess.SelectedProductID != nil {
		if product, err := s.catalog.Product(ctx, *sess.SelectedProductID); err == nil && product != nil {
			tctx = template.ProductContext(tctx, *product)
		}
	}
	content := s.templateContent(ctx, models.MessageCartReminder)
	if err := s.sender.Send(ctx, sess.ChatID, template.Message{Text: template.Resolve(content, tctx)}); err != nil {
		s.log.Error("send cart reminder", "chat", sess.ChatID, "err", err)
		return
	}
	if err := s.sessions.MarkReminded(ctx, sess.ID, time.Now()); err != nil {
		s.log.Error("mark reminded", "session", sess.ID, "err", err)
	}
}

func (s *Sweeper) expire(ctx context.Context, sess models.Session) {
	// Transition first. A worker may have delivered the order between the
	// stale listing and now; the guarded update refuses the overwrite and
	// the paying customer never sees a cancellation.
	changed, err := s.sessions.Expire(ctx, sess.ID)
	if err != nil {
		s.log.Error("expire session", "session", sess.ID, "err", err)
		return
	}
	if !changed {
		s.log.Info("session advanced before expiry, skipped", "session", sess.ID, "chat", sess.ChatID)
		return
	}

	tctx := template.CustomerContext(sess.CustomerName)
	if sess.PendingOrderID != nil {
		tctx[template.PlaceholderOrderID] = "#" + strconv.FormatInt(*sess.PendingOrderID, 10)
	}
	content := s.templateContent(ctx, models.MessageOrderCancelled)
	if err := s.sender.Send(ctx, sess.ChatID, template.Message{Text: template.Resolve(content, tctx)}); err != nil {
		s.log.Error("send expiry notice", "chat", sess.ChatID, "err", err)
	}
	s.log.Info("session abandoned", "session", sess.ID, "chat", sess.ChatID)
}

func (s *Sweeper) templateContent(ctx context.Context, mt models.MessageType) string {
	tmpls, err := s.catalog.ActiveTemplates(ctx, mt)
	if err != nil || len(tmpls) == 0 {
		return template.Default(mt)
	}
	return tmpls[0].Content
}
