package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vendezap/pixstore-bot/internal/conversation"
	"github.com/vendezap/pixstore-bot/internal/models"
)

// OrderLookup is the slice of the order store the webhook path needs.
type OrderLookup interface {
	FindByPixTxID(ctx context.Context, txID string) (*models.Order, error)
	MarkPaid(ctx context.Context, id int64, rawPayload string) (bool, error)
	MarkStatus(ctx context.Context, id int64, status models.OrderStatus) error
}

// EventSink receives the conversation events a settled payment produces.
type EventSink interface {
	Dispatch(ctx context.Context, ev conversation.Event)
}

// Service processes provider webhooks. Confirmations are idempotent: a
// repeated notification for an already-paid order is acknowledged and
// produces no event.
type Service struct {
	orders OrderLookup
	events EventSink
	log    *slog.Logger
}

func NewService(orders OrderLookup, events EventSink, log *slog.Logger) *Service {
	return &Service{orders: orders, events: events, log: log}
}

// HandlePixWebhook parses a provider status callback and advances the
// matching order. Payload shape: {"txid": "...", "status": "paid"}.
func (s *Service) HandlePixWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		TxID   string `json:"txid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.TxID == "" {
		return fmt.Errorf("webhook missing txid")
	}

	order, err := s.orders.FindByPixTxID(ctx, evt.TxID)
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order not found for txid=%s", evt.TxID)
	}

	switch evt.Status {
	case "paid", "confirmed":
		changed, err := s.orders.MarkPaid(ctx, order.ID, string(payload))
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if !changed {
			s.log.Info("duplicate payment webhook", "txid", evt.TxID, "order", order.ID)
			return nil
		}
		s.dispatchPaid(ctx, order)
		return nil
	case "cancelled", "expired":
		if order.Status != models.OrderPending {
			return nil
		}
		if err := s.orders.MarkStatus(ctx, order.ID, models.OrderStatus(evt.Status)); err != nil {
			return fmt.Errorf("mark %s: %w", evt.Status, err)
		}
		return nil
	default:
		s.log.Warn("ignoring webhook status", "txid", evt.TxID, "status", evt.Status)
		return nil
	}
}

func (s *Service) dispatchPaid(ctx context.Context, order *models.Order) {
	if order.Kind == models.OrderFee && order.FeeID != nil {
		s.events.Dispatch(ctx, conversation.Event{
			Kind:   conversation.EventFeePaymentConfirmed,
			ChatID: order.ChatID,
			FeeID:  *order.FeeID,
		})
		return
	}
	s.events.Dispatch(ctx, conversation.Event{
		Kind:    conversation.EventPaymentConfirmed,
		ChatID:  order.ChatID,
		OrderID: order.ID,
	})
}
