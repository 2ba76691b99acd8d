package payments

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendezap/pixstore-bot/internal/conversation"
	"github.com/vendezap/pixstore-bot/internal/models"
)

type stubOrders struct {
	byTx   map[string]*models.Order
	paid   []int64
	status map[int64]models.OrderStatus
}

func newStubOrders() *stubOrders {
	return &stubOrders{byTx: map[string]*models.Order{}, status: map[int64]models.OrderStatus{}}
}

func (s *stubOrders) FindByPixTxID(_ context.Context, txID string) (*models.Order, error) {
	return s.byTx[txID], nil
}

func (s *stubOrders) MarkPaid(_ context.Context, id int64, _ string) (bool, error) {
	for _, o := range s.byTx {
		if o.ID == id {
			if o.Status != models.OrderPending {
				return false, nil
			}
			o.Status = models.OrderPaid
			s.paid = append(s.paid, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *stubOrders) MarkStatus(_ context.Context, id int64, status models.OrderStatus) error {
	s.status[id] = status
	return nil
}

type stubSink struct {
	events []conversation.Event
}

func (s *stubSink) Dispatch(_ context.Context, ev conversation.Event) {
	s.events = append(s.events, ev)
}

func newOrder(id int64, txID string, kind models.OrderKind) *models.Order {
	return &models.Order{
		ID:      id,
		ChatID:  100,
		Kind:    kind,
		Amount:  decimal.RequireFromString("49.90"),
		PixTxID: txID,
		Status:  models.OrderPending,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookPaidDispatchesOrderEvent(t *testing.T) {
	orders := newStubOrders()
	orders.byTx["tx-1"] = newOrder(7, "tx-1", models.OrderProduct)
	sink := &stubSink{}
	svc := NewService(orders, sink, discard())

	err := svc.HandlePixWebhook(context.Background(), []byte(`{"txid":"tx-1","status":"paid"}`))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	require.Equal(t, conversation.EventPaymentConfirmed, sink.events[0].Kind)
	require.Equal(t, int64(7), sink.events[0].OrderID)
	require.Equal(t, int64(100), sink.events[0].ChatID)
}

func TestWebhookFeeOrderDispatchesFeeEvent(t *testing.T) {
	orders := newStubOrders()
	order := newOrder(8, "tx-2", models.OrderFee)
	feeID := int64(3)
	order.FeeID = &feeID
	orders.byTx["tx-2"] = order
	sink := &stubSink{}
	svc := NewService(orders, sink, discard())

	err := svc.HandlePixWebhook(context.Background(), []byte(`{"txid":"tx-2","status":"paid"}`))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	require.Equal(t, conversation.EventFeePaymentConfirmed, sink.events[0].Kind)
	require.Equal(t, int64(3), sink.events[0].FeeID)
}

func TestWebhookDuplicateIsAbsorbed(t *testing.T) {
	orders := newStubOrders()
	orders.byTx["tx-3"] = newOrder(9, "tx-3", models.OrderProduct)
	sink := &stubSink{}
	svc := NewService(orders, sink, discard())

	payload := []byte(`{"txid":"tx-3","status":"paid"}`)
	require.NoError(t, svc.HandlePixWebhook(context.Background(), payload))
	require.NoError(t, svc.HandlePixWebhook(context.Background(), payload))

	require.Len(t, sink.events, 1)
	require.Equal(t, []int64{9}, orders.paid)
}

func TestWebhookUnknownOrderFails(t *testing.T) {
	svc := NewService(newStubOrders(), &stubSink{}, discard())
	err := svc.HandlePixWebhook(context.Background(), []byte(`{"txid":"nope","status":"paid"}`))
	require.Error(t, err)
}

func TestWebhookCancelledUpdatesStatusOnly(t *testing.T) {
	orders := newStubOrders()
	orders.byTx["tx-4"] = newOrder(10, "tx-4", models.OrderProduct)
	sink := &stubSink{}
	svc := NewService(orders, sink, discard())

	err := svc.HandlePixWebhook(context.Background(), []byte(`{"txid":"tx-4","status":"cancelled"}`))
	require.NoError(t, err)
	require.Empty(t, sink.events)
	require.Equal(t, models.OrderCancelled, orders.status[10])
}

func TestWebhookIgnoresUnknownStatus(t *testing.T) {
	orders := newStubOrders()
	orders.byTx["tx-5"] = newOrder(11, "tx-5", models.OrderProduct)
	sink := &stubSink{}
	svc := NewService(orders, sink, discard())

	err := svc.HandlePixWebhook(context.Background(), []byte(`{"txid":"tx-5","status":"processing"}`))
	require.NoError(t, err)
	require.Empty(t, sink.events)
}
