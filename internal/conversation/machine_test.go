package conversation

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

type stubCatalog struct {
	products  []models.Product
	fees      map[int64][]models.Fee
	templates map[models.MessageType][]models.MessageTemplate
	funnels   map[int64]*models.FunnelLink
}

func (c *stubCatalog) ActiveProducts(context.Context) ([]models.Product, error) {
	return c.products, nil
}

func (c *stubCatalog) Product(_ context.Context, id int64) (*models.Product, error) {
	for i := range c.products {
		if c.products[i].ID == id {
			p := c.products[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (c *stubCatalog) ActiveFees(_ context.Context, productID int64) ([]models.Fee, error) {
	return c.fees[productID], nil
}

func (c *stubCatalog) ActiveTemplates(_ context.Context, t models.MessageType) ([]models.MessageTemplate, error) {
	return c.templates[t], nil
}

func (c *stubCatalog) FunnelLink(_ context.Context, productID int64) (*models.FunnelLink, error) {
	return c.funnels[productID], nil
}

type stubSessions struct {
	sess    *models.Session
	history []models.SessionState
	cursors []int
}

func (s *stubSessions) Ensure(_ context.Context, chatID int64, name string) (*models.Session, error) {
	if s.sess == nil {
		s.sess = &models.Session{
			ID:           1,
			ChatID:       chatID,
			CustomerName: name,
			State:        models.StateIdle,
			FunnelStage:  models.FunnelNone,
		}
	}
	return s.sess, nil
}

func (s *stubSessions) Save(_ context.Context, sess *models.Session) error {
	s.sess = sess
	s.history = append(s.history, sess.State)
	s.cursors = append(s.cursors, sess.FunnelCursor)
	return nil
}

type stubOrders struct {
	nextID int64
	orders map[int64]*models.Order
}

func (o *stubOrders) Create(_ context.Context, order *models.Order) error {
	if o.orders == nil {
		o.orders = make(map[int64]*models.Order)
	}
	o.nextID++
	order.ID = o.nextID
	stored := *order
	o.orders[order.ID] = &stored
	return nil
}

func (o *stubOrders) Get(_ context.Context, id int64) (*models.Order, error) {
	order, ok := o.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

type stubCharger struct {
	calls int
}

func (c *stubCharger) CreatePixCharge(_ context.Context, _ decimal.Decimal, _, _ string) (string, string, string, error) {
	c.calls++
	return "tx-" + strings.Repeat("a", c.calls), "PIXCODE", "https://pix.example/qr.png", nil
}

type sent struct {
	chatID int64
	msg    template.Message
}

type stubSender struct {
	sent []sent
}

func (s *stubSender) Send(_ context.Context, chatID int64, msg template.Message) error {
	s.sent = append(s.sent, sent{chatID: chatID, msg: msg})
	return nil
}

func (s *stubSender) GroupInviteLink(context.Context, string) (string, error) {
	return "https://t.me/+invite", nil
}

type fixture struct {
	machine  *Machine
	catalog  *stubCatalog
	sessions *stubSessions
	orders   *stubOrders
	charger  *stubCharger
	sender   *stubSender
}

func newFixture(catalog *stubCatalog) *fixture {
	f := &fixture{
		catalog:  catalog,
		sessions: &stubSessions{},
		orders:   &stubOrders{},
		charger:  &stubCharger{},
		sender:   &stubSender{},
	}
	log := slog.New(slog.NewTextHandler(testWriter{}, nil))
	f.machine = NewMachine(Options{Currency: "BRL"}, catalog, f.sessions, f.orders, f.charger, f.sender, log)
	return f
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func simpleProduct() models.Product {
	return models.Product{
		ID:      10,
		Name:    "Curso Premium",
		Price:   price("97.00"),
		FileURL: "https://cdn.example.com/curso.zip",
	}
}

func (f *fixture) handle(t *testing.T, ev Event) {
	t.Helper()
	require.NoError(t, f.machine.Handle(context.Background(), ev))
}

func (f *fixture) lastText(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sender.sent)
	return f.sender.sent[len(f.sender.sent)-1].msg.Text
}

func TestStartSendsWelcomeAndResetsCycle(t *testing.T) {
	f := newFixture(&stubCatalog{products: []models.Product{simpleProduct()}})
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria Silva"})

	require.Equal(t, models.StateWelcome, f.sessions.sess.State)
	require.Nil(t, f.sessions.sess.SelectedProductID)
	require.Empty(t, f.sessions.sess.FeeSettlement)
	require.Zero(t, f.sessions.sess.FunnelCursor)
	require.Contains(t, f.lastText(t), "Maria")
}

func TestFullPurchaseNoFeesNoFunnel(t *testing.T) {
	f := newFixture(&stubCatalog{products: []models.Product{simpleProduct()}})

	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	require.Equal(t, models.StateCatalog, f.sessions.sess.State)

	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	require.Equal(t, models.StateProductSelected, f.sessions.sess.State)
	require.NotNil(t, f.sessions.sess.SelectedProductID)

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: ActionBuy})
	require.Equal(t, models.StateAwaitingPayment, f.sessions.sess.State)
	require.Equal(t, 1, f.charger.calls)
	require.NotNil(t, f.sessions.sess.PendingOrderID)
	require.Contains(t, f.lastText(t), "PIXCODE")

	orderID := *f.sessions.sess.PendingOrderID
	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: orderID})
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)
	require.Contains(t, f.sessions.history, models.StateDelivered)

	var deliveryButtons []models.Button
	for _, s := range f.sender.sent {
		for _, b := range s.msg.Buttons {
			if b.Action == models.ButtonURL {
				deliveryButtons = append(deliveryButtons, b)
			}
		}
	}
	require.NotEmpty(t, deliveryButtons)
	require.Equal(t, "https://cdn.example.com/curso.zip", deliveryButtons[0].Value)
}

func TestTwoFeesPromptedInOrderBeforeDelivery(t *testing.T) {
	product := simpleProduct()
	product.RequireFees = true
	catalog := &stubCatalog{
		products: []models.Product{product},
		fees: map[int64][]models.Fee{
			10: {
				{ID: 2, ProductID: 10, Name: "Taxa B", Amount: price("7.00"), DisplayOrder: 2, IsActive: true},
				{ID: 1, ProductID: 10, Name: "Taxa A", Amount: price("5.00"), DisplayOrder: 1, IsActive: true},
			},
		},
	}
	f := newFixture(catalog)

	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: ActionBuy})
	orderID := *f.sessions.sess.PendingOrderID

	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: orderID})
	require.Equal(t, models.StateFeePending, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "Taxa A")

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "pay_fee:1"})
	f.handle(t, Event{Kind: EventFeePaymentConfirmed, ChatID: 42, FeeID: 1})
	require.Equal(t, models.StateFeePending, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "Taxa B")

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "pay_fee:2"})
	f.handle(t, Event{Kind: EventFeePaymentConfirmed, ChatID: 42, FeeID: 2})
	require.Contains(t, f.sessions.history, models.StateDelivered)
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)

	// Exactly two fee prompts, ascending display order, before delivery.
	var feePrompts []string
	for _, s := range f.sender.sent {
		for _, b := range s.msg.Buttons {
			if strings.HasPrefix(b.Value, "pay_fee:") {
				feePrompts = append(feePrompts, b.Value)
			}
		}
	}
	require.Equal(t, []string{"pay_fee:1", "pay_fee:2"}, feePrompts)
}

func TestRepeatedFeeTapReusesOpenCharge(t *testing.T) {
	product := simpleProduct()
	product.RequireFees = true
	catalog := &stubCatalog{
		products: []models.Product{product},
		fees: map[int64][]models.Fee{
			10: {{ID: 1, ProductID: 10, Name: "Taxa A", Amount: price("5.00"), DisplayOrder: 1, IsActive: true}},
		},
	}
	f := newFixture(catalog)

	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: ActionBuy})
	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: *f.sessions.sess.PendingOrderID})
	require.Equal(t, models.StateFeePending, f.sessions.sess.State)

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "pay_fee:1"})
	chargesAfterFirst := f.charger.calls
	require.NotNil(t, f.sessions.sess.PendingOrderID)
	feeOrderID := *f.sessions.sess.PendingOrderID

	// Impatient customer taps the same button again: the open charge is
	// resent, no second payable code is created.
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "pay_fee:1"})
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "pay_fee:1"})
	require.Equal(t, chargesAfterFirst, f.charger.calls)
	require.Equal(t, feeOrderID, *f.sessions.sess.PendingOrderID)
	require.Len(t, f.orders.orders, 2)
	require.Contains(t, f.lastText(t), "PIXCODE")

	f.handle(t, Event{Kind: EventFeePaymentConfirmed, ChatID: 42, FeeID: 1})
	require.Nil(t, f.sessions.sess.PendingOrderID)
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)
}

func TestDuplicatePaymentEventAbsorbed(t *testing.T) {
	f := newFixture(&stubCatalog{products: []models.Product{simpleProduct()}})

	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: ActionBuy})
	orderID := *f.sessions.sess.PendingOrderID

	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: orderID})
	sentAfterFirst := len(f.sender.sent)
	stateAfterFirst := f.sessions.sess.State

	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: orderID})
	require.Equal(t, sentAfterFirst, len(f.sender.sent))
	require.Equal(t, stateAfterFirst, f.sessions.sess.State)
}

func TestDuplicateFeeSettlementAbsorbed(t *testing.T) {
	product := simpleProduct()
	product.RequireFees = true
	catalog := &stubCatalog{
		products: []models.Product{product},
		fees: map[int64][]models.Fee{
			10: {
				{ID: 1, ProductID: 10, Name: "Taxa A", Amount: price("5.00"), DisplayOrder: 1, IsActive: true},
				{ID: 2, ProductID: 10, Name: "Taxa B", Amount: price("7.00"), DisplayOrder: 2, IsActive: true},
			},
		},
	}
	f := newFixture(catalog)

	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: ActionBuy})
	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: *f.sessions.sess.PendingOrderID})

	f.handle(t, Event{Kind: EventFeePaymentConfirmed, ChatID: 42, FeeID: 1})
	settled := append([]int64(nil), f.sessions.sess.FeeSettlement...)
	sentCount := len(f.sender.sent)

	for i := 0; i < 3; i++ {
		f.handle(t, Event{Kind: EventFeePaymentConfirmed, ChatID: 42, FeeID: 1})
	}
	require.Equal(t, settled, f.sessions.sess.FeeSettlement)
	require.Equal(t, sentCount, len(f.sender.sent))
	require.Equal(t, models.StateFeePending, f.sessions.sess.State)
}

func funnelCatalog() *stubCatalog {
	main := simpleProduct()
	upsellA := models.Product{ID: 21, Name: "Mentoria", Price: price("197.00")}
	upsellB := models.Product{ID: 22, Name: "Comunidade VIP", Price: price("47.00")}
	down := models.Product{ID: 23, Name: "Ebook", Price: price("27.00")}
	return &stubCatalog{
		products: []models.Product{main, upsellA, upsellB, down},
		funnels: map[int64]*models.FunnelLink{
			10: {
				ProductID: 10,
				Upsells: []models.UpsellOffer{
					{ID: 1, ProductID: 10, TargetProductID: 21, DisplayOrder: 1},
					{ID: 2, ProductID: 10, TargetProductID: 22, DisplayOrder: 2},
				},
				Downsell: &models.DownsellOffer{ID: 3, ProductID: 10, TargetProductID: 23},
			},
		},
	}
}

func (f *fixture) purchaseMainProduct(t *testing.T) {
	t.Helper()
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: ActionBuy})
	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: *f.sessions.sess.PendingOrderID})
}

func TestFunnelAllDeclinedWalksEveryStage(t *testing.T) {
	f := newFixture(funnelCatalog())
	f.purchaseMainProduct(t)
	require.Equal(t, models.StateUpsellOffered, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "Mentoria")

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "upsell_decline"})
	require.Equal(t, models.StateUpsellOffered, f.sessions.sess.State)
	require.Equal(t, 1, f.sessions.sess.FunnelCursor)
	require.Contains(t, f.lastText(t), "Comunidade VIP")

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "upsell_decline"})
	require.Equal(t, models.StateDownsellOffered, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "Ebook")

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "downsell_decline"})
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)

	// delivered is visited exactly once, never revisited.
	deliveredCount := 0
	for _, st := range f.sessions.history {
		if st == models.StateDelivered {
			deliveredCount++
		}
	}
	require.Equal(t, 1, deliveredCount)

	// The funnel cursor never decreases within the order cycle.
	last := 0
	for _, c := range f.sessions.cursors {
		require.GreaterOrEqual(t, c, last)
		last = c
	}
}

func TestUpsellAcceptEndsSequenceAndChargesTarget(t *testing.T) {
	f := newFixture(funnelCatalog())
	f.purchaseMainProduct(t)

	chargesBefore := f.charger.calls
	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "upsell_accept"})
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)
	require.Equal(t, chargesBefore+1, f.charger.calls)

	var upsellOrder *models.Order
	for _, o := range f.orders.orders {
		if o.Kind == models.OrderUpsell {
			upsellOrder = o
		}
	}
	require.NotNil(t, upsellOrder)
	require.Equal(t, int64(21), upsellOrder.ProductID)

	// Settling the conversion later delivers the target without a transition.
	f.handle(t, Event{Kind: EventPaymentConfirmed, ChatID: 42, OrderID: upsellOrder.ID})
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)
}

func TestLegacySingleUpsellUsedWhenNoOrderedList(t *testing.T) {
	main := simpleProduct()
	legacy := int64(21)
	main.LegacyUpsellProductID = &legacy
	catalog := &stubCatalog{
		products: []models.Product{main, {ID: 21, Name: "Mentoria", Price: price("197.00")}},
	}
	f := newFixture(catalog)
	f.purchaseMainProduct(t)

	require.Equal(t, models.StateUpsellOffered, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "Mentoria")

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "upsell_decline"})
	require.Equal(t, models.StateCompleted, f.sessions.sess.State)
}

func TestOutOfRangeSelectionRepromptsWithoutTransition(t *testing.T) {
	f := newFixture(&stubCatalog{products: []models.Product{simpleProduct()}})
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	require.Equal(t, models.StateCatalog, f.sessions.sess.State)

	sentBefore := len(f.sender.sent)
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "99"})
	require.Equal(t, models.StateCatalog, f.sessions.sess.State)
	require.Greater(t, len(f.sender.sent), sentBefore)
}

func TestProductButtonSelectsLikeNumericText(t *testing.T) {
	f := newFixture(&stubCatalog{products: []models.Product{simpleProduct()}})
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})
	require.Equal(t, models.StateCatalog, f.sessions.sess.State)

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "product:1"})
	require.Equal(t, models.StateProductSelected, f.sessions.sess.State)
	require.NotNil(t, f.sessions.sess.SelectedProductID)
	require.Equal(t, int64(10), *f.sessions.sess.SelectedProductID)
}

func TestUnknownCallbackRepromptsCurrentState(t *testing.T) {
	f := newFixture(&stubCatalog{products: []models.Product{simpleProduct()}})
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})

	f.handle(t, Event{Kind: EventCallback, ChatID: 42, Action: "bogus_action"})
	require.Equal(t, models.StateWelcome, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "Maria")
}

func TestEmptyCatalogSendsNoProducts(t *testing.T) {
	f := newFixture(&stubCatalog{})
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria"})
	f.handle(t, Event{Kind: EventText, ChatID: 42, Text: "1"})

	require.Equal(t, models.StateWelcome, f.sessions.sess.State)
	require.Contains(t, f.lastText(t), "produtos")
}

func TestConfiguredTemplatesSentInDisplayOrder(t *testing.T) {
	catalog := &stubCatalog{
		products: []models.Product{simpleProduct()},
		templates: map[models.MessageType][]models.MessageTemplate{
			models.MessageWelcome: {
				{ID: 1, Type: models.MessageWelcome, Content: "Primeira mensagem, {primeiro_nome}", IsActive: true, DisplayOrder: 1},
				{ID: 2, Type: models.MessageWelcome, Content: "Segunda mensagem", IsActive: true, DisplayOrder: 2},
			},
		},
	}
	f := newFixture(catalog)
	f.handle(t, Event{Kind: EventStart, ChatID: 42, CustomerName: "Maria Silva"})

	require.Len(t, f.sender.sent, 2)
	require.Equal(t, "Primeira mensagem, Maria", f.sender.sent[0].msg.Text)
	require.Equal(t, "Segunda mensagem", f.sender.sent[1].msg.Text)
}
