// Package conversation holds the finite-state driver of one customer's
// purchase journey and the per-session dispatcher that serializes its input.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendezap/pixstore-bot/internal/feegate"
	"github.com/vendezap/pixstore-bot/internal/funnel"
	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

// CatalogStore is the read side of the catalog collaborator.
type CatalogStore interface {
	ActiveProducts(ctx context.Context) ([]models.Product, error)
	Product(ctx context.Context, id int64) (*models.Product, error)
	ActiveFees(ctx context.Context, productID int64) ([]models.Fee, error)
	ActiveTemplates(ctx context.Context, t models.MessageType) ([]models.MessageTemplate, error)
	FunnelLink(ctx context.Context, productID int64) (*models.FunnelLink, error)
}

// SessionStore persists the per-chat session record.
type SessionStore interface {
	Ensure(ctx context.Context, chatID int64, customerName string) (*models.Session, error)
	Save(ctx context.Context, sess *models.Session) error
}

// OrderStore records PIX charges and their settlement.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id int64) (*models.Order, error)
}

// Charger creates a payment intent with the external PIX provider.
type Charger interface {
	CreatePixCharge(ctx context.Context, amount decimal.Decimal, description, idempotencyKey string) (txID, copyPaste, qrURL string, err error)
}

// Sender is the messaging transport. GroupInviteLink turns a delivery group
// id into a client-openable invite.
type Sender interface {
	Send(ctx context.Context, chatID int64, msg template.Message) error
	GroupInviteLink(ctx context.Context, groupID string) (string, error)
}

// Options carries the conversation-level settings the machine needs.
type Options struct {
	Currency   string
	ReviewLink string
	FAQLink    string
}

// Machine drives the purchase conversation. It is the only writer of session
// records; callers must serialize events per chat (see Dispatcher).
type Machine struct {
	opts     Options
	catalog  CatalogStore
	sessions SessionStore
	orders   OrderStore
	charger  Charger
	sender   Sender
	log      *slog.Logger
}

func NewMachine(opts Options, catalog CatalogStore, sessions SessionStore, orders OrderStore, charger Charger, sender Sender, log *slog.Logger) *Machine {
	if opts.Currency == "" {
		opts.Currency = "BRL"
	}
	return &Machine{
		opts:     opts,
		catalog:  catalog,
		sessions: sessions,
		orders:   orders,
		charger:  charger,
		sender:   sender,
		log:      log,
	}
}

// Handle processes one event for one chat: load session, dispatch through
// the transition table, persist. Unknown or out-of-range input re-sends the
// current prompt and does not transition.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	sess, err := m.sessions.Ensure(ctx, ev.ChatID, ev.CustomerName)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	if ev.CustomerName != "" {
		sess.CustomerName = ev.CustomerName
	}

	switch ev.Kind {
	case EventStart:
		return m.handleStart(ctx, sess)
	case EventText:
		return m.handleText(ctx, sess, ev.Text)
	case EventCallback:
		return m.handleCallback(ctx, sess, ev.Action)
	case EventPaymentConfirmed:
		return m.handleOrderPaid(ctx, sess, ev.OrderID)
	case EventFeePaymentConfirmed:
		return m.handleFeePaid(ctx, sess, ev.FeeID)
	default:
		m.log.Warn("unknown event kind", "kind", ev.Kind, "chat", ev.ChatID)
		return nil
	}
}

// handleStart begins a fresh order cycle. The session record is superseded,
// never deleted: funnel cursor and fee settlement reset here.
func (m *Machine) handleStart(ctx context.Context, sess *models.Session) error {
	sess.SelectedProductID = nil
	sess.PendingOrderID = nil
	sess.FunnelStage = models.FunnelNone
	sess.FunnelCursor = 0
	sess.FeeSettlement = nil
	sess.ReminderSentAt = nil
	sess.State = models.StateWelcome

	if err := m.sendTyped(ctx, sess, models.MessageWelcome, m.baseContext(sess),
		models.Button{Text: "Ver catálogo", Action: models.ButtonCallback, Value: ActionViewCatalog},
	); err != nil {
		return err
	}
	return m.sessions.Save(ctx, sess)
}

func (m *Machine) handleText(ctx context.Context, sess *models.Session, text string) error {
	n, numeric := parseSelection(text)

	switch sess.State {
	case models.StateWelcome:
		if numeric {
			return m.showCatalog(ctx, sess)
		}
	case models.StateCatalog:
		if numeric {
			return m.selectProduct(ctx, sess, n)
		}
	}
	return m.rePrompt(ctx, sess)
}

func (m *Machine) handleCallback(ctx context.Context, sess *models.Session, action string) error {
	switch {
	case action == ActionViewCatalog:
		if sess.State == models.StateWelcome || sess.State == models.StateCatalog {
			return m.showCatalog(ctx, sess)
		}
	case action == ActionBuy:
		if sess.State == models.StateProductSelected {
			return m.createProductOrder(ctx, sess)
		}
	case strings.HasPrefix(action, ActionProductPrefix):
		if sess.State == models.StateCatalog {
			index, err := strconv.Atoi(strings.TrimPrefix(action, ActionProductPrefix))
			if err == nil {
				return m.selectProduct(ctx, sess, index)
			}
		}
	case strings.HasPrefix(action, "pay_fee:"):
		if sess.State == models.StateFeePending {
			feeID, err := strconv.ParseInt(strings.TrimPrefix(action, "pay_fee:"), 10, 64)
			if err == nil {
				return m.createFeeOrder(ctx, sess, feeID)
			}
		}
	case action == funnel.ActionUpsellAccept:
		if sess.State == models.StateUpsellOffered {
			return m.acceptOffer(ctx, sess)
		}
	case action == funnel.ActionUpsellDecline:
		if sess.State == models.StateUpsellOffered {
			return m.declineUpsell(ctx, sess)
		}
	case action == funnel.ActionDownsellAccept:
		if sess.State == models.StateDownsellOffered {
			return m.acceptOffer(ctx, sess)
		}
	case action == funnel.ActionDownsellDecline:
		if sess.State == models.StateDownsellOffered {
			return m.complete(ctx, sess)
		}
	}

	m.log.Info("unhandled callback, re-prompting", "action", action, "chat", sess.ChatID, "state", sess.State)
	return m.rePrompt(ctx, sess)
}

func (m *Machine) showCatalog(ctx context.Context, sess *models.Session) error {
	products, err := m.catalog.ActiveProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	base := m.baseContext(sess)
	if len(products) == 0 {
		return m.sendTyped(ctx, sess, models.MessageNoProducts, base)
	}

	if err := m.sendTyped(ctx, sess, models.MessageCatalog, base); err != nil {
		return err
	}

	var b strings.Builder
	buttons := make([]models.Button, 0, len(products))
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, p.Name, template.FormatBRL(p.Price))
		buttons = append(buttons, models.Button{
			Text:   fmt.Sprintf("%d", i+1),
			Action: models.ButtonCallback,
			Value:  fmt.Sprintf("%s%d", ActionProductPrefix, i+1),
		})
	}
	if err := m.sender.Send(ctx, sess.ChatID, template.Message{
		Text:    strings.TrimRight(b.String(), "\n"),
		Buttons: buttons,
	}); err != nil {
		return err
	}

	sess.State = models.StateCatalog
	return m.sessions.Save(ctx, sess)
}

func (m *Machine) selectProduct(ctx context.Context, sess *models.Session, index int) error {
	products, err := m.catalog.ActiveProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	if index < 1 || index > len(products) {
		m.log.Info("selection out of range", "chat", sess.ChatID, "index", index, "count", len(products))
		return m.rePrompt(ctx, sess)
	}
	product := products[index-1]

	if err := m.sendProductDetail(ctx, sess, product); err != nil {
		return err
	}
	sess.SelectedProductID = &product.ID
	sess.State = models.StateProductSelected
	return m.sessions.Save(ctx, sess)
}

func (m *Machine) sendProductDetail(ctx context.Context, sess *models.Session, product models.Product) error {
	tctx := template.ProductContext(m.baseContext(sess), product)
	buy := models.Button{Text: "Comprar", Action: models.ButtonCallback, Value: ActionBuy}

	tmpls, err := m.catalog.ActiveTemplates(ctx, models.MessageProductDetail)
	if err != nil {
		m.log.Error("load product_detail templates", "err", err)
		tmpls = nil
	}
	if len(tmpls) == 0 {
		return m.sender.Send(ctx, sess.ChatID, template.Message{
			Text:      template.Resolve(template.Default(models.MessageProductDetail), tctx),
			MediaURL:  product.MediaURL,
			MediaKind: product.MediaKind,
			Buttons:   []models.Button{buy},
		})
	}

	hasBuy := false
	for i, t := range tmpls {
		msg := template.FromTemplate(t, tctx)
		for _, btn := range msg.Buttons {
			if btn.Action == models.ButtonCallback && btn.Value == ActionBuy {
				hasBuy = true
			}
		}
		if i == len(tmpls)-1 && !hasBuy {
			msg.Buttons = append(msg.Buttons, buy)
		}
		if err := m.sender.Send(ctx, sess.ChatID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) createProductOrder(ctx context.Context, sess *models.Session) error {
	if sess.SelectedProductID == nil {
		return m.rePrompt(ctx, sess)
	}
	product, err := m.catalog.Product(ctx, *sess.SelectedProductID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		m.log.Warn("selected product vanished", "chat", sess.ChatID, "product", *sess.SelectedProductID)
		return m.rePrompt(ctx, sess)
	}

	order, err := m.openCharge(ctx, sess, *product, models.OrderProduct, product.Price, nil)
	if err != nil {
		return err
	}
	sess.PendingOrderID = &order.ID
	sess.State = models.StateAwaitingPayment
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}

	tctx := m.orderContext(sess, *product, order)
	// order_created is sent only when the storefront configured it.
	if err := m.sendTypedIfConfigured(ctx, sess, models.MessageOrderCreated, tctx); err != nil {
		return err
	}
	return m.sendTyped(ctx, sess, models.MessagePixGenerated, tctx)
}

// openCharge creates the PIX intent with the provider and records the order.
func (m *Machine) openCharge(ctx context.Context, sess *models.Session, product models.Product, kind models.OrderKind, amount decimal.Decimal, feeID *int64) (*models.Order, error) {
	description := product.Name
	if feeID != nil {
		description = fmt.Sprintf("%s (taxa)", product.Name)
	}
	txID, code, qrURL, err := m.charger.CreatePixCharge(ctx, amount, description, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("create pix charge: %w", err)
	}

	order := &models.Order{
		SessionID: sess.ID,
		ChatID:    sess.ChatID,
		ProductID: product.ID,
		FeeID:     feeID,
		Kind:      kind,
		Amount:    amount,
		Currency:  m.opts.Currency,
		PixTxID:   txID,
		PixCode:   code,
		QRCodeURL: qrURL,
		Status:    models.OrderPending,
	}
	if err := m.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("record order: %w", err)
	}
	return order, nil
}

func (m *Machine) handleOrderPaid(ctx context.Context, sess *models.Session, orderID int64) error {
	order, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		m.log.Warn("payment for unknown order", "chat", sess.ChatID, "order", orderID)
		return nil
	}

	product, err := m.catalog.Product(ctx, order.ProductID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		m.log.Warn("paid order references missing product", "order", orderID)
		return nil
	}

	switch order.Kind {
	case models.OrderUpsell, models.OrderDownsell:
		// Funnel conversions settle after the sequence completed; deliver the
		// target without touching session state.
		if err := m.sendTyped(ctx, sess, models.MessagePaymentConfirmed, template.ProductContext(m.baseContext(sess), *product)); err != nil {
			return err
		}
		return m.sendDelivery(ctx, sess, *product)
	case models.OrderProduct:
		// fall through
	default:
		return nil
	}

	// Redelivered webhook after the session advanced: silently absorbed.
	if sess.State != models.StateAwaitingPayment || sess.PendingOrderID == nil || *sess.PendingOrderID != order.ID {
		m.log.Info("duplicate or stale payment event", "chat", sess.ChatID, "order", orderID, "state", sess.State)
		return nil
	}

	sess.PendingOrderID = nil
	sess.State = models.StatePaymentConfirmed
	if err := m.sendTyped(ctx, sess, models.MessagePaymentConfirmed, template.ProductContext(m.baseContext(sess), *product)); err != nil {
		return err
	}

	fees, err := m.catalog.ActiveFees(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("load fees: %w", err)
	}
	settlement := feegate.NewSettlement(sess.FeeSettlement)
	if next := feegate.NextUnsettled(*product, fees, settlement); next != nil {
		sess.State = models.StateFeePending
		if err := m.sessions.Save(ctx, sess); err != nil {
			return err
		}
		return m.sender.Send(ctx, sess.ChatID, feegate.Prompt(*next, fees, settlement, m.baseContext(sess)))
	}
	return m.deliver(ctx, sess, *product)
}

func (m *Machine) createFeeOrder(ctx context.Context, sess *models.Session, feeID int64) error {
	product, fees, err := m.sessionProductFees(ctx, sess)
	if err != nil {
		return err
	}
	if product == nil {
		return m.rePrompt(ctx, sess)
	}
	settlement := feegate.NewSettlement(sess.FeeSettlement)
	next := feegate.NextUnsettled(*product, fees, settlement)
	if next == nil || next.ID != feeID {
		m.log.Info("fee payment request out of order", "chat", sess.ChatID, "fee", feeID)
		return m.rePrompt(ctx, sess)
	}

	// A repeated tap on the same fee button resends the open charge instead
	// of producing a second payable code for the same fee.
	if sess.PendingOrderID != nil {
		pending, err := m.orders.Get(ctx, *sess.PendingOrderID)
		if err != nil {
			return fmt.Errorf("load pending order: %w", err)
		}
		if pending != nil && pending.Kind == models.OrderFee && pending.Status == models.OrderPending &&
			pending.FeeID != nil && *pending.FeeID == feeID {
			return m.sendTyped(ctx, sess, models.MessagePixGenerated, m.orderContext(sess, *product, pending))
		}
	}

	order, err := m.openCharge(ctx, sess, *product, models.OrderFee, next.Amount, &next.ID)
	if err != nil {
		return err
	}
	sess.PendingOrderID = &order.ID
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	return m.sendTyped(ctx, sess, models.MessagePixGenerated, m.orderContext(sess, *product, order))
}

func (m *Machine) handleFeePaid(ctx context.Context, sess *models.Session, feeID int64) error {
	if sess.State != models.StateFeePending {
		m.log.Info("fee settlement outside fee_pending, absorbed", "chat", sess.ChatID, "fee", feeID, "state", sess.State)
		return nil
	}
	product, fees, err := m.sessionProductFees(ctx, sess)
	if err != nil {
		return err
	}
	if product == nil {
		return nil
	}

	belongs := false
	for _, f := range fees {
		if f.ID == feeID {
			belongs = true
			break
		}
	}
	if !belongs {
		m.log.Warn("fee settlement for foreign fee", "chat", sess.ChatID, "fee", feeID)
		return nil
	}

	if feegate.NewSettlement(sess.FeeSettlement).Settled(feeID) {
		m.log.Info("duplicate fee settlement absorbed", "chat", sess.ChatID, "fee", feeID)
		return nil
	}

	settlement := feegate.Record(feegate.NewSettlement(sess.FeeSettlement), feeID)
	sess.FeeSettlement = settlement.IDs()
	sess.PendingOrderID = nil

	if next := feegate.NextUnsettled(*product, fees, settlement); next != nil {
		if err := m.sessions.Save(ctx, sess); err != nil {
			return err
		}
		return m.sender.Send(ctx, sess.ChatID, feegate.Prompt(*next, fees, settlement, m.baseContext(sess)))
	}
	return m.deliver(ctx, sess, *product)
}

// deliver sends the product, thanks the customer and hands off to the funnel.
func (m *Machine) deliver(ctx context.Context, sess *models.Session, product models.Product) error {
	if err := m.sendDelivery(ctx, sess, product); err != nil {
		return err
	}
	if err := m.sendTyped(ctx, sess, models.MessageThankYou, template.ProductContext(m.baseContext(sess), product)); err != nil {
		return err
	}
	sess.State = models.StateDelivered
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	return m.enterFunnel(ctx, sess, product)
}

func (m *Machine) sendDelivery(ctx context.Context, sess *models.Session, product models.Product) error {
	tctx := template.ProductContext(m.baseContext(sess), product)
	var buttons []models.Button
	if product.FileURL != "" {
		tctx[template.PlaceholderDeliveryLink] = product.FileURL
		buttons = append(buttons, models.Button{Text: "📥 Baixar produto", Action: models.ButtonURL, Value: product.FileURL})
	}
	if product.GroupID != "" {
		link, err := m.sender.GroupInviteLink(ctx, product.GroupID)
		if err != nil {
			m.log.Error("group invite link", "err", err, "group", product.GroupID)
		} else {
			tctx[template.PlaceholderGroupLink] = link
			buttons = append(buttons, models.Button{Text: "Entrar no grupo", Action: models.ButtonURL, Value: link})
		}
	}
	return m.sendTyped(ctx, sess, models.MessageDelivery, tctx, buttons...)
}

func (m *Machine) enterFunnel(ctx context.Context, sess *models.Session, product models.Product) error {
	link, err := m.catalog.FunnelLink(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("load funnel link: %w", err)
	}
	resolved := funnel.Resolve(link, product.LegacyUpsellProductID)
	if resolved == nil {
		return m.complete(ctx, sess)
	}

	sess.FunnelCursor = 0
	if len(resolved.Upsells) > 0 {
		sess.FunnelStage = models.FunnelUpsell
		return m.presentUpsell(ctx, sess, resolved)
	}
	sess.FunnelStage = models.FunnelDownsell
	return m.presentDownsell(ctx, sess, resolved)
}

func (m *Machine) presentUpsell(ctx context.Context, sess *models.Session, link *models.FunnelLink) error {
	offer := funnel.OfferAt(sess.FunnelCursor, link.Upsells)
	if offer == nil {
		return m.afterUpsellChain(ctx, sess, link)
	}
	target, err := m.catalog.Product(ctx, offer.TargetProductID)
	if err != nil {
		return fmt.Errorf("load upsell target: %w", err)
	}
	if target == nil {
		m.log.Warn("upsell target missing, skipping", "target", offer.TargetProductID)
		sess.FunnelCursor++
		return m.presentUpsell(ctx, sess, link)
	}

	msg := funnel.BuildUpsell(*offer, *target, m.typedContent(ctx, models.MessageUpsell), m.baseContext(sess))
	if err := m.sender.Send(ctx, sess.ChatID, msg); err != nil {
		return err
	}
	sess.State = models.StateUpsellOffered
	return m.sessions.Save(ctx, sess)
}

func (m *Machine) presentDownsell(ctx context.Context, sess *models.Session, link *models.FunnelLink) error {
	if link.Downsell == nil {
		return m.complete(ctx, sess)
	}
	target, err := m.catalog.Product(ctx, link.Downsell.TargetProductID)
	if err != nil {
		return fmt.Errorf("load downsell target: %w", err)
	}
	if target == nil {
		m.log.Warn("downsell target missing", "target", link.Downsell.TargetProductID)
		return m.complete(ctx, sess)
	}

	msg := funnel.BuildDownsell(*link.Downsell, *target, m.typedContent(ctx, models.MessageDownsell), m.baseContext(sess))
	if err := m.sender.Send(ctx, sess.ChatID, msg); err != nil {
		return err
	}
	sess.FunnelStage = models.FunnelDownsell
	sess.State = models.StateDownsellOffered
	return m.sessions.Save(ctx, sess)
}

// acceptOffer records the conversion: a charge for the target product is
// opened, its PIX code sent, and the sequence ends. The resulting payment
// settles out of band and delivers the target then.
func (m *Machine) acceptOffer(ctx context.Context, sess *models.Session) error {
	target, kind, err := m.currentOfferTarget(ctx, sess)
	if err != nil {
		return err
	}
	if target == nil {
		return m.complete(ctx, sess)
	}

	order, err := m.openCharge(ctx, sess, *target, kind, target.Price, nil)
	if err != nil {
		return err
	}
	if err := m.sendTyped(ctx, sess, models.MessagePixGenerated, m.orderContext(sess, *target, order)); err != nil {
		return err
	}
	return m.complete(ctx, sess)
}

func (m *Machine) declineUpsell(ctx context.Context, sess *models.Session) error {
	link, err := m.sessionFunnel(ctx, sess)
	if err != nil {
		return err
	}
	if link == nil {
		return m.complete(ctx, sess)
	}

	// Cursor only ever moves forward within an order cycle.
	sess.FunnelCursor++
	if funnel.OfferAt(sess.FunnelCursor, link.Upsells) != nil {
		return m.presentUpsell(ctx, sess, link)
	}
	return m.afterUpsellChain(ctx, sess, link)
}

func (m *Machine) afterUpsellChain(ctx context.Context, sess *models.Session, link *models.FunnelLink) error {
	if link.Downsell != nil {
		return m.presentDownsell(ctx, sess, link)
	}
	return m.complete(ctx, sess)
}

func (m *Machine) complete(ctx context.Context, sess *models.Session) error {
	sess.State = models.StateCompleted
	sess.FunnelStage = models.FunnelNone
	return m.sessions.Save(ctx, sess)
}

// currentOfferTarget resolves the product behind the offer being shown.
func (m *Machine) currentOfferTarget(ctx context.Context, sess *models.Session) (*models.Product, models.OrderKind, error) {
	link, err := m.sessionFunnel(ctx, sess)
	if err != nil {
		return nil, "", err
	}
	if link == nil {
		return nil, "", nil
	}

	if sess.State == models.StateDownsellOffered {
		if link.Downsell == nil {
			return nil, "", nil
		}
		target, err := m.catalog.Product(ctx, link.Downsell.TargetProductID)
		if err != nil {
			return nil, "", fmt.Errorf("load downsell target: %w", err)
		}
		return target, models.OrderDownsell, nil
	}

	offer := funnel.OfferAt(sess.FunnelCursor, link.Upsells)
	if offer == nil {
		return nil, "", nil
	}
	target, err := m.catalog.Product(ctx, offer.TargetProductID)
	if err != nil {
		return nil, "", fmt.Errorf("load upsell target: %w", err)
	}
	return target, models.OrderUpsell, nil
}

func (m *Machine) sessionFunnel(ctx context.Context, sess *models.Session) (*models.FunnelLink, error) {
	if sess.SelectedProductID == nil {
		return nil, nil
	}
	product, err := m.catalog.Product(ctx, *sess.SelectedProductID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return nil, nil
	}
	link, err := m.catalog.FunnelLink(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("load funnel link: %w", err)
	}
	return funnel.Resolve(link, product.LegacyUpsellProductID), nil
}

func (m *Machine) sessionProductFees(ctx context.Context, sess *models.Session) (*models.Product, []models.Fee, error) {
	if sess.SelectedProductID == nil {
		return nil, nil, nil
	}
	product, err := m.catalog.Product(ctx, *sess.SelectedProductID)
	if err != nil {
		return nil, nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return nil, nil, nil
	}
	fees, err := m.catalog.ActiveFees(ctx, product.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load fees: %w", err)
	}
	return product, fees, nil
}

// rePrompt re-sends the prompt for the current state. This is the defensive
// answer to every unknown input.
func (m *Machine) rePrompt(ctx context.Context, sess *models.Session) error {
	switch sess.State {
	case models.StateWelcome:
		return m.sendTyped(ctx, sess, models.MessageWelcome, m.baseContext(sess),
			models.Button{Text: "Ver catálogo", Action: models.ButtonCallback, Value: ActionViewCatalog})
	case models.StateCatalog:
		return m.showCatalog(ctx, sess)
	case models.StateProductSelected:
		if sess.SelectedProductID != nil {
			product, err := m.catalog.Product(ctx, *sess.SelectedProductID)
			if err == nil && product != nil {
				return m.sendProductDetail(ctx, sess, *product)
			}
		}
	case models.StateAwaitingPayment:
		if sess.PendingOrderID != nil {
			order, err := m.orders.Get(ctx, *sess.PendingOrderID)
			if err == nil && order != nil {
				if product, perr := m.catalog.Product(ctx, order.ProductID); perr == nil && product != nil {
					return m.sendTyped(ctx, sess, models.MessagePixGenerated, m.orderContext(sess, *product, order))
				}
			}
		}
	case models.StateFeePending:
		product, fees, err := m.sessionProductFees(ctx, sess)
		if err == nil && product != nil {
			settlement := feegate.NewSettlement(sess.FeeSettlement)
			if next := feegate.NextUnsettled(*product, fees, settlement); next != nil {
				return m.sender.Send(ctx, sess.ChatID, feegate.Prompt(*next, fees, settlement, m.baseContext(sess)))
			}
		}
	case models.StateUpsellOffered, models.StateDownsellOffered:
		target, _, err := m.currentOfferTarget(ctx, sess)
		if err == nil && target != nil {
			link, lerr := m.sessionFunnel(ctx, sess)
			if lerr == nil && link != nil {
				if sess.State == models.StateDownsellOffered {
					return m.presentDownsell(ctx, sess, link)
				}
				return m.presentUpsell(ctx, sess, link)
			}
		}
	}
	return m.sendTyped(ctx, sess, models.MessageSupport, m.baseContext(sess))
}

// sendTyped sends every active template of the given type in display order,
// or the built-in default (with fallbackButtons) when none is configured.
func (m *Machine) sendTyped(ctx context.Context, sess *models.Session, mt models.MessageType, tctx template.Context, fallbackButtons ...models.Button) error {
	tmpls, err := m.catalog.ActiveTemplates(ctx, mt)
	if err != nil {
		m.log.Error("load templates, falling back to default", "type", mt, "err", err)
		tmpls = nil
	}
	if len(tmpls) == 0 {
		return m.sender.Send(ctx, sess.ChatID, template.Message{
			Text:    template.Resolve(template.Default(mt), tctx),
			Buttons: fallbackButtons,
		})
	}
	for _, t := range tmpls {
		if err := m.sender.Send(ctx, sess.ChatID, template.FromTemplate(t, tctx)); err != nil {
			return err
		}
	}
	return nil
}

// sendTypedIfConfigured sends active templates of a type and stays silent
// when there are none.
func (m *Machine) sendTypedIfConfigured(ctx context.Context, sess *models.Session, mt models.MessageType, tctx template.Context) error {
	tmpls, err := m.catalog.ActiveTemplates(ctx, mt)
	if err != nil {
		m.log.Error("load templates", "type", mt, "err", err)
		return nil
	}
	for _, t := range tmpls {
		if err := m.sender.Send(ctx, sess.ChatID, template.FromTemplate(t, tctx)); err != nil {
			return err
		}
	}
	return nil
}

// typedContent returns the first active template's content for a type, or
// empty when none is configured.
func (m *Machine) typedContent(ctx context.Context, mt models.MessageType) string {
	tmpls, err := m.catalog.ActiveTemplates(ctx, mt)
	if err != nil {
		m.log.Error("load templates", "type", mt, "err", err)
		return ""
	}
	if len(tmpls) == 0 {
		return ""
	}
	return tmpls[0].Content
}

func (m *Machine) baseContext(sess *models.Session) template.Context {
	ctx := template.CustomerContext(sess.CustomerName)
	if m.opts.ReviewLink != "" {
		ctx[template.PlaceholderReviewLink] = m.opts.ReviewLink
	}
	if m.opts.FAQLink != "" {
		ctx[template.PlaceholderFAQLink] = m.opts.FAQLink
	}
	return ctx
}

func (m *Machine) orderContext(sess *models.Session, product models.Product, order *models.Order) template.Context {
	return template.ProductContext(m.baseContext(sess), product).Merge(template.Context{
		template.PlaceholderPixCode: order.PixCode,
		template.PlaceholderOrderID: "#" + strconv.FormatInt(order.ID, 10),
		template.PlaceholderPrice:   template.FormatBRL(order.Amount),
	})
}

func parseSelection(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, false
	}
	return n, true
}
