package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MessageType identifies a slot in the conversation for which stored
// templates may exist. Multiple active templates may share a type; they are
// sent in ascending display order.
type MessageType string

const (
	MessageWelcome          MessageType = "welcome"
	MessageCatalog          MessageType = "catalog"
	MessageProductDetail    MessageType = "product_detail"
	MessagePixGenerated     MessageType = "pix_generated"
	MessagePaymentConfirmed MessageType = "payment_confirmed"
	MessageDelivery         MessageType = "delivery"
	MessageThankYou         MessageType = "thank_you"
	MessageCartReminder     MessageType = "cart_reminder"
	MessageUpsell           MessageType = "upsell"
	MessageDownsell         MessageType = "downsell"
	MessageSupport          MessageType = "support"
	MessageOrderCreated     MessageType = "order_created"
	MessageOrderCancelled   MessageType = "order_cancelled"
	MessageNoProducts       MessageType = "no_products"
)

type ButtonAction string

const (
	ButtonCallback ButtonAction = "callback"
	ButtonURL      ButtonAction = "url"
)

// Button is one inline action attached to an outbound message. Callback
// buttons route their Value back into the conversation as an event; URL
// buttons open a link on the client.
type Button struct {
	Text   string       `json:"text"`
	Action ButtonAction `json:"action"`
	Value  string       `json:"value"`
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

type MessageTemplate struct {
	ID           int64
	OwnerID      int64
	Type         MessageType
	Content      string
	MediaURL     string
	MediaKind    MediaKind
	Buttons      []Button
	IsActive     bool
	DisplayOrder int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product is one sellable item. FileURL and GroupID are the delivery
// targets; either, both or neither may be set.
type Product struct {
	ID                    int64
	OwnerID               int64
	Name                  string
	Price                 decimal.Decimal
	Description           string
	MediaURL              string
	MediaKind             MediaKind
	FileURL               string
	GroupID               string
	RequireFees           bool
	LegacyUpsellProductID *int64
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Fee is a mandatory charge tied to a product. Active fees are collected in
// ascending DisplayOrder before delivery when the product requires it.
type Fee struct {
	ID             int64
	ProductID      int64
	Name           string
	Amount         decimal.Decimal
	Description    string
	PaymentMessage string
	ButtonText     string
	IsActive       bool
	DisplayOrder   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type UpsellOffer struct {
	ID              int64
	ProductID       int64
	TargetProductID int64
	MessageOverride string
	DisplayOrder    int
	CreatedAt       time.Time
}

type DownsellOffer struct {
	ID              int64
	ProductID       int64
	TargetProductID int64
	MessageOverride string
	CreatedAt       time.Time
}

// FunnelLink groups the post-purchase offers configured for a product: an
// ordered upsell chain plus at most one trailing downsell.
type FunnelLink struct {
	ProductID int64
	Upsells   []UpsellOffer
	Downsell  *DownsellOffer
}

type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateWelcome          SessionState = "welcome"
	StateCatalog          SessionState = "catalog"
	StateProductSelected  SessionState = "product_selected"
	StateAwaitingPayment  SessionState = "awaiting_payment"
	StatePaymentConfirmed SessionState = "payment_confirmed"
	StateFeePending       SessionState = "fee_pending"
	StateDelivered        SessionState = "delivered"
	StateUpsellOffered    SessionState = "upsell_offered"
	StateDownsellOffered  SessionState = "downsell_offered"
	StateCompleted        SessionState = "completed"
	StateAbandoned        SessionState = "abandoned"
)

type FunnelStage string

const (
	FunnelNone     FunnelStage = "none"
	FunnelUpsell   FunnelStage = "upsell"
	FunnelDownsell FunnelStage = "downsell"
)

// Session is the durable record of one chat's progress through the purchase
// conversation. It is mutated only by the state machine, one writer per chat.
// A new order cycle resets FunnelCursor and FeeSettlement; within one cycle
// the cursor only ever increases.
type Session struct {
	ID                int64
	ChatID            int64
	CustomerName      string
	State             SessionState
	SelectedProductID *int64
	FunnelStage       FunnelStage
	FunnelCursor      int
	FeeSettlement     []int64
	PendingOrderID    *int64
	ReminderSentAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type OrderKind string

const (
	OrderProduct  OrderKind = "product"
	OrderFee      OrderKind = "fee"
	OrderUpsell   OrderKind = "upsell"
	OrderDownsell OrderKind = "downsell"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// Order is one PIX charge: the main product purchase, a mandatory fee, or a
// funnel conversion. PixTxID is the provider transaction id reported back by
// the payment webhook.
type Order struct {
	ID         int64
	SessionID  int64
	ChatID     int64
	ProductID  int64
	FeeID      *int64
	Kind       OrderKind
	Amount     decimal.Decimal
	Currency   string
	PixTxID    string
	PixCode    string
	QRCodeURL  string
	Status     OrderStatus
	RawPayload string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
