package conversation

// EventKind is the strict taxonomy of inputs the state machine accepts.
// Anything the transport cannot map onto one of these is dropped before it
// reaches the machine; anything the machine cannot use in the current state
// is a re-prompt, never an error.
type EventKind string

const (
	// EventStart is the /start command: begins (or restarts) an order cycle.
	EventStart EventKind = "start"
	// EventText is a free-form text message; only numeric selections are
	// meaningful, everything else re-prompts.
	EventText EventKind = "text"
	// EventCallback is a button press carrying its action value.
	EventCallback EventKind = "callback"
	// EventPaymentConfirmed reports a settled product or funnel charge.
	EventPaymentConfirmed EventKind = "payment_confirmed"
	// EventFeePaymentConfirmed reports a settled mandatory fee.
	EventFeePaymentConfirmed EventKind = "fee_payment_confirmed"
)

// Event is one unit of input for a single session. Events for the same chat
// are processed strictly in arrival order.
type Event struct {
	Kind         EventKind
	ChatID       int64
	CustomerName string
	Text         string
	Action       string
	OrderID      int64
	FeeID        int64
}

// Callback action values understood outside the funnel.
const (
	ActionViewCatalog = "view_catalog"
	ActionBuy         = "buy"
	// ActionProductPrefix is followed by the 1-based catalog index.
	ActionProductPrefix = "product:"
)
