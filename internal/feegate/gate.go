// Package feegate decides whether an order may proceed to delivery and
// produces the next fee-collection prompt. All functions are pure; the
// settlement set they operate on lives on the session record and is only
// ever written by that session's worker.
package feegate

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

// Settlement is the set of fee IDs confirmed as paid for the current order.
type Settlement map[int64]struct{}

// NewSettlement builds a settlement set from the IDs stored on a session.
func NewSettlement(ids []int64) Settlement {
	s := make(Settlement, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// IDs returns the settled fee IDs in ascending order, for persistence.
func (s Settlement) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Settled reports whether a fee ID is already recorded.
func (s Settlement) Settled(feeID int64) bool {
	_, ok := s[feeID]
	return ok
}

// Record adds feeID to the settlement. Recording the same ID any number of
// times yields the same set as recording it once; duplicate payment webhooks
// are absorbed here.
func Record(s Settlement, feeID int64) Settlement {
	if s == nil {
		s = make(Settlement, 1)
	}
	s[feeID] = struct{}{}
	return s
}

// NextUnsettled returns the active fee with the smallest display order not
// yet settled, or nil when the gate is open. Products that do not require
// fees before delivery always pass.
func NextUnsettled(product models.Product, fees []models.Fee, s Settlement) *models.Fee {
	if !product.RequireFees {
		return nil
	}
	var next *models.Fee
	for i := range fees {
		f := &fees[i]
		if !f.IsActive || s.Settled(f.ID) {
			continue
		}
		if next == nil || f.DisplayOrder < next.DisplayOrder {
			next = f
		}
	}
	return next
}

// Remaining counts the active fees not yet settled.
func Remaining(fees []models.Fee, s Settlement) int {
	n := 0
	for _, f := range fees {
		if f.IsActive && !s.Settled(f.ID) {
			n++
		}
	}
	return n
}

// TotalDue sums the amounts of active, unsettled fees. The result does not
// depend on display order.
func TotalDue(fees []models.Fee, s Settlement) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fees {
		if f.IsActive && !s.Settled(f.ID) {
			total = total.Add(f.Amount)
		}
	}
	return total
}

// Prompt resolves the collection message for one fee and attaches its payment
// button. The fee's own payment message and button text are used when set,
// otherwise the built-in defaults.
func Prompt(fee models.Fee, fees []models.Fee, s Settlement, base template.Context) template.Message {
	content := fee.PaymentMessage
	if content == "" {
		content = template.DefaultFeePrompt
	}
	ctx := base.Merge(template.Context{
		template.PlaceholderFeeName:   fee.Name,
		template.PlaceholderFeeAmount: template.FormatBRL(fee.Amount),
		template.PlaceholderFeeDesc:   fee.Description,
		template.PlaceholderFeesLeft:  strconv.Itoa(Remaining(fees, s)),
	})

	label := fee.ButtonText
	if label == "" {
		label = template.DefaultFeeButton
	}
	return template.Message{
		Text: template.Resolve(content, ctx),
		Buttons: []models.Button{
			{Text: label, Action: models.ButtonCallback, Value: PayAction(fee.ID)},
		},
	}
}

// PayAction builds the callback value that triggers payment-intent creation
// for one fee.
func PayAction(feeID int64) string {
	return "pay_fee:" + strconv.FormatInt(feeID, 10)
}
