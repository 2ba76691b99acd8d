// Package funnel drives the ordered upsell chain and the trailing downsell
// presented after a completed order. The cursor stored on the session is an
// index into the offer list as ordered at the time of use; the list is
// re-read on every step, so administrative reordering mid-sequence is an
// accepted race rather than an error.
package funnel

import (
	"sort"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

// Callback values produced by offer buttons.
const (
	ActionUpsellAccept    = "upsell_accept"
	ActionUpsellDecline   = "upsell_decline"
	ActionDownsellAccept  = "downsell_accept"
	ActionDownsellDecline = "downsell_decline"
)

// OfferAt returns the offer at position cursor in offers sorted by display
// order, or nil when the cursor has walked past the end of the chain.
func OfferAt(cursor int, offers []models.UpsellOffer) *models.UpsellOffer {
	if cursor < 0 || cursor >= len(offers) {
		return nil
	}
	sorted := make([]models.UpsellOffer, len(offers))
	copy(sorted, offers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})
	offer := sorted[cursor]
	return &offer
}

// Resolve picks the effective funnel for a product: the ordered offer list
// supersedes the legacy single upsell column whenever both exist. A legacy
// link with no ordered offers is presented as a single-offer chain.
func Resolve(link *models.FunnelLink, legacyTargetID *int64) *models.FunnelLink {
	if link != nil && (len(link.Upsells) > 0 || link.Downsell != nil) {
		return link
	}
	if legacyTargetID != nil {
		return &models.FunnelLink{
			Upsells: []models.UpsellOffer{{TargetProductID: *legacyTargetID, DisplayOrder: 1}},
		}
	}
	return nil
}

// BuildUpsell resolves the presentation message for one upsell offer: the
// stored override when present, otherwise templateContent (an active upsell
// template, or the built-in default). Accept and decline buttons are always
// attached.
func BuildUpsell(offer models.UpsellOffer, target models.Product, templateContent string, base template.Context) template.Message {
	content := offer.MessageOverride
	if content == "" {
		content = templateContent
	}
	if content == "" {
		content = template.Default(models.MessageUpsell)
	}
	ctx := template.ProductContext(base, target)
	return template.Message{
		Text:      template.Resolve(content, ctx),
		MediaURL:  target.MediaURL,
		MediaKind: target.MediaKind,
		Buttons: []models.Button{
			{Text: "Quero aproveitar", Action: models.ButtonCallback, Value: ActionUpsellAccept},
			{Text: "Não, obrigado", Action: models.ButtonCallback, Value: ActionUpsellDecline},
		},
	}
}

// BuildDownsell is the single-offer variant shown after the last declined
// upsell.
func BuildDownsell(offer models.DownsellOffer, target models.Product, templateContent string, base template.Context) template.Message {
	content := offer.MessageOverride
	if content == "" {
		content = templateContent
	}
	if content == "" {
		content = template.Default(models.MessageDownsell)
	}
	ctx := template.ProductContext(base, target)
	return template.Message{
		Text:      template.Resolve(content, ctx),
		MediaURL:  target.MediaURL,
		MediaKind: target.MediaKind,
		Buttons: []models.Button{
			{Text: "Quero aproveitar", Action: models.ButtonCallback, Value: ActionDownsellAccept},
			{Text: "Não, obrigado", Action: models.ButtonCallback, Value: ActionDownsellDecline},
		},
	}
}
