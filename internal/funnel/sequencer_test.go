package funnel

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

func offers() []models.UpsellOffer {
	return []models.UpsellOffer{
		{ID: 30, TargetProductID: 103, DisplayOrder: 3},
		{ID: 10, TargetProductID: 101, DisplayOrder: 1},
		{ID: 20, TargetProductID: 102, DisplayOrder: 2},
	}
}

func TestOfferAtWalksDisplayOrder(t *testing.T) {
	list := offers()

	first := OfferAt(0, list)
	require.NotNil(t, first)
	require.Equal(t, int64(101), first.TargetProductID)

	second := OfferAt(1, list)
	require.NotNil(t, second)
	require.Equal(t, int64(102), second.TargetProductID)

	third := OfferAt(2, list)
	require.NotNil(t, third)
	require.Equal(t, int64(103), third.TargetProductID)
}

func TestOfferAtPastEndReturnsNil(t *testing.T) {
	require.Nil(t, OfferAt(3, offers()))
	require.Nil(t, OfferAt(-1, offers()))
	require.Nil(t, OfferAt(0, nil))
}

func TestOfferAtDoesNotMutateInput(t *testing.T) {
	list := offers()
	_ = OfferAt(0, list)
	require.Equal(t, int64(30), list[0].ID)
}

func TestResolveOrderedListSupersedesLegacy(t *testing.T) {
	legacy := int64(55)
	link := &models.FunnelLink{
		Upsells: []models.UpsellOffer{{TargetProductID: 101, DisplayOrder: 1}},
	}
	got := Resolve(link, &legacy)
	require.Same(t, link, got)
}

func TestResolveFallsBackToLegacySingleUpsell(t *testing.T) {
	legacy := int64(55)
	got := Resolve(nil, &legacy)
	require.NotNil(t, got)
	require.Len(t, got.Upsells, 1)
	require.Equal(t, int64(55), got.Upsells[0].TargetProductID)

	got = Resolve(&models.FunnelLink{}, &legacy)
	require.NotNil(t, got)
	require.Equal(t, int64(55), got.Upsells[0].TargetProductID)
}

func TestResolveNoFunnelConfigured(t *testing.T) {
	require.Nil(t, Resolve(nil, nil))
	require.Nil(t, Resolve(&models.FunnelLink{}, nil))
}

func TestBuildUpsellPrefersOverride(t *testing.T) {
	target := models.Product{
		Name:  "Mentoria",
		Price: decimal.RequireFromString("197"),
	}
	offer := models.UpsellOffer{MessageOverride: "Leve {produto} por {valor}!"}

	msg := BuildUpsell(offer, target, "template ignorado", template.Context{})
	require.Equal(t, "Leve Mentoria por R$ 197,00!", msg.Text)
	require.Len(t, msg.Buttons, 2)
	require.Equal(t, ActionUpsellAccept, msg.Buttons[0].Value)
	require.Equal(t, ActionUpsellDecline, msg.Buttons[1].Value)
}

func TestBuildUpsellUsesTemplateThenDefault(t *testing.T) {
	target := models.Product{Name: "Mentoria", Price: decimal.RequireFromString("197")}

	msg := BuildUpsell(models.UpsellOffer{}, target, "Oferta: {produto}", template.Context{})
	require.Equal(t, "Oferta: Mentoria", msg.Text)

	msg = BuildUpsell(models.UpsellOffer{}, target, "", template.Context{})
	require.Contains(t, msg.Text, "Mentoria")
	require.Contains(t, msg.Text, "R$ 197,00")
}

func TestBuildDownsellButtons(t *testing.T) {
	target := models.Product{Name: "Ebook", Price: decimal.RequireFromString("27")}
	msg := BuildDownsell(models.DownsellOffer{}, target, "", template.Context{})
	require.Len(t, msg.Buttons, 2)
	require.Equal(t, ActionDownsellAccept, msg.Buttons[0].Value)
	require.Equal(t, ActionDownsellDecline, msg.Buttons[1].Value)
}
