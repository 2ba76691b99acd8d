package feegate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

func fee(id int64, name string, amount string, order int, active bool) models.Fee {
	return models.Fee{
		ID:           id,
		Name:         name,
		Amount:       decimal.RequireFromString(amount),
		DisplayOrder: order,
		IsActive:     active,
	}
}

func TestNextUnsettledFollowsDisplayOrder(t *testing.T) {
	product := models.Product{RequireFees: true}
	fees := []models.Fee{
		fee(3, "Frete", "10.00", 3, true),
		fee(1, "Garantia", "5.00", 1, true),
		fee(2, "Seguro", "7.50", 2, true),
	}

	s := Settlement{}
	next := NextUnsettled(product, fees, s)
	require.NotNil(t, next)
	require.Equal(t, int64(1), next.ID)

	s = Record(s, 1)
	next = NextUnsettled(product, fees, s)
	require.NotNil(t, next)
	require.Equal(t, int64(2), next.ID)

	s = Record(s, 2)
	s = Record(s, 3)
	require.Nil(t, NextUnsettled(product, fees, s))
}

func TestNextUnsettledSkipsInactiveFees(t *testing.T) {
	product := models.Product{RequireFees: true}
	fees := []models.Fee{
		fee(1, "Garantia", "5.00", 1, false),
		fee(2, "Seguro", "7.50", 2, true),
	}
	next := NextUnsettled(product, fees, Settlement{})
	require.NotNil(t, next)
	require.Equal(t, int64(2), next.ID)
}

func TestGateIsNoopWhenProductDoesNotRequireFees(t *testing.T) {
	product := models.Product{RequireFees: false}
	fees := []models.Fee{fee(1, "Garantia", "5.00", 1, true)}
	require.Nil(t, NextUnsettled(product, fees, Settlement{}))
}

func TestRecordIsIdempotent(t *testing.T) {
	s := Settlement{}
	s = Record(s, 7)
	once := s.IDs()
	for i := 0; i < 5; i++ {
		s = Record(s, 7)
	}
	require.Equal(t, once, s.IDs())
	require.Equal(t, []int64{7}, s.IDs())
}

func TestRecordOnNilSettlement(t *testing.T) {
	var s Settlement
	s = Record(s, 1)
	require.True(t, s.Settled(1))
}

func TestTotalDueIgnoresSettledAndInactive(t *testing.T) {
	fees := []models.Fee{
		fee(1, "A", "5.00", 2, true),
		fee(2, "B", "7.50", 1, true),
		fee(3, "C", "100.00", 3, false),
	}
	s := Settlement{}
	require.True(t, TotalDue(fees, s).Equal(decimal.RequireFromString("12.50")))

	s = Record(s, 2)
	require.True(t, TotalDue(fees, s).Equal(decimal.RequireFromString("5.00")))
}

func TestTotalDueIndependentOfDisplayOrder(t *testing.T) {
	a := []models.Fee{
		fee(1, "A", "5.00", 1, true),
		fee(2, "B", "7.50", 2, true),
	}
	b := []models.Fee{
		fee(2, "B", "7.50", 1, true),
		fee(1, "A", "5.00", 2, true),
	}
	require.True(t, TotalDue(a, nil).Equal(TotalDue(b, nil)))
}

func TestPromptResolvesFeeMessageAndButton(t *testing.T) {
	f := fee(9, "Taxa de entrega", "25.00", 1, true)
	f.Description = "Cobrança única"
	f.PaymentMessage = "Pague {taxa} ({valor_taxa}) — faltam {taxas_restantes}"
	f.ButtonText = "Pagar agora"
	fees := []models.Fee{f, fee(10, "Outra", "5.00", 2, true)}

	msg := Prompt(f, fees, Settlement{}, template.Context{})
	require.Equal(t, "Pague Taxa de entrega (R$ 25,00) — faltam 2", msg.Text)
	require.Len(t, msg.Buttons, 1)
	require.Equal(t, "Pagar agora", msg.Buttons[0].Text)
	require.Equal(t, models.ButtonCallback, msg.Buttons[0].Action)
	require.Equal(t, "pay_fee:9", msg.Buttons[0].Value)
}

func TestPromptFallsBackToDefaults(t *testing.T) {
	f := fee(4, "Ativação", "9.90", 1, true)
	msg := Prompt(f, []models.Fee{f}, Settlement{}, template.Context{})
	require.Contains(t, msg.Text, "Ativação")
	require.Contains(t, msg.Text, "R$ 9,90")
	require.Equal(t, template.DefaultFeeButton, msg.Buttons[0].Text)
}

func TestSettlementRetainsRemovedFees(t *testing.T) {
	// A fee deactivated after being settled stays recorded; it simply no
	// longer counts toward the remaining total.
	fees := []models.Fee{
		fee(1, "A", "5.00", 1, true),
		fee(2, "B", "7.50", 2, true),
	}
	s := Record(Settlement{}, 1)

	fees[0].IsActive = false
	require.True(t, s.Settled(1))
	require.Equal(t, 1, Remaining(fees, s))
	require.True(t, TotalDue(fees, s).Equal(decimal.RequireFromString("7.50")))
}
