package template

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendezap/pixstore-bot/internal/models"
)

func TestResolveSubstitutesKnownTokens(t *testing.T) {
	ctx := Context{
		"produto": "Curso Premium",
		"valor":   "R$ 97,00",
	}
	got := Resolve("{produto} - {valor}", ctx)
	require.Equal(t, "Curso Premium - R$ 97,00", got)
}

func TestResolveEmptyContextLeavesContentUnchanged(t *testing.T) {
	content := "{produto} - {valor}"
	require.Equal(t, content, Resolve(content, Context{}))
	require.Equal(t, content, Resolve(content, nil))
}

func TestResolveLeavesUnknownTokensVerbatim(t *testing.T) {
	ctx := Context{"nome": "Maria Silva"}
	got := Resolve("Oi {nome}, pedido {pedido} em {inexistente}", ctx)
	require.Equal(t, "Oi Maria Silva, pedido {pedido} em {inexistente}", got)
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := Context{
		"nome":    "João",
		"produto": "Ebook",
		"valor":   "R$ 19,90",
	}
	content := "Olá {nome}! {produto} custa {valor}. Token {desconhecido} fica."
	once := Resolve(content, ctx)
	require.Equal(t, once, Resolve(once, ctx))
}

func TestResolveDoesNotRescanResolvedValues(t *testing.T) {
	// A value containing a placeholder-shaped token must not be substituted
	// a second time within the same pass.
	ctx := Context{
		"produto": "{valor}",
		"valor":   "R$ 10,00",
	}
	require.Equal(t, "{valor}", Resolve("{produto}", ctx))
}

func TestResolvePreservesRichTextMarkers(t *testing.T) {
	ctx := Context{"produto": "Curso"}
	got := Resolve("*{produto}* _novo_ `codigo`", ctx)
	require.Equal(t, "*Curso* _novo_ `codigo`", got)
}

func TestFormatBRL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"97", "R$ 97,00"},
		{"19.9", "R$ 19,90"},
		{"1234.56", "R$ 1.234,56"},
		{"999999.99", "R$ 999.999,99"},
		{"0.5", "R$ 0,50"},
		{"-12.3", "-R$ 12,30"},
	}
	for _, tc := range cases {
		d, err := decimal.NewFromString(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, FormatBRL(d), "input %s", tc.in)
	}
}

func TestFirstName(t *testing.T) {
	require.Equal(t, "Maria", FirstName("Maria Silva"))
	require.Equal(t, "Maria", FirstName("Maria"))
	require.Equal(t, "", FirstName("  "))
}

func TestFromTemplateResolvesButtonsAndURLs(t *testing.T) {
	tmpl := models.MessageTemplate{
		Content:   "Veja {produto}",
		MediaURL:  "https://cdn.example.com/p.jpg",
		MediaKind: models.MediaPhoto,
		Buttons: []models.Button{
			{Text: "Comprar {produto}", Action: models.ButtonCallback, Value: "buy"},
			{Text: "Avaliações", Action: models.ButtonURL, Value: "{link_avaliacao}"},
		},
	}
	ctx := Context{
		"produto":        "Curso",
		"link_avaliacao": "https://example.com/reviews",
	}
	msg := FromTemplate(tmpl, ctx)
	require.Equal(t, "Veja Curso", msg.Text)
	require.Equal(t, "https://cdn.example.com/p.jpg", msg.MediaURL)
	require.Len(t, msg.Buttons, 2)
	require.Equal(t, "Comprar Curso", msg.Buttons[0].Text)
	// Callback values are routing tokens, never resolved.
	require.Equal(t, "buy", msg.Buttons[0].Value)
	require.Equal(t, "https://example.com/reviews", msg.Buttons[1].Value)
}

func TestDefaultExistsForEveryMessageType(t *testing.T) {
	types := []models.MessageType{
		models.MessageWelcome, models.MessageCatalog, models.MessageProductDetail,
		models.MessagePixGenerated, models.MessagePaymentConfirmed, models.MessageDelivery,
		models.MessageThankYou, models.MessageCartReminder, models.MessageUpsell,
		models.MessageDownsell, models.MessageSupport, models.MessageOrderCreated,
		models.MessageOrderCancelled, models.MessageNoProducts,
	}
	for _, mt := range types {
		require.NotEmpty(t, Default(mt), "type %s", mt)
	}
}
