// Package template turns stored message definitions into concrete outbound
// payloads. Resolution is a single pass over the content: every {token} with
// an entry in the context is replaced, everything else is left verbatim.
// Resolved values are never re-scanned, so a value that happens to contain a
// placeholder-shaped token stays as-is.
package template

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vendezap/pixstore-bot/internal/models"
)

// Placeholder names recognized by the storefront conversation.
const (
	PlaceholderName         = "nome"
	PlaceholderFirstName    = "primeiro_nome"
	PlaceholderProduct      = "produto"
	PlaceholderPrice        = "valor"
	PlaceholderDescription  = "descricao"
	PlaceholderPixCode      = "pix_code"
	PlaceholderOrderID      = "pedido"
	PlaceholderFeeName      = "taxa"
	PlaceholderFeeAmount    = "valor_taxa"
	PlaceholderFeeDesc      = "descricao_taxa"
	PlaceholderFeesLeft     = "taxas_restantes"
	PlaceholderDeliveryLink = "link_entrega"
	PlaceholderGroupLink    = "link_grupo"
	PlaceholderReviewLink   = "link_avaliacao"
	PlaceholderFAQLink      = "link_faq"
)

var tokenPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Context maps placeholder names to their replacement values for one send.
type Context map[string]string

// Merge returns a copy of ctx with the entries of extra layered on top.
func (c Context) Merge(extra Context) Context {
	out := make(Context, len(c)+len(extra))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Resolve substitutes every placeholder present in ctx and leaves unknown
// tokens untouched. It never fails; rich-text markers in content pass
// through for the transport to render.
func Resolve(content string, ctx Context) string {
	if len(ctx) == 0 || !strings.Contains(content, "{") {
		return content
	}
	return tokenPattern.ReplaceAllStringFunc(content, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := ctx[name]; ok {
			return v
		}
		return m
	})
}

// FormatBRL renders a decimal amount in the Brazilian currency convention:
// two fraction digits, comma decimal separator, dot thousands separators.
func FormatBRL(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart := s[:len(s)-3]
	fracPart := s[len(s)-2:]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	out := "R$ " + b.String() + "," + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// FirstName extracts the leading word of a customer's display name.
func FirstName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}

// Message is a fully resolved outbound payload ready for the transport.
type Message struct {
	Text      string
	MediaURL  string
	MediaKind models.MediaKind
	Buttons   []models.Button
}

// FromTemplate resolves a stored template against ctx, carrying over its
// media and resolving placeholders inside button labels and URL values.
func FromTemplate(t models.MessageTemplate, ctx Context) Message {
	msg := Message{
		Text:      Resolve(t.Content, ctx),
		MediaURL:  t.MediaURL,
		MediaKind: t.MediaKind,
	}
	for _, btn := range t.Buttons {
		resolved := models.Button{
			Text:   Resolve(btn.Text, ctx),
			Action: btn.Action,
			Value:  btn.Value,
		}
		if btn.Action == models.ButtonURL {
			resolved.Value = Resolve(btn.Value, ctx)
		}
		msg.Buttons = append(msg.Buttons, resolved)
	}
	return msg
}

// CustomerContext builds the base context shared by every send in a session.
func CustomerContext(name string) Context {
	return Context{
		PlaceholderName:      name,
		PlaceholderFirstName: FirstName(name),
	}
}

// ProductContext layers product values over base.
func ProductContext(base Context, p models.Product) Context {
	return base.Merge(Context{
		PlaceholderProduct:     p.Name,
		PlaceholderPrice:       FormatBRL(p.Price),
		PlaceholderDescription: p.Description,
	})
}
