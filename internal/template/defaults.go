package template

import "github.com/vendezap/pixstore-bot/internal/models"

// Built-in fallback content per message type, used when no active template is
// configured. The conversation never aborts for lack of a template.
var defaults = map[models.MessageType]string{
	models.MessageWelcome:          "Olá, {primeiro_nome}! Bem-vindo à nossa loja. Toque no botão abaixo para ver o catálogo.",
	models.MessageCatalog:          "Confira nossos produtos disponíveis. Responda com o número do produto desejado:",
	models.MessageProductDetail:    "*{produto}*\n{descricao}\n\nValor: {valor}",
	models.MessagePixGenerated:     "Seu código PIX foi gerado!\n\nCopie e cole para pagar:\n`{pix_code}`\n\nAssim que o pagamento for confirmado, você recebe seu produto automaticamente.",
	models.MessagePaymentConfirmed: "Pagamento confirmado, {primeiro_nome}! 🎉",
	models.MessageDelivery:         "Aqui está seu produto, {primeiro_nome}!",
	models.MessageThankYou:         "Obrigado pela compra, {primeiro_nome}! Qualquer dúvida é só chamar.",
	models.MessageCartReminder:     "Oi {primeiro_nome}, vimos que você não finalizou seu pedido de *{produto}*. Seu código PIX ainda está ativo!",
	models.MessageUpsell:           "Oferta especial para você, {primeiro_nome}: *{produto}* por apenas {valor}!",
	models.MessageDownsell:         "Última chance, {primeiro_nome}: leve *{produto}* por {valor}!",
	models.MessageSupport:          "Não entendi. Use /start para recomeçar ou escolha uma das opções do menu.",
	models.MessageOrderCreated:     "Pedido {pedido} criado: *{produto}* — {valor}.",
	models.MessageOrderCancelled:   "Seu pedido {pedido} foi cancelado.",
	models.MessageNoProducts:       "Ainda não temos produtos disponíveis. Volte em breve!",
}

// Default returns the built-in content for a message type.
func Default(t models.MessageType) string {
	if s, ok := defaults[t]; ok {
		return s
	}
	return defaults[models.MessageSupport]
}

// DefaultFeePrompt is used when a fee carries no payment message of its own.
const DefaultFeePrompt = "Para liberar seu produto, é necessário pagar a taxa *{taxa}* de {valor_taxa}.\n{descricao_taxa}\n\nTaxas restantes: {taxas_restantes}"

// DefaultFeeButton labels the fee payment button when the fee defines none.
const DefaultFeeButton = "Pagar taxa"
