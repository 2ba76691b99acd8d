// Package telegram adapts native bot updates into conversation events and
// implements the outbound message transport.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vendezap/pixstore-bot/internal/conversation"
	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/template"
)

// EventSink receives the conversation events the update loop produces.
type EventSink interface {
	Dispatch(ctx context.Context, ev conversation.Event)
}

type Bot struct {
	api    *tgbotapi.BotAPI
	events EventSink
	log    *slog.Logger
}

func NewBot(api *tgbotapi.BotAPI, events EventSink, log *slog.Logger) *Bot {
	return &Bot{api: api, events: events, log: log}
}

// Run consumes updates until the context is cancelled. Each update becomes
// one conversation event; ordering per chat is the dispatcher's job.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	name := customerName(msg.From)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "loja":
			b.events.Dispatch(ctx, conversation.Event{
				Kind:         conversation.EventStart,
				ChatID:       msg.Chat.ID,
				CustomerName: name,
			})
		default:
			b.sendText(msg.Chat.ID, "Use /start para abrir a loja.")
		}
		return
	}

	b.events.Dispatch(ctx, conversation.Event{
		Kind:         conversation.EventText,
		ChatID:       msg.Chat.ID,
		CustomerName: name,
		Text:         msg.Text,
	})
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
	if cb.Message == nil {
		return
	}
	b.events.Dispatch(ctx, conversation.Event{
		Kind:         conversation.EventCallback,
		ChatID:       cb.Message.Chat.ID,
		CustomerName: customerName(cb.From),
		Action:       cb.Data,
	})
}

// Send delivers one resolved message: text or captioned media, with inline
// buttons when present. It satisfies the conversation engine's Sender.
func (b *Bot) Send(ctx context.Context, chatID int64, msg template.Message) error {
	keyboard := buildKeyboard(msg.Buttons)

	if msg.MediaURL != "" {
		return b.sendMedia(chatID, msg, keyboard)
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	out.ParseMode = tgbotapi.ModeMarkdown
	if keyboard != nil {
		out.ReplyMarkup = keyboard
	}
	if _, err := b.api.Send(out); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (b *Bot) sendMedia(chatID int64, msg template.Message, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	file := tgbotapi.FileURL(msg.MediaURL)

	var cfg tgbotapi.Chattable
	switch msg.MediaKind {
	case models.MediaVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = msg.Text
		video.ParseMode = tgbotapi.ModeMarkdown
		if keyboard != nil {
			video.ReplyMarkup = keyboard
		}
		cfg = video
	case models.MediaDocument:
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption = msg.Text
		doc.ParseMode = tgbotapi.ModeMarkdown
		if keyboard != nil {
			doc.ReplyMarkup = keyboard
		}
		cfg = doc
	default:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = msg.Text
		photo.ParseMode = tgbotapi.ModeMarkdown
		if keyboard != nil {
			photo.ReplyMarkup = keyboard
		}
		cfg = photo
	}

	if _, err := b.api.Send(cfg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

// GroupInviteLink resolves a delivery group id into a join link. Public
// groups configured as @username or t.me links pass through unchanged.
func (b *Bot) GroupInviteLink(ctx context.Context, groupID string) (string, error) {
	groupID = strings.TrimSpace(groupID)
	if strings.HasPrefix(groupID, "http://") || strings.HasPrefix(groupID, "https://") {
		return groupID, nil
	}
	if strings.HasPrefix(groupID, "@") {
		return "https://t.me/" + strings.TrimPrefix(groupID, "@"), nil
	}

	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse group id %q: %w", groupID, err)
	}
	link, err := b.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return "", fmt.Errorf("get invite link: %w", err)
	}
	return link, nil
}

// Broadcast sends a plain text message to every chat id in the list and
// reports how many sends succeeded.
func (b *Bot) Broadcast(ctx context.Context, chatIDs []int64, text string) int {
	sent := 0
	for _, chatID := range chatIDs {
		select {
		case <-ctx.Done():
			return sent
		default:
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("broadcast send", "chat", chatID, "err", err)
			continue
		}
		sent++
	}
	return sent
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func buildKeyboard(buttons []models.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		switch btn.Action {
		case models.ButtonURL:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.Value)))
		default:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Value)))
		}
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

func customerName(from *tgbotapi.User) string {
	if from == nil {
		return ""
	}
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	if name == "" {
		name = from.UserName
	}
	return name
}
