package handler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/skylog/internal/telegram"
)

// Register wires commands and keyboard callbacks. Documents and plain text
// arrive through Default.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/info", bot.MatchTypePrefix, h.handleInfo)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/reset", bot.MatchTypePrefix, h.handleReset)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/delete", bot.MatchTypePrefix, h.handleDelete)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/anomalies", bot.MatchTypePrefix, h.handleAnomalies)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypePrefix, h.handleStats)

	// Session keyboard callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, telegram.CallbackAnomalies, bot.MatchTypeExact, h.handleCallback)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, telegram.CallbackReset, bot.MatchTypeExact, h.handleCallback)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, telegram.CallbackDelete, bot.MatchTypeExact, h.handleCallback)
}

// Default routes updates no registered handler matched.
func (h *Handler) Default(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	switch {
	case msg.Document != nil:
		h.handleDocument(ctx, b, update)
	case strings.HasPrefix(msg.Text, "/"):
		telegram.SendText(ctx, b, msg.Chat.ID, unknownCommandText)
	case strings.TrimSpace(msg.Text) != "":
		h.handleText(ctx, b, update)
	}
}

func (h *Handler) handleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
		slog.Warn("answer callback query", "error", err)
	}
	if cq.Message.Message == nil {
		return
	}
	chatID := cq.Message.Message.Chat.ID

	switch cq.Data {
	case telegram.CallbackAnomalies:
		h.sendAnomalies(ctx, b, chatID)
	case telegram.CallbackReset:
		h.resetSession(ctx, b, chatID)
	case telegram.CallbackDelete:
		h.deleteSession(ctx, b, chatID)
	}
}
