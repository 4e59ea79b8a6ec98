package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/skylog/internal/domain"
	tg "github.com/set-night/skylog/internal/telegram"
)

func (h *Handler) handleInfo(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	sessionID, ok := h.chats.Get(chatID)
	if !ok {
		tg.SendText(ctx, b, chatID, noFlightText)
		return
	}
	info, err := h.flights.Info(sessionID)
	if err != nil {
		h.sessionGone(ctx, b, chatID, sessionID, err)
		return
	}
	if err := tg.SendLongMessage(ctx, b, chatID, formatInfo(info), nil, tg.SessionKeyboard()); err != nil {
		slog.Error("send session info", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) handleAnomalies(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message != nil {
		h.sendAnomalies(ctx, b, update.Message.Chat.ID)
	}
}

func (h *Handler) handleReset(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message != nil {
		h.resetSession(ctx, b, update.Message.Chat.ID)
	}
}

func (h *Handler) handleDelete(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message != nil {
		h.deleteSession(ctx, b, update.Message.Chat.ID)
	}
}

// sendAnomalies lists the detector output without involving the model.
func (h *Handler) sendAnomalies(ctx context.Context, b *bot.Bot, chatID int64) {
	sessionID, ok := h.chats.Get(chatID)
	if !ok {
		tg.SendText(ctx, b, chatID, noFlightText)
		return
	}
	list, err := h.flights.Anomalies(sessionID)
	if err != nil {
		h.sessionGone(ctx, b, chatID, sessionID, err)
		return
	}
	if err := tg.SendLongMessage(ctx, b, chatID, formatAnomalies(list), nil, nil); err != nil {
		slog.Error("send anomalies", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) resetSession(ctx context.Context, b *bot.Bot, chatID int64) {
	sessionID, ok := h.chats.Get(chatID)
	if !ok {
		tg.SendText(ctx, b, chatID, noFlightText)
		return
	}
	if err := h.flights.Reset(ctx, sessionID); err != nil {
		h.sessionGone(ctx, b, chatID, sessionID, err)
		return
	}
	tg.SendText(ctx, b, chatID, "🔄 Conversation cleared. The flight is still loaded.")
}

func (h *Handler) deleteSession(ctx context.Context, b *bot.Bot, chatID int64) {
	sessionID, ok := h.chats.Get(chatID)
	if !ok {
		tg.SendText(ctx, b, chatID, noFlightText)
		return
	}
	h.chats.Forget(chatID, sessionID)
	if err := h.flights.Delete(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		slog.Error("delete session", "chat_id", chatID, "session_id", sessionID, "error", err)
	}
	tg.SendText(ctx, b, chatID, "🗑 Flight and conversation deleted.")
}

// sessionGone reports err and drops a binding whose session no longer exists.
func (h *Handler) sessionGone(ctx context.Context, b *bot.Bot, chatID int64, sessionID string, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		h.chats.Forget(chatID, sessionID)
	}
	tg.SendText(ctx, b, chatID, userMessage(err))
}

// handleStats is admin only. Other users get the unknown command reply.
func (h *Handler) handleStats(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if msg.From == nil || !h.cfg.IsAdmin(msg.From.ID) {
		tg.SendText(ctx, b, msg.Chat.ID, unknownCommandText)
		return
	}
	tg.SendText(ctx, b, msg.Chat.ID, fmt.Sprintf("📊 Active sessions: %d", h.flights.ActiveSessions()))
}
