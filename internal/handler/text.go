package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/middleware"
	tg "github.com/set-night/skylog/internal/telegram"
)

const degradedNote = "\n\n_⚠️ This answer is incomplete._"

// handleText runs one agent turn for the chat's session.
func (h *Handler) handleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	chatID := msg.Chat.ID

	sessionID := middleware.SessionID(ctx)
	if sessionID == "" {
		tg.SendText(ctx, b, chatID, noFlightText)
		return
	}

	stopTyping := tg.StartTyping(ctx, b, chatID)
	res, err := h.agent.Chat(ctx, sessionID, msg.Text)
	stopTyping()
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			h.chats.Forget(chatID, sessionID)
		} else if !errors.Is(err, domain.ErrNoDataset) {
			slog.Error("chat turn failed", "chat_id", chatID, "session_id", sessionID, "error", err)
			h.tgLogger.LogError(err, "chat turn")
		}
		tg.SendText(ctx, b, chatID, userMessage(err))
		return
	}

	text := res.Message
	if res.Degraded {
		text += degradedNote
	}
	replyTo := msg.ID
	if err := tg.SendLongMessage(ctx, b, chatID, text, &replyTo, nil); err != nil {
		slog.Error("send answer", "chat_id", chatID, "error", err)
	}
}
