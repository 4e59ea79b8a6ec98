package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/middleware"
	"github.com/set-night/skylog/internal/service"
	tg "github.com/set-night/skylog/internal/telegram"
)

// handleDocument loads a .bin log into the chat's session, creating one
// when the chat has none or its session was evicted.
func (h *Handler) handleDocument(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	doc := msg.Document
	chatID := msg.Chat.ID

	name := filepath.Base(doc.FileName)
	if !strings.EqualFold(filepath.Ext(name), ".bin") {
		tg.SendText(ctx, b, chatID, "📎 Please send an ArduPilot DataFlash log with the .bin extension.")
		return
	}
	limit := h.maxFileBytes()
	if doc.FileSize > limit {
		tg.SendText(ctx, b, chatID, fmt.Sprintf("❌ The log is too large. The limit is %d MB.", limit>>20))
		return
	}

	stopTyping := tg.StartTyping(ctx, b, chatID)
	defer stopTyping()

	data, err := tg.DownloadFile(ctx, b, doc.FileID, limit)
	if err != nil {
		slog.Error("download flight log", "chat_id", chatID, "error", err)
		tg.SendText(ctx, b, chatID, userMessage(err))
		return
	}

	sessionID := middleware.SessionID(ctx)
	res, err := h.flights.UploadBytes(ctx, sessionID, name, data)
	if errors.Is(err, domain.ErrSessionNotFound) && sessionID != "" {
		h.chats.Forget(chatID, sessionID)
		res, err = h.flights.UploadBytes(ctx, "", name, data)
	}
	if err != nil {
		slog.Info("flight upload rejected", "chat_id", chatID, "file", name, "error", err)
		tg.SendText(ctx, b, chatID, userMessage(err))
		return
	}

	h.chats.Set(chatID, res.SessionID)
	h.tgLogger.LogUpload(chatID, name, len(data), res.Metadata.DurationSeconds, res.AnomalyCount)

	replyTo := msg.ID
	if err := tg.SendLongMessage(ctx, b, chatID, formatUpload(res), &replyTo, tg.SessionKeyboard()); err != nil {
		slog.Error("send upload summary", "chat_id", chatID, "error", err)
	}
}

func formatUpload(res *service.UploadResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ *%s* loaded.\n\n", tg.EscapeMarkdown(res.FileName))
	sb.WriteString(formatMetadata(res.Metadata))
	fmt.Fprintf(&sb, "\n⚠️ Anomalies: %d", res.AnomalyCount)
	sb.WriteString("\n\nAsk me anything about this flight.")
	return sb.String()
}
