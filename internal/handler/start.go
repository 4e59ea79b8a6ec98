package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const welcomeText = "👋 I analyze *ArduPilot DataFlash* flight logs.\n\n" +
	"Send me a `.bin` log as a document, then ask about the flight in plain words, " +
	"for example _\"Why did the battery voltage drop?\"_ or _\"Were there GPS problems?\"_\n\n" +
	"📋 *Commands:*\n" +
	"/info - Summary of the loaded flight\n" +
	"/anomalies - Rule-based anomaly list\n" +
	"/reset - Clear the conversation, keep the flight\n" +
	"/delete - Forget the flight and the conversation"

const unknownCommandText = "Unknown command. Use /help to see what I can do."

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    update.Message.Chat.ID,
		Text:      welcomeText,
		ParseMode: models.ParseModeMarkdownV1,
	}); err != nil {
		h.tgLogger.LogError(err, "send welcome")
	}
}
