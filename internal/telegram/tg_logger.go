package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/skylog/internal/config"
)

const logSendTimeout = 10 * time.Second

// TelegramLogger mirrors notable events into topics of an admin chat.
type TelegramLogger struct {
	bot *bot.Bot
	cfg *config.Config
}

func NewTelegramLogger(b *bot.Bot, cfg *config.Config) *TelegramLogger {
	return &TelegramLogger{bot: b, cfg: cfg}
}

type LogType string

const (
	LogTypeError  LogType = "error"
	LogTypeUpload LogType = "upload"
)

// Log is a no-op on a nil logger or when the topic is not configured.
func (l *TelegramLogger) Log(logType LogType, message string) {
	if l == nil || l.cfg.LogTelegramChatID == 0 {
		return
	}
	topicID := l.topicID(logType)
	if topicID == 0 {
		return
	}

	if runes := []rune(message); len(runes) > config.MaxTelegramMessageLen {
		message = string(runes[:config.MaxTelegramMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), logSendTimeout)
	defer cancel()

	_, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            message,
		ParseMode:       models.ParseModeMarkdownV1,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, where string) {
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Error:* `%s`\n*Time:* %s",
		where, err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogUpload(chatID int64, fileName string, sizeBytes int, durationSec float64, anomalies int) {
	msg := fmt.Sprintf("🛩 *Flight Uploaded*\n\n*Chat:* `%d`\n*File:* %s\n*Size:* %d KB\n*Duration:* %.1f s\n*Anomalies:* %d",
		chatID, EscapeMarkdown(fileName), sizeBytes/1024, durationSec, anomalies)
	l.Log(LogTypeUpload, msg)
}

func (l *TelegramLogger) topicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeUpload:
		return l.cfg.LogTopicUpload
	default:
		return 0
	}
}
