package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

const rateLimitedText = "⏳ Too many requests. Please wait a moment."

// ChatLimiter keeps one token bucket per chat.
type ChatLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewChatLimiter allows perMinute messages per chat with a burst of the same size.
func NewChatLimiter(perMinute int) *ChatLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &ChatLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *ChatLimiter) Allow(chatID int64) bool {
	l.mu.Lock()
	lim, ok := l.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[chatID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimit returns middleware that drops messages over the per-chat limit.
func RateLimit(limiter *ChatLimiter) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			// Only messages are limited; callbacks come from our own keyboards.
			if update.Message == nil {
				next(ctx, b, update)
				return
			}

			chatID := update.Message.Chat.ID
			if !limiter.Allow(chatID) {
				slog.Debug("rate limited", "chat_id", chatID)
				if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: rateLimitedText}); err != nil {
					slog.Warn("send rate limit notice", "chat_id", chatID, "error", err)
				}
				return
			}

			next(ctx, b, update)
		}
	}
}
