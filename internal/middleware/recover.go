package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// ErrorReporter receives recovered panics. *telegram.TelegramLogger satisfies it.
type ErrorReporter interface {
	LogError(err error, where string)
}

// ErrorReporterFunc adapts a plain function to ErrorReporter.
type ErrorReporterFunc func(err error, where string)

func (f ErrorReporterFunc) LogError(err error, where string) { f(err, where) }

// Recover returns middleware that recovers from panics.
func Recover(reporter ErrorReporter) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic recovered in handler",
						"panic", r,
						"chat_id", ChatID(update),
						"stack", string(debug.Stack()),
					)
					if reporter != nil {
						reporter.LogError(fmt.Errorf("panic: %v", r), "telegram handler")
					}
				}
			}()
			next(ctx, b, update)
		}
	}
}
