package middleware

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type ctxKey string

const SessionKey ctxKey = "session_id"

// ChatSessions maps Telegram chats to analysis sessions.
type ChatSessions struct {
	mu    sync.RWMutex
	chats map[int64]string
}

func NewChatSessions() *ChatSessions {
	return &ChatSessions{chats: make(map[int64]string)}
}

func (c *ChatSessions) Get(chatID int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.chats[chatID]
	return id, ok
}

func (c *ChatSessions) Set(chatID int64, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[chatID] = sessionID
}

// Forget drops the binding only if it still points at sessionID.
func (c *ChatSessions) Forget(chatID int64, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chats[chatID] == sessionID {
		delete(c.chats, chatID)
	}
}

// SessionID extracts the chat's session id from context, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionKey).(string)
	return id
}

// SessionLoader returns middleware that puts the chat's session id into context.
func SessionLoader(chats *ChatSessions) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if chatID := ChatID(update); chatID != 0 {
				if id, ok := chats.Get(chatID); ok {
					ctx = context.WithValue(ctx, SessionKey, id)
				}
			}
			next(ctx, b, update)
		}
	}
}
