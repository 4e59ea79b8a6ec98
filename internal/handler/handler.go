// Package handler is the Telegram boundary: flight log documents, chat
// messages and session commands.
package handler

import (
	"github.com/go-telegram/bot"

	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/middleware"
	"github.com/set-night/skylog/internal/service"
	"github.com/set-night/skylog/internal/telegram"
)

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	bot      *bot.Bot
	cfg      *config.Config
	flights  *service.FlightService
	agent    *service.Agent
	chats    *middleware.ChatSessions
	tgLogger *telegram.TelegramLogger
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot      *bot.Bot
	Cfg      *config.Config
	Flights  *service.FlightService
	Agent    *service.Agent
	Chats    *middleware.ChatSessions
	TgLogger *telegram.TelegramLogger
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:      deps.Bot,
		cfg:      deps.Cfg,
		flights:  deps.Flights,
		agent:    deps.Agent,
		chats:    deps.Chats,
		tgLogger: deps.TgLogger,
	}
}

// maxFileBytes is the smaller of the upload limit and what the Bot API serves.
func (h *Handler) maxFileBytes() int64 {
	return min(h.cfg.MaxUploadBytes(), int64(config.MaxTelegramFileBytes))
}
