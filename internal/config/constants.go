package config

import "time"

const (
	// Provider endpoints
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OpenAIBaseURL     = "https://api.openai.com/v1"
	AnthropicBaseURL  = "https://api.anthropic.com/v1"

	// Default models per provider
	DefaultOpenRouterModel = "openai/gpt-4o-mini"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"

	// Completion budget per model call
	MaxCompletionTokens = 2048

	// Telegram limits
	MaxTelegramMessageLen = 4096
	MaxTelegramFileBytes  = 20 << 20

	// Log message reference refresh
	ReferenceCacheDuration = 24 * time.Hour
	ReferenceFetchTimeout  = 20 * time.Second

	// Archive writes never hold up a turn for longer than this
	ArchiveWriteTimeout = 5 * time.Second
	ArchivePingTimeout  = 5 * time.Second

	// HTTP server
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 15 * time.Second
)
