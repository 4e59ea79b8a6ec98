package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/set-night/skylog/internal/anomaly"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

type Config struct {
	// Language model
	ModelProvider        string        `env:"MODEL_PROVIDER" envDefault:"openrouter"`
	OpenRouterKey        string        `env:"OPENROUTER_API_KEY"`
	OpenAIKey            string        `env:"OPENAI_API_KEY"`
	AnthropicKey         string        `env:"ANTHROPIC_API_KEY"`
	Model                string        `env:"MODEL"`
	ModelBaseURL         string        `env:"MODEL_BASE_URL"`
	ModelTimeout         time.Duration `env:"MODEL_TIMEOUT" envDefault:"90s"`
	ModelRetries         int           `env:"MODEL_RETRIES" envDefault:"2"`
	ModelRetryBackoff    time.Duration `env:"MODEL_RETRY_BACKOFF" envDefault:"1s"`
	ModelPromptPrice     float64       `env:"MODEL_PROMPT_PRICE"`
	ModelCompletionPrice float64       `env:"MODEL_COMPLETION_PRICE"`
	MaxToolRounds        int           `env:"MAX_TOOL_ROUNDS" envDefault:"5"`

	// Sessions
	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"1h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	// Uploads
	MaxUploadMB   int64         `env:"MAX_UPLOAD_MB" envDefault:"100"`
	DecodeTimeout time.Duration `env:"DECODE_TIMEOUT" envDefault:"60s"`

	// Anomaly rules
	Anomaly               anomaly.Thresholds `envPrefix:"ANOMALY_"`
	AnomalyThresholdsFile string             `env:"ANOMALY_THRESHOLDS_FILE"`

	// HTTP
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":8000"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080,http://localhost:8081"`

	// Telegram
	BotToken           string  `env:"BOT_TOKEN"`
	AdminIDs           []int64 `env:"ADMIN_IDS" envSeparator:","`
	RateLimitPerMinute int     `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	DropPendingUpdates bool    `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`

	// Telegram logging
	LogTelegramChatID int64 `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError     int   `env:"LOG_TOPIC_ERROR"`
	LogTopicUpload    int   `env:"LOG_TOPIC_UPLOAD"`

	// Archive
	DatabaseURL string `env:"DATABASE_URL"`

	// Message reference used by describe_message and the system prompt
	LogReferenceURL string `env:"LOG_REFERENCE_URL" envDefault:"https://ardupilot.org/copter/docs/logmessages.html"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.AnomalyThresholdsFile != "" {
		th, err := anomaly.LoadFile(cfg.AnomalyThresholdsFile, cfg.Anomaly)
		if err != nil {
			return nil, fmt.Errorf("load anomaly thresholds: %w", err)
		}
		cfg.Anomaly = th
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.ModelProvider = strings.ToLower(strings.TrimSpace(c.ModelProvider))
	if !slices.Contains([]string{ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic}, c.ModelProvider) {
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.ModelProvider)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1, got %d", c.MaxToolRounds)
	}
	if c.ModelRetries < 0 {
		return fmt.Errorf("MODEL_RETRIES must not be negative, got %d", c.ModelRetries)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.MaxUploadMB)
	}
	return c.Anomaly.Validate()
}

// ModelAPIKey returns the credential of the selected provider.
func (c *Config) ModelAPIKey() string {
	switch c.ModelProvider {
	case ProviderOpenAI:
		return c.OpenAIKey
	case ProviderAnthropic:
		return c.AnthropicKey
	default:
		return c.OpenRouterKey
	}
}

// ModelName returns MODEL or the provider default.
func (c *Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.ModelProvider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	default:
		return DefaultOpenRouterModel
	}
}

// BaseURL returns MODEL_BASE_URL or the provider default.
func (c *Config) BaseURL() string {
	if c.ModelBaseURL != "" {
		return strings.TrimRight(c.ModelBaseURL, "/")
	}
	switch c.ModelProvider {
	case ProviderOpenAI:
		return OpenAIBaseURL
	case ProviderAnthropic:
		return AnthropicBaseURL
	default:
		return OpenRouterBaseURL
	}
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c *Config) IsAdmin(telegramID int64) bool {
	return slices.Contains(c.AdminIDs, telegramID)
}
