package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderOpenRouter, cfg.ModelProvider)
	assert.Equal(t, 5, cfg.MaxToolRounds)
	assert.Equal(t, time.Hour, cfg.SessionIdleTimeout)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 10.0, cfg.Anomaly.AltitudeRate)
	assert.Equal(t, 3, cfg.Anomaly.MinGPSFix)
	assert.Equal(t, config.DefaultOpenRouterModel, cfg.ModelName())
	assert.Equal(t, config.OpenRouterBaseURL, cfg.BaseURL())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("MAX_TOOL_ROUNDS", "3")
	t.Setenv("ANOMALY_VIBRATION", "35")
	t.Setenv("ADMIN_IDS", "1,2")
	t.Setenv("MODEL_BASE_URL", "http://localhost:9000/v1/")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderAnthropic, cfg.ModelProvider)
	assert.Equal(t, "sk-ant", cfg.ModelAPIKey())
	assert.Equal(t, config.DefaultAnthropicModel, cfg.ModelName())
	assert.Equal(t, "http://localhost:9000/v1", cfg.BaseURL())
	assert.Equal(t, 3, cfg.MaxToolRounds)
	assert.Equal(t, 35.0, cfg.Anomaly.Vibration)
	assert.True(t, cfg.IsAdmin(2))
	assert.False(t, cfg.IsAdmin(3))
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "th.yaml")
	require.NoError(t, os.WriteFile(path, []byte("altitude_rate: 12\n"), 0o600))
	t.Setenv("ANOMALY_THRESHOLDS_FILE", path)
	t.Setenv("ANOMALY_VIBRATION", "33")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 12.0, cfg.Anomaly.AltitudeRate)
	assert.Equal(t, 33.0, cfg.Anomaly.Vibration)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"provider":    {"MODEL_PROVIDER", "llama"},
		"rounds":      {"MAX_TOOL_ROUNDS", "0"},
		"thresholds":  {"ANOMALY_VIBRATION_HIGH", "1"},
		"bad integer": {"MODEL_RETRIES", "many"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
