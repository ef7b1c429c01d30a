package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SIGNING_SECRET", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.TickInterval)
	assert.Equal(t, time.Hour, cfg.RunCeiling)
	assert.Equal(t, 30*time.Minute, cfg.TranscribeTimeout)
	assert.Equal(t, 2*time.Second, cfg.FeedbackDelay)
	assert.Equal(t, int64(20*1024*1024), cfg.LargeFileBytes)
	assert.Equal(t, 587, cfg.SMTPPort)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TICK_INTERVAL", "10m")
	t.Setenv("PUBLIC_BASE_URL", "https://harkness.example/")
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("ADMIN_TELEGRAM_ID", "42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Minute, cfg.TickInterval)
	assert.Equal(t, "https://harkness.example", cfg.PublicBaseURL)
	assert.Equal(t, int64(42), cfg.AdminTelegramID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"short tick":     {"TICK_INTERVAL": "30s"},
		"bad duration":   {"PASS_BUDGET": "soon"},
		"bad backend":    {"STORE_BACKEND": "csv"},
		"postgres no db": {"STORE_BACKEND": "postgres", "DATABASE_URL": ""},
		"bot no admin":   {"TELEGRAM_TOKEN": "tok", "ADMIN_TELEGRAM_ID": "0"},
		"no secret":      {"SIGNING_SECRET": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
