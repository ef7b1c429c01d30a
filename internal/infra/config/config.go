package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendXLSX     = "xlsx"
	BackendMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	Environment string
	LogLevel    string

	StoreBackend string
	DatabaseURL  string
	WorkbookPath string
	RedisURL     string // empty keeps the run state in memory

	TelegramToken   string
	AdminTelegramID int64

	HTTPAddr      string
	PublicBaseURL string
	SigningSecret string

	InboxDir       string
	ProcessingDir  string
	LargeFileBytes int64

	TickInterval      time.Duration
	RunCeiling        time.Duration
	TranscribeTimeout time.Duration
	PassBudget        time.Duration
	FeedbackDelay     time.Duration
	SignedURLTTL      time.Duration

	ElevenLabsAPIKey string
	ElevenLabsURL    string
	GeminiAPIKey     string
	GeminiURL        string

	CanvasToken   string
	CanvasBaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("WORKBOOK_PATH", "harkness.xlsx")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("INBOX_DIR", "data/inbox")
	v.SetDefault("PROCESSING_DIR", "data/processing")
	v.SetDefault("LARGE_FILE_BYTES", 20*1024*1024)
	v.SetDefault("TICK_INTERVAL", "5m")
	v.SetDefault("RUN_CEILING", "60m")
	v.SetDefault("TRANSCRIBE_TIMEOUT", "30m")
	v.SetDefault("PASS_BUDGET", "5m")
	v.SetDefault("FEEDBACK_DELAY", "2s")
	v.SetDefault("SIGNED_URL_TTL", "1h")
	v.SetDefault("ELEVENLABS_URL", "https://api.elevenlabs.io")
	v.SetDefault("GEMINI_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("SMTP_PORT", 587)
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Environment:      strings.ToLower(v.GetString("ENVIRONMENT")),
		LogLevel:         strings.ToLower(v.GetString("LOG_LEVEL")),
		StoreBackend:     strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		WorkbookPath:     v.GetString("WORKBOOK_PATH"),
		RedisURL:         v.GetString("REDIS_URL"),
		TelegramToken:    v.GetString("TELEGRAM_TOKEN"),
		AdminTelegramID:  v.GetInt64("ADMIN_TELEGRAM_ID"),
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		PublicBaseURL:    strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		SigningSecret:    v.GetString("SIGNING_SECRET"),
		InboxDir:         v.GetString("INBOX_DIR"),
		ProcessingDir:    v.GetString("PROCESSING_DIR"),
		LargeFileBytes:   v.GetInt64("LARGE_FILE_BYTES"),
		ElevenLabsAPIKey: v.GetString("ELEVENLABS_API_KEY"),
		ElevenLabsURL:    v.GetString("ELEVENLABS_URL"),
		GeminiAPIKey:     v.GetString("GEMINI_API_KEY"),
		GeminiURL:        v.GetString("GEMINI_URL"),
		CanvasToken:      v.GetString("CANVAS_TOKEN"),
		CanvasBaseURL:    v.GetString("CANVAS_BASE_URL"),
		SMTPHost:         v.GetString("SMTP_HOST"),
		SMTPPort:         v.GetInt("SMTP_PORT"),
		SMTPUser:         v.GetString("SMTP_USER"),
		SMTPPassword:     v.GetString("SMTP_PASSWORD"),
		MailFrom:         v.GetString("MAIL_FROM"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TICK_INTERVAL", &cfg.TickInterval},
		{"RUN_CEILING", &cfg.RunCeiling},
		{"TRANSCRIBE_TIMEOUT", &cfg.TranscribeTimeout},
		{"PASS_BUDGET", &cfg.PassBudget},
		{"FEEDBACK_DELAY", &cfg.FeedbackDelay},
		{"SIGNED_URL_TTL", &cfg.SignedURLTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid %s: %q", d.key, v.GetString(d.key))
		}
		*d.dst = parsed
	}
	if cfg.TickInterval < time.Minute {
		return nil, fmt.Errorf("TICK_INTERVAL must be at least 1m, got %s", cfg.TickInterval)
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case BackendXLSX:
		if cfg.WorkbookPath == "" {
			return nil, fmt.Errorf("WORKBOOK_PATH is not set")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.TelegramToken != "" && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("SIGNING_SECRET is not set")
	}
	if cfg.LargeFileBytes <= 0 {
		return nil, fmt.Errorf("invalid LARGE_FILE_BYTES: %d", cfg.LargeFileBytes)
	}
	return cfg, nil
}
