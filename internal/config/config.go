// Package config loads the bot configuration from the environment, after an
// optional .env file, then normalizes and validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingToken is returned when BOT_TOKEN is not set.
var ErrMissingToken = errors.New("BOT_TOKEN must be set")

// Session backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// HTTPConfig configures the ops server.
type HTTPConfig struct {
	Enabled           bool          `envconfig:"HTTP_ENABLED" default:"true"`
	Addr              string        `envconfig:"HTTP_ADDR" default:"127.0.0.1:8080"`
	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	GinMode           string        `envconfig:"GIN_MODE" default:"release"`
	AllowedOrigins    []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	EnableHSTS        bool          `envconfig:"ENABLE_HSTS" default:"false"`
	RateRPS           float64       `envconfig:"HTTP_RATE_RPS" default:"5"`
	RateBurst         int           `envconfig:"HTTP_RATE_BURST" default:"10"`
	// APIToken guards the purchase API; the API is not mounted without it.
	APIToken string `envconfig:"HTTP_API_TOKEN"`
}

// OTELConfig defines OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure    bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	ServiceName string  `envconfig:"OTEL_SERVICE_NAME" default:"impulsebot"`
	SampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLER_ARG" default:"1.0"`
}

// Config holds all configuration values of the process.
type Config struct {
	// Telegram
	BotToken      string `envconfig:"BOT_TOKEN"`
	TelegramDebug bool   `envconfig:"TELEGRAM_DEBUG" default:"false"`
	UpdateWorkers int    `envconfig:"UPDATE_WORKERS" default:"4"`

	// Storage
	DBPath   string `envconfig:"DB_PATH" default:"impulse_bot.db"`
	PhotoDir string `envconfig:"PHOTO_DIR" default:"photos"`

	// Behaviour
	ScanInterval   time.Duration `envconfig:"SCAN_INTERVAL" default:"10s"`
	WarningTTL     time.Duration `envconfig:"WARNING_TTL" default:"3s"`
	ListLimit      int           `envconfig:"LIST_LIMIT" default:"8"`
	CurrencySymbol string        `envconfig:"CURRENCY_SYMBOL" default:"₽"`
	RateRPS        float64       `envconfig:"RATE_RPS" default:"2"`
	RateBurst      int           `envconfig:"RATE_BURST" default:"5"`

	// Sessions
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"memory"`
	SessionIdleTTL time.Duration `envconfig:"SESSION_IDLE_TTL" default:"24h"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	HTTP HTTPConfig
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads .env from the working directory when present, then the
// environment. Variables already set in the environment win over .env.
func Load() (Config, error) {
	return load(".env")
}

func load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process config: %w", err)
	}

	// --- normalization ---
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	cfg.HTTP.GinMode = strings.ToLower(cfg.HTTP.GinMode)
	switch cfg.HTTP.GinMode {
	case "debug", "release", "test":
	default:
		cfg.HTTP.GinMode = "release"
	}
	cfg.HTTP.AllowedOrigins = compact(cfg.HTTP.AllowedOrigins)
	cfg.HTTP.APIToken = strings.TrimSpace(cfg.HTTP.APIToken)

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	if cfg.BotToken == "" {
		return ErrMissingToken
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.PhotoDir) == "" {
		return errors.New("PHOTO_DIR must not be empty")
	}
	if cfg.ScanInterval <= 0 || cfg.WarningTTL <= 0 || cfg.SessionIdleTTL <= 0 {
		return errors.New("SCAN_INTERVAL, WARNING_TTL and SESSION_IDLE_TTL must be positive")
	}
	if cfg.ListLimit < 1 {
		return errors.New("LIST_LIMIT must be >= 1")
	}
	if cfg.UpdateWorkers < 1 {
		return errors.New("UPDATE_WORKERS must be >= 1")
	}
	if cfg.RateRPS < 0 || cfg.HTTP.RateRPS < 0 {
		return errors.New("RATE_RPS and HTTP_RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 || cfg.HTTP.RateBurst < 1 {
		return errors.New("RATE_BURST and HTTP_RATE_BURST must be >= 1")
	}
	switch cfg.SessionBackend {
	case SessionMemory:
	case SessionRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("REDIS_ADDR must be set for the redis session backend")
		}
	default:
		return errors.New("SESSION_BACKEND must be memory or redis")
	}
	if cfg.HTTP.Enabled {
		if strings.TrimSpace(cfg.HTTP.Addr) == "" {
			return errors.New("HTTP_ADDR must not be empty")
		}
		if cfg.HTTP.ReadHeaderTimeout <= 0 || cfg.HTTP.ReadTimeout <= 0 || cfg.HTTP.WriteTimeout <= 0 || cfg.HTTP.IdleTimeout <= 0 {
			return errors.New("HTTP timeouts must be positive durations")
		}
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
