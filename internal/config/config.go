// Package config loads SalonBot settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for minimal container images

	"github.com/BTreeMap/SalonBot/internal/store"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default file names inside the state directory.
const (
	DefaultDBFileName       = "salonbot.db"
	DefaultWhatsAppFileName = "whatsmeow.db"
)

// Supported transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config holds every setting the bot reads from the environment.
type Config struct {
	StateDir    string `env:"SALONBOT_STATE_DIR" envDefault:"/var/lib/salonbot"`
	DatabaseURL string `env:"DATABASE_URL"`
	WhatsAppDSN string `env:"WHATSAPP_DB_DSN"`
	Transport   string `env:"SALONBOT_TRANSPORT" envDefault:"whatsapp"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`
	// TwilioWebhookURL enables signature validation when set.
	TwilioWebhookURL string `env:"TWILIO_WEBHOOK_URL"`

	APIAddr string `env:"API_ADDR" envDefault:":8080"`
	NATSURL string `env:"NATS_URL"`

	Timezone    string        `env:"SALONBOT_TIMEZONE" envDefault:"America/Sao_Paulo"`
	TypingDelay time.Duration `env:"SALONBOT_TYPING_DELAY" envDefault:"2s"`
	Cooldown    time.Duration `env:"SALONBOT_COOLDOWN" envDefault:"24h"`
	Keywords    []string      `env:"SALONBOT_KEYWORDS" envSeparator:","`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (if present) and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	return Parse()
}

// Parse parses the environment without touching .env.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	return cfg, nil
}

// Validate checks settings that have no sensible default.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWhatsApp:
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("twilio transport requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %s", c.Cooldown)
	}
	if c.TypingDelay < 0 {
		return fmt.Errorf("typing delay cannot be negative, got %s", c.TypingDelay)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// StoreDSN returns the bot store connection string: DATABASE_URL, or a SQLite file in the state dir.
func (c Config) StoreDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// WhatsAppStoreDSN returns the whatsmeow device store connection string. DATABASE_URL is
// shared only when it points at Postgres.
func (c Config) WhatsAppStoreDSN() string {
	if c.WhatsAppDSN != "" {
		return c.WhatsAppDSN
	}
	if c.DatabaseURL != "" && store.DetectDSNType(c.DatabaseURL) == store.DSNTypePostgres {
		return c.DatabaseURL
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppFileName) + "?_foreign_keys=on"
}

// Location loads the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
