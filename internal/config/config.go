// Package config loads broker settings from the environment.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultProjectID  = "gmail-labels-421404"
	DefaultSecretFile = "client_secret.json"
	DefaultSecretID   = "oauth-client-secret"
)

// Config holds every runtime setting of the broker.
type Config struct {
	ProjectID string `env:"PROJECT_ID" envDefault:"gmail-labels-421404"`
	Host      string `env:"HOST" envDefault:"0.0.0.0"`
	Port      string `env:"PORT" envDefault:"8080"`
	PublicURL string `env:"PUBLIC_URL"`

	SessionSecret  string        `env:"SESSION_SECRET"`
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	RedisURL       string        `env:"REDIS_URL"`

	SecretBackend   string `env:"SECRET_BACKEND" envDefault:"file"`
	OAuthSecretName string `env:"OAUTH_SECRET_NAME"`
	AWSRegion       string `env:"AWS_REGION"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DBPath        string `env:"DB_PATH" envDefault:"broker.db"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"broker"`

	WatchEnabled       bool          `env:"WATCH_ENABLED" envDefault:"true"`
	WatchTopic         string        `env:"WATCH_TOPIC"`
	WatchLabels        []string      `env:"WATCH_LABELS" envSeparator:"," envDefault:"INBOX"`
	WatchRenewInterval time.Duration `env:"WATCH_RENEW_INTERVAL" envDefault:"6h"`
	WatchRenewBefore   time.Duration `env:"WATCH_RENEW_BEFORE" envDefault:"24h"`

	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"15s"`
	ForceConsent bool          `env:"FORCE_CONSENT" envDefault:"false"`

	AMQPURL       string `env:"AMQP_URL"`
	AlertExchange string `env:"ALERT_EXCHANGE" envDefault:"broker.alerts"`

	AdminPassword string `env:"ADMIN_PASSWORD"`

	// SessionSecretGenerated is true when no SESSION_SECRET was supplied and
	// a per-process key was generated; sessions then die with the process.
	SessionSecretGenerated bool `env:"-"`
}

// Load reads an optional .env file and parses the environment.
func Load() (Config, error) {
	loadDotEnv()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] Could not load %s: %v", envFile, err)
	}
}

func (c *Config) normalize() error {
	c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	if c.WatchTopic == "" {
		c.WatchTopic = fmt.Sprintf("projects/%s/topics/gmail-notifications", c.ProjectID)
	}

	labels := c.WatchLabels[:0]
	for _, l := range c.WatchLabels {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	c.WatchLabels = labels

	if c.SessionSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		c.SessionSecret = hex.EncodeToString(b)
		c.SessionSecretGenerated = true
	}

	switch c.SessionBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("SESSION_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	switch c.StoreBackend {
	case "sqlite":
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("STORE_BACKEND=mongo requires MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.SecretBackend {
	case "file":
		if c.OAuthSecretName == "" {
			c.OAuthSecretName = DefaultSecretFile
		}
	case "gcp", "aws":
		// Secret ids may not contain dots, so the file name is no valid default.
		if c.OAuthSecretName == "" {
			c.OAuthSecretName = DefaultSecretID
		}
	default:
		return fmt.Errorf("unknown SECRET_BACKEND %q", c.SecretBackend)
	}

	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive")
	}
	if c.WatchEnabled {
		if c.WatchRenewInterval <= 0 {
			return fmt.Errorf("WATCH_RENEW_INTERVAL must be positive")
		}
		if c.WatchRenewBefore <= 0 {
			return fmt.Errorf("WATCH_RENEW_BEFORE must be positive")
		}
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
