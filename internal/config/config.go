package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/notify-relay/internal/domain"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// EnabledKinds is a comma separated kind list; empty enables every kind.
	EnabledKinds string `env:"ENABLED_KINDS"`

	SendGridAPIKey   string `env:"SENDGRID_API_KEY"`
	SendGridEndpoint string `env:"SENDGRID_ENDPOINT,default=https://api.sendgrid.com/v3/mail/send"`
	MailFrom         string `env:"MAIL_FROM"`

	FCMProjectID            string `env:"FCM_PROJECT_ID"`
	FCMEndpoint             string `env:"FCM_ENDPOINT,default=https://fcm.googleapis.com"`
	FirebaseCredentialsJSON string `env:"FIREBASE_CREDENTIALS_JSON"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS"`

	MaxRetry                    int `env:"MAX_RETRY,default=3"`
	RetryBaseDelayMillis        int `env:"RETRY_BASE_DELAY_MS,default=1000"`
	DedupTTLSeconds             int `env:"DEDUP_TTL_SECONDS,default=300"`
	ReservationTTLSeconds       int `env:"RESERVATION_TTL_SECONDS,default=30"`
	CircuitFailureThreshold     int `env:"CIRCUIT_FAILURE_THRESHOLD,default=5"`
	CircuitFailureWindowSeconds int `env:"CIRCUIT_FAILURE_WINDOW_SECONDS,default=60"`
	CircuitCooldownSeconds      int `env:"CIRCUIT_COOLDOWN_SECONDS,default=60"`
	SendTimeoutMillis           int `env:"SEND_TIMEOUT_MS,default=10000"`

	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=0"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{name: "RETRY_BASE_DELAY_MS", value: c.RetryBaseDelayMillis},
		{name: "DEDUP_TTL_SECONDS", value: c.DedupTTLSeconds},
		{name: "RESERVATION_TTL_SECONDS", value: c.ReservationTTLSeconds},
		{name: "CIRCUIT_FAILURE_THRESHOLD", value: c.CircuitFailureThreshold},
		{name: "CIRCUIT_FAILURE_WINDOW_SECONDS", value: c.CircuitFailureWindowSeconds},
		{name: "CIRCUIT_COOLDOWN_SECONDS", value: c.CircuitCooldownSeconds},
		{name: "SEND_TIMEOUT_MS", value: c.SendTimeoutMillis},
		{name: "WORKER_CONCURRENCY", value: c.WorkerConcurrency},
	}
	for _, setting := range positive {
		if setting.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive (got %d)", setting.name, setting.value)
		}
	}
	if c.MaxRetry < 0 {
		return fmt.Errorf("invalid config: MAX_RETRY must not be negative (got %d)", c.MaxRetry)
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("invalid config: RATE_LIMIT_PER_SEC must not be negative (got %d)", c.RateLimitPerSec)
	}

	if _, err := c.Kinds(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Kinds parses ENABLED_KINDS into distinct notification kinds.
func (c *Config) Kinds() ([]domain.Kind, error) {
	if strings.TrimSpace(c.EnabledKinds) == "" {
		return domain.Kinds(), nil
	}

	seen := make(map[domain.Kind]struct{})
	kinds := make([]domain.Kind, 0, 2)
	for _, part := range strings.Split(c.EnabledKinds, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		kind, err := domain.ParseKind(part)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("ENABLED_KINDS must name at least one kind")
	}
	return kinds, nil
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMillis) * time.Millisecond
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}

func (c *Config) CircuitFailureWindow() time.Duration {
	return time.Duration(c.CircuitFailureWindowSeconds) * time.Second
}

func (c *Config) CircuitCooldown() time.Duration {
	return time.Duration(c.CircuitCooldownSeconds) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMillis) * time.Millisecond
}
