package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the allocation service.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	Version  string `env:"APP_VERSION" envDefault:"v0.1.0"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6380"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"roomalloc:"`

	// PostgresDSN is optional; without it history events are discarded.
	PostgresDSN string `env:"POSTGRES_DSN"`

	JWTSecret  string        `env:"JWT_SECRET,required,notEmpty"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"72h"`

	TopologyPath string `env:"TOPOLOGY_PATH" envDefault:"./config/rooms.yaml"`

	ReservationTTL  time.Duration `env:"RESERVATION_TTL" envDefault:"60s"`
	PendingLockTTL  time.Duration `env:"PENDING_LOCK_TTL" envDefault:"24h"`
	InvitationTTL   time.Duration `env:"INVITATION_TTL" envDefault:"24h"`
	AgeGapTolerance int           `env:"AGE_GAP_TOLERANCE" envDefault:"10"`
	CASMaxRetries   int           `env:"CAS_MAX_RETRIES" envDefault:"32"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	// .env не обов'язковий: у контейнері все приходить зі змінних оточення
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive, got %s", c.ReservationTTL)
	}
	if c.PendingLockTTL <= 0 {
		return fmt.Errorf("PENDING_LOCK_TTL must be positive, got %s", c.PendingLockTTL)
	}
	if c.InvitationTTL <= 0 {
		return fmt.Errorf("INVITATION_TTL must be positive, got %s", c.InvitationTTL)
	}
	if c.AgeGapTolerance < 0 {
		return fmt.Errorf("AGE_GAP_TOLERANCE must not be negative, got %d", c.AgeGapTolerance)
	}
	if c.CASMaxRetries <= 0 {
		c.CASMaxRetries = DefaultCASMaxRetries
	}
	return nil
}
