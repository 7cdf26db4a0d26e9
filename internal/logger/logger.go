// Package logger configures the process-wide slog logger.
// Dev runs use a plain text handler; stage and prod route records through zap.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

type Backend string

const (
	BackendStd Backend = "std"
	BackendZap Backend = "zap"
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level   slog.Level
	Env     Env
	Backend Backend
	Debug   bool

	// Zap sampling
	SampleInitial    int
	SampleThereafter int
}

var def *slog.Logger

// ParseEnv maps APP_ENV style values onto an Env.
func ParseEnv(raw string) Env {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod":
		return EnvStage
	default:
		return EnvDev
	}
}

// Init builds the logger for cfg and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = ParseEnv(os.Getenv("APP_ENV"))
	}
	if cfg.Service == "" {
		cfg.Service = "roomalloc"
	}
	if cfg.InstanceID == "" {
		hn, _ := os.Hostname()
		cfg.InstanceID = hn + "-" + uuid.New().String()[:8]
	}
	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs([]slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", time.Now()),
	})

	def = slog.New(h)
	slog.SetDefault(def)
	return def
}

// L returns the configured logger, initialising a dev logger on first use.
func L() *slog.Logger {
	if def != nil {
		return def
	}
	return Init(Config{})
}

func level(cfg Config) slog.Level {
	if cfg.Debug && cfg.Level == 0 {
		return slog.LevelDebug
	}
	return cfg.Level
}

func newStdHandler(cfg Config) slog.Handler {
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level(cfg)})
}
