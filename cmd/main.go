package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"roomalloc/backend/internal/allocation"
	"roomalloc/backend/internal/api/handler"
	"roomalloc/backend/internal/audit"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/config"
	"roomalloc/backend/internal/hub"
	"roomalloc/backend/internal/localization"
	"roomalloc/backend/internal/logger"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/topology"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(ctx context.Context, cfg *config.Config, log *slog.Logger) (*redis.Client, audit.Sink, error) {
	// 1. Redis: спільний стан кімнат
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}

	// 2. PostgreSQL лише для історії, без нього сервіс теж працює
	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN is empty, history events are discarded")
		return rdb, audit.Nop{}, nil
	}
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	sink := audit.NewGormSink(db)
	if err := sink.Migrate(); err != nil {
		return nil, nil, err
	}

	log.Info("Database and Redis connections established, migrations complete.")
	return rdb, sink, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.Init(logger.Config{
		Version: cfg.Version,
		Env:     logger.ParseEnv(cfg.AppEnv),
	})
	log.Info("Starting room allocation service...", "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	rdb, sink, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		log.Error("failed to set up dependencies", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	topo, err := topology.Load(cfg.TopologyPath)
	if err != nil {
		log.Error("failed to load room topology", "path", cfg.TopologyPath, "error", err)
		os.Exit(1)
	}

	kv := storage.NewRedisKV(rdb, cfg.RedisNamespace, cfg.CASMaxRetries, log)
	engine := allocation.NewService(kv, topo, clock.Real{}, sink, allocation.OptionsFromConfig(cfg), log)

	// 2. Hub розсилає зміни кімнат усім підключеним клієнтам
	roomHub := hub.NewManagerService(engine, log)
	go func() {
		if err := roomHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("room hub stopped", "error", err)
		}
	}()
	go collectLoop(ctx, engine, log)

	loc, err := localization.Default()
	if err != nil {
		log.Error("failed to load locales", "error", err)
		os.Exit(1)
	}

	// 3. Налаштування Gin та роутингу
	if cfg.AppEnv != string(logger.EnvDev) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	h := handler.NewHandler(engine, roomHub, loc, handler.NewSessionIssuer(cfg.JWTSecret, cfg.SessionTTL), log)
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// collectLoop periodically drops expired workflow records and locks.
func collectLoop(ctx context.Context, engine *allocation.Service, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := engine.CollectExpired(ctx)
			if err != nil {
				log.Warn("collect expired records", "error", err)
			}
			if res.Invitations+res.JoinRequests+res.Reservations+res.PendingLocks > 0 {
				log.Info("collected expired records",
					"invitations", res.Invitations,
					"join_requests", res.JoinRequests,
					"reservations", res.Reservations,
					"pending_locks", res.PendingLocks,
				)
			}
		}
	}
}
