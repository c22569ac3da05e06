package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"govtoken/internal/clock"
	"govtoken/internal/handler"
	"govtoken/internal/middleware"
	"govtoken/internal/protocol"
	"govtoken/internal/repository/postgres"
	"govtoken/pkg/config"
	"govtoken/pkg/logger"
	"govtoken/pkg/metrics"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel("tokend", cfg.Log.Level)

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}
	if err := cfg.ValidateProtocol(); err != nil {
		log.Fatal("Invalid protocol configuration", map[string]interface{}{"error": err.Error()})
	}
	settings, err := protocol.SettingsFromConfig(cfg)
	if err != nil {
		log.Fatal("Invalid protocol configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting token service", map[string]interface{}{
		"port":   cfg.Server.Port,
		"symbol": cfg.Token.Symbol,
	})

	// Database connection
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	// Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Redis connected", nil)

	// Protocol state: restore, then persist every later commit.
	p := protocol.New(settings, clock.System{}, log)
	repo := postgres.NewStateRepository(db)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	entries, err := repo.Load(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatal("Failed to load state", map[string]interface{}{"error": err.Error()})
	}
	if err := p.Restore(entries); err != nil {
		log.Fatal("Failed to restore state", map[string]interface{}{"error": err.Error()})
	}
	p.OnCommit(repo.Listener(logger.Component(log, "persistence")))

	if err := p.Bootstrap(context.Background()); err != nil {
		log.Fatal("Failed to bootstrap protocol", map[string]interface{}{"error": err.Error()})
	}

	collector := metrics.NewCollector()
	p.Instrument(collector)

	blacklist := middleware.NewRedisTokenBlacklist(redisClient)

	r := handler.NewRouter(handler.RouterConfig{
		Protocol:       p,
		Logger:         log,
		Metrics:        collector,
		Auth:           middleware.NewAuthMiddleware(cfg.JWT.Secret, blacklist),
		RateLimiter:    middleware.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow),
		Idempotency:    middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour, logger.Component(log, "idempotency")),
		Revoker:        blacklist,
		EventStore:     repo,
		DB:             db,
		Redis:          redisClient,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Token service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down token service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Token service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Token service stopped gracefully", nil)
}
