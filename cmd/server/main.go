package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/clinicware/syncd/internal/auth"
	"github.com/clinicware/syncd/internal/broadcast"
	"github.com/clinicware/syncd/internal/config"
	"github.com/clinicware/syncd/internal/database"
	"github.com/clinicware/syncd/internal/logging"
	"github.com/clinicware/syncd/internal/redis"
	"github.com/clinicware/syncd/internal/scope"
	"github.com/clinicware/syncd/internal/server"
	syncsvc "github.com/clinicware/syncd/internal/sync"
	"github.com/clinicware/syncd/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, hub *broadcast.Hub, cancelRelay context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelRelay()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	revocations := redis.NewRevocationStore(redisClient, 24*time.Hour)
	gate := auth.NewJWTGate(cfg.JWTSecret, revocations, clock)

	relay := redis.NewRelay(redisClient)
	hub := broadcast.NewHub(clock, relay, cfg.MaxClientsPerRoom)
	router := scope.NewRouter(hub, clock)

	fetcher := database.NewPoolFetcher(pool)
	syncService := syncsvc.NewService(fetcher, syncsvc.DefaultAllowlist, clock, cfg.SyncMaxRows)

	srv := server.NewServer(cfg, gate, hub, router, syncService, pool, redisClient)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	go relay.Start(relayCtx, hub)

	done := runGracefulShutdown(srv, hub, cancelRelay)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Application stopped")
}
