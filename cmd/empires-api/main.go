package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"empires/internal/api"
	"empires/internal/auth"
	"empires/internal/cache"
	"empires/internal/command"
	"empires/internal/config"
	"empires/internal/db"
	"empires/internal/game"
	"empires/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{AppName: "empires-api"})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "files", applied)
	}

	var opts []game.Option
	var board *cache.Leaderboard
	if cfg.RedisURL != "" {
		board, err = cache.Connect(ctx, cfg.RedisURL, cfg.LeaderboardTTL, logger)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer board.Close()
		opts = append(opts, game.WithLeaderboardCache(board))
	}

	tokens, err := auth.NewTokens(cfg.TokenSecret)
	if err != nil {
		logger.Error("token setup failed", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	svc := game.NewService(pool, logger, opts...)
	dispatcher := command.NewDispatcher(svc, cfg.AdminIDs, logger, command.WithObserver(m))

	server := api.New(logger, tokens, dispatcher, api.Options{
		Middleware: []func(http.Handler) http.Handler{m.InFlight},
		Metrics:    m.Handler(),
		Observer:   m,
		Health: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			if board != nil {
				return board.Health(ctx)
			}
			return nil
		},
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("empires api listening", "addr", cfg.Addr, "admins", len(cfg.AdminIDs), "leaderboard_cache", board != nil)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
