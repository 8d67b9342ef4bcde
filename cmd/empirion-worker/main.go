package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"empirion/internal/config"
	"empirion/internal/db"
	"empirion/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, logger, cfg.NotifyChannel)

	if cfg.RunOnce {
		if err := advance(ctx, st, logger); err != nil {
			logger.Error("round advance failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.RoundCheckEvery)
	defer ticker.Stop()

	logger.Info("round clock started", "check_every", cfg.RoundCheckEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := advance(ctx, st, logger); err != nil {
				logger.Error("round advance failed", "err", err)
			}
		}
	}
}

func advance(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	ids, err := st.AdvanceDueRounds(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		logger.Info("rounds advanced", "count", len(ids), "championship_ids", ids)
	}
	return nil
}
