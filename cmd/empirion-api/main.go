package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"empirion/internal/api"
	"empirion/internal/auth"
	"empirion/internal/config"
	"empirion/internal/db"
	"empirion/internal/realtime"
	"empirion/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
		logger.Info("schema up to date")
	}

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	st := store.New(pool, logger, cfg.NotifyChannel)

	var hub *realtime.Hub
	if cfg.MonitorEnabled {
		hub = realtime.NewHub(logger, cfg.AllowedOrigins)
		defer hub.Close()
	}
	server := api.New(cfg, logger, authClient, st, hub)
	if hub != nil {
		listener := realtime.NewListener(pool, st.NotifyChannel(), logger, server.OnDecisionEvent)
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("decision listener stopped", "err", err)
			}
		}()
	}

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

	logger.Info("empirion api listening", "addr", cfg.Addr, "monitor", cfg.MonitorEnabled)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
