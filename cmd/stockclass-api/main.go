package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockclass/internal/access"
	"stockclass/internal/api"
	"stockclass/internal/config"
	"stockclass/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load env file", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	store, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("store open failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	seeds, err := config.SeedStocks(cfg.SeedFile)
	if err != nil {
		logger.Error("seed file invalid", "path", cfg.SeedFile, "err", err)
		os.Exit(1)
	}
	g := game.New(store, game.WithLogger(logger), game.WithSeedStocks(seeds))
	if cfg.StartupSeedStocks {
		seeded, err := g.SeedStocks(nil)
		if err != nil {
			logger.Error("seed stocks failed", "err", err)
			os.Exit(1)
		}
		if seeded {
			logger.Info("seeded market", "stocks", len(g.Stocks()))
		}
	}

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	server := api.New(cfg, logger, g, access.NewManager(g, logger), hub)
	go server.RunMarketTicker(ctx, cfg.MarketTickEvery)

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

	logger.Info("stockclass api listening", "addr", cfg.Addr, "store", cfg.Store.Backend, "day", g.Day())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
