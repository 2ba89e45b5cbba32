package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"

	"github.com/fenggwsx/roomlink/internal/config"
	"github.com/fenggwsx/roomlink/internal/server"
	"github.com/fenggwsx/roomlink/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "roomlink server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting roomlink server", "tcp", cfg.ListenAddr, "ws", cfg.WebSocketAddr, "db", cfg.Database.Path)
	if err := server.NewApp(cfg, log, store).Run(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("roomlink server stopped")
	return nil
}
