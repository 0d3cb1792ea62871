package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Hydraverse/db/api"
	"github.com/Hydraverse/db/config"
	"github.com/Hydraverse/db/db"
	"github.com/Hydraverse/db/events"
	"github.com/Hydraverse/db/explorer"
	"github.com/Hydraverse/db/hyrpc"
	"github.com/Hydraverse/db/ingest"
)

func main() {
	path := config.DefaultPath()
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hydb: %v\n", err)
		os.Exit(-1)
	}

	logger, err := newLogger(cfg.DB.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hydb: logger: %v\n", err)
		os.Exit(-1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := hyrpc.Dial(ctx, cfg.HydraRPC.URL)
	if err != nil {
		return fmt.Errorf("node dial: %w", err)
	}
	defer node.Close()

	mainnet, err := node.Mainnet(ctx)
	if err != nil {
		return fmt.Errorf("chain detect: %w", err)
	}
	logger.Info("connected to node",
		zap.String("url", cfg.HydraRPC.URL), zap.Bool("mainnet", mainnet))

	exp := explorer.New(mainnet)

	dbc, err := db.Open(ctx, cfg.DB.URL, logger)
	if err != nil {
		return err
	}
	defer dbc.Close()

	reg := db.NewRegistry(node, exp, logger)
	hub := events.NewHub()
	dbc.OnEventInsert(hub.Notify)

	met := ingest.NewMetrics()
	pipeline := ingest.New(node, exp, dbc, reg, logger, met)

	listen, err := listenAddr(cfg.HyDbClient.URL)
	if err != nil {
		return err
	}
	server := api.NewServer(listen, dbc, reg, hub, mainnet, met, logger)

	errc := make(chan error, 2)
	go func() { errc <- pipeline.Run(ctx) }()
	go func() { errc <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		if err != nil && ctx.Err() == nil {
			logger.Error("fatal", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// listenAddr derives the bind address from the service's own URL.
func listenAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("HyDbClient url: %w", err)
	}
	host := u.Host
	if host == "" {
		return "", fmt.Errorf("HyDbClient url %q has no host", raw)
	}
	return host, nil
}
