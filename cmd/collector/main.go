package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flightdeck/skyboard/internal/config"
	"github.com/flightdeck/skyboard/internal/ingest"
	"github.com/flightdeck/skyboard/internal/logger"
	"github.com/flightdeck/skyboard/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFile(cfg.Logging.File)

	key, err := warehouse.LoadPrivateKey(cfg.Warehouse.PrivateKeyPath)
	if err != nil {
		logger.L.Error("failed to load private key", "error", err)
		os.Exit(1)
	}
	auth := warehouse.NewKeyPairAuth(cfg.Warehouse.Account, cfg.Warehouse.User, key)

	receiver := ingest.NewReceiver(cfg.Receiver.URL)
	stream := ingest.NewStreamClient(auth.AccountURL(), ingest.Target{
		Database: cfg.Warehouse.Database,
		Schema:   cfg.Warehouse.Schema,
		Pipe:     cfg.Warehouse.Pipe,
	}, auth, cfg.Ingest.ChannelName)

	collector := ingest.NewCollector(receiver, stream,
		cfg.Ingest.BatchSize,
		time.Duration(cfg.Ingest.IntervalSeconds)*time.Second,
		cfg.Ingest.Fast)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := receiver.Verify(ctx); err == nil {
		summary := receiver.Summarize(ctx)
		logger.L.Info("receiver summary",
			"aircraft", summary.TotalAircraft,
			"with_position", summary.WithPosition,
			"avg_altitude", summary.AvgAltitude)
	}

	if err := collector.Run(ctx); err != nil {
		logger.L.Error("collector failed", "error", err)
		os.Exit(1)
	}
}
