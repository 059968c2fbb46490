// The hostwatch server ingests metric snapshots over HTTP, persists them,
// and evaluates alert thresholds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostwatch/hostwatch/alert"
	"github.com/hostwatch/hostwatch/config"
	"github.com/hostwatch/hostwatch/ingest"
	"github.com/hostwatch/hostwatch/internal/logging"
	"github.com/hostwatch/hostwatch/storage"
)

func main() {
	configPath := flag.String("config", "/etc/hostwatch/server.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "hostwatch-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	openCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := storage.Open(openCtx, storage.Options{
		Backend:      cfg.Storage.Backend,
		SQLitePath:   cfg.Storage.SQLite.Path,
		TimescaleDSN: cfg.Storage.Timescale.DSN,
	})
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("storage backend ready", "backend", cfg.Storage.Backend)

	channels, err := alert.BuildChannels(alert.ChannelSettings{
		Enabled:      cfg.Alerts.Channels,
		SlackWebhook: cfg.Alerts.SlackWebhook,
		SlackChannel: cfg.Alerts.SlackChannel,
		WebhookURL:   cfg.Alerts.WebhookURL,
		SMTPAddr:     cfg.Alerts.Email.SMTPAddr,
		EmailFrom:    cfg.Alerts.Email.From,
		EmailTo:      cfg.Alerts.Email.To,
	}, logger)
	if err != nil {
		return err
	}
	engine := alert.NewEngine(alert.Config{
		Thresholds:     cfg.Thresholds,
		Cooldown:       cfg.Cooldown(),
		NotifyRecovery: cfg.Alerts.NotifyRecovery,
	}, alert.NewDispatcher(channels, logger), logger)

	service := ingest.NewService(store, engine, logger)
	server := ingest.NewServer(cfg.Server.ListenAddr, service, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting",
		"addr", cfg.Server.ListenAddr, "thresholds", cfg.Thresholds, "channels", cfg.Alerts.Channels)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	err = g.Wait()

	logger.Info("server stopped")
	return err
}
