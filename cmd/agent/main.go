// The hostwatch agent samples host metrics on a fixed cadence and delivers
// them to the ingestion service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/hostwatch/hostwatch/client"
	"github.com/hostwatch/hostwatch/collector"
	"github.com/hostwatch/hostwatch/config"
	"github.com/hostwatch/hostwatch/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/hostwatch/agent.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "hostwatch-agent:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("resolve hostname: %w", err)
	}

	c := client.New(client.Config{
		URL:        cfg.Endpoint.URL,
		Timeout:    cfg.Endpoint.Timeout.Std(),
		MaxRetries: cfg.Endpoint.MaxRetries,
		BaseDelay:  cfg.Endpoint.BaseDelay.Std(),
		MaxDelay:   cfg.Endpoint.MaxDelay.Std(),
	}, logger)
	runner := client.NewRunner(c, logger)
	sampler := collector.NewSampler(hostname, collector.NewRegistry(), runner, cfg.Interval(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting",
		"hostname", hostname, "interval", cfg.Interval(), "endpoint", cfg.Endpoint.URL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(ctx) })
	g.Go(func() error { return runner.Run(ctx) })
	err = g.Wait()

	logger.Info("agent stopped", "dropped", runner.Dropped(), "failed", runner.Failed())
	return err
}
