package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwhitfield/spreadscan/internal/chain"
	"github.com/mwhitfield/spreadscan/internal/config"
	"github.com/mwhitfield/spreadscan/internal/dashboard"
	"github.com/mwhitfield/spreadscan/internal/report"
	"github.com/mwhitfield/spreadscan/internal/scan"
	"github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("Scanner error: %v", err)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	store, err := report.NewJSONStore(cfg.Report.Path)
	if err != nil {
		return fmt.Errorf("opening report store: %w", err)
	}

	orchestrator := scan.New(provider, cfg.Risk, logger, cfg.Scan.Concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	rep, err := orchestrator.Run(ctx, scan.Request{
		Symbols:        cfg.Scan.Symbols,
		Strategies:     cfg.StrategyIDs(),
		Expirations:    cfg.Scan.Expirations,
		PolicyRequests: cfg.Scan.Policies,
	})
	if err != nil {
		return fmt.Errorf("running scan: %w", err)
	}

	if err := store.SaveReport(rep); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	printSummary(rep, logger)

	if !cfg.Dashboard.Enabled {
		return nil
	}
	return serveDashboard(ctx, cfg, store, logger)
}

func buildProvider(cfg *config.Config, logger *logrus.Logger) (chain.Provider, error) {
	var provider chain.Provider
	switch cfg.Provider.Mode {
	case "synthetic":
		seed := cfg.Provider.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		provider = chain.NewSyntheticProvider(seed)
	default:
		fp, err := chain.NewFileProvider(cfg.Provider.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot file: %w", err)
		}
		provider = fp
	}

	if cfg.Provider.CircuitBreaker {
		provider = chain.NewCircuitBreakerProvider(provider, logger)
	}
	return provider, nil
}

func printSummary(rep *scan.Report, logger *logrus.Logger) {
	logger.WithFields(logrus.Fields{
		"report_id":  rep.ID,
		"symbols":    len(rep.Symbols),
		"candidates": rep.Stats.Candidates,
		"accepted":   rep.Stats.Accepted,
		"warnings":   len(rep.Warnings),
	}).Info("Scan complete")

	for _, f := range rep.Funnels {
		logger.WithFields(logrus.Fields{
			"strategy":   f.StrategyID,
			"candidates": f.Candidates,
			"evaluated":  f.Evaluated,
			"accepted":   f.Accepted,
			"relaxation": f.RelaxationState,
		}).Debug("Strategy funnel")
	}

	for i, t := range rep.Trades {
		logger.Infof("#%d %s score=%.3f", i+1, t.Key.Encode(), t.RankScore)
	}
}

func serveDashboard(ctx context.Context, cfg *config.Config, store report.Store, logger *logrus.Logger) error {
	server := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
	}, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
