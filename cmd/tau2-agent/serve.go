package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/auth"
	"github.com/wuTims/tau2-bench-agent/pkg/config"
	"github.com/wuTims/tau2-bench-agent/pkg/config/provider"
	"github.com/wuTims/tau2-bench-agent/pkg/logger"
	"github.com/wuTims/tau2-bench-agent/pkg/observability"
	"github.com/wuTims/tau2-bench-agent/pkg/service"
)

// ServeCmd starts the evaluation service.
type ServeCmd struct {
	Host  string `help:"Host to bind (overrides config)."`
	Port  int    `help:"Port to listen on (overrides config)."`
	Watch bool   `help:"Watch the config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logging)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	log := logger.GetLogger()

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Error("Config watch error", "error", err)
			}
		}()
	}

	obs, err := observability.NewManager(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialise observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			log.Warn("Observability shutdown failed", "error", err)
		}
	}()

	validator, err := auth.NewValidatorFromConfig(ctx, &cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialise auth: %w", err)
	}

	srv, err := service.New(cfg,
		service.WithLogger(log),
		service.WithObservability(obs),
		service.WithAuthValidator(validator),
	)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	fmt.Printf("\nEvaluation service ready\n")
	fmt.Printf("   RPC:         http://%s/\n", srv.Address())
	fmt.Printf("   Agent Card:  http://%s%s\n", srv.Address(), a2a.AgentCardPath)
	fmt.Printf("   Health:      http://%s/health\n", srv.Address())
	if cfg.Observability.MetricsEnabled {
		fmt.Printf("   Metrics:     http://%s/metrics\n", srv.Address())
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.Auth.IsEnabled() {
		fmt.Printf("   Auth:        bearer tokens required\n")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// loadConfig builds configuration from the selected source, or processed
// defaults when no source is named.
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		cfg, err := config.Process(&config.Config{})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using default configuration")
		return cfg, nil, nil
	}

	srcType, err := provider.ParseType(cli.ConfigSource)
	if err != nil {
		return nil, nil, err
	}

	cfg, loader, err := config.LoadConfig(ctx, provider.Options{
		Type:      srcType,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "source", string(srcType), "path", cli.Config)
	return cfg, loader, nil
}
