package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Sybl-ml/mallus/pkg/client"
	"github.com/Sybl-ml/mallus/pkg/config"
	"github.com/Sybl-ml/mallus/pkg/observability"
)

// redactedConfig returns a copy safe for the startup log: the access token
// never reaches log output.
func redactedConfig(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Coordinator.AccessToken != "" {
		c.Coordinator.AccessToken = "[redacted]"
	}
	return &c
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Address != "" {
		cfg.Coordinator.Address = opts.Address
	}
	if opts.Email != "" {
		cfg.Model.Email = opts.Email
	}
	if opts.Model != "" {
		cfg.Model.Name = opts.Model
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("sybl-runner started",
		zap.String("app", cfg.AppName),
		zap.String("version", client.Version))
	zap.L().Info("effective configuration", zap.Any("config", redactedConfig(cfg)))

	cl, err := client.New(cfg, newBaselineAdapter(cfg.Model.Name))
	if err != nil {
		zap.L().Error("failed to build client", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cl.Start(ctx); err != nil {
		zap.L().Error("failed to start client", zap.Error(err))
		return 1
	}

	<-ctx.Done()
	zap.L().Info("shutdown signal received, draining")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.DrainGrace+time.Second)
	defer cancel()
	if err := cl.Stop(stopCtx); err != nil {
		zap.L().Warn("stop did not complete cleanly", zap.Error(err))
	}

	if st := cl.Status(); st.Err != nil {
		zap.L().Error("runner exited with error", zap.Error(st.Err), zap.Bool("terminal", st.Terminal))
		return 1
	}
	return 0
}
