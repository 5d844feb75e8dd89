// Package cmd hosts the process entrypoint shared by the bot binaries:
// config loading, bootstrap, signal handling, and shutdown ordering.
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3rciful/paybot/core/bootstrap"
	coreconfig "github.com/m3rciful/paybot/core/config"
	"github.com/m3rciful/paybot/core/logger"
)

// Options describe how to load configuration and build the app.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(bootstrap.Options) (*bootstrap.Infra, error)
	BuildApp   func(*coreconfig.Config, *bootstrap.Infra) (*bootstrap.App, error)

	// AppOpts are forwarded to bootstrap.BuildApp, e.g. a concrete QR
	// codec. Ignored when BuildApp is overridden.
	AppOpts []bootstrap.AppOption

	ShutdownLogger func() error
}

// Run loads configuration, bootstraps infrastructure, and runs the bot
// until interrupted.
func Run(opts Options) error {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	boot := opts.Bootstrap
	if boot == nil {
		boot = bootstrap.Run
	}
	infra, err := boot(bootstrap.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer infra.Close()

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	build := opts.BuildApp
	if build == nil {
		build = func(cfg *coreconfig.Config, infra *bootstrap.Infra) (*bootstrap.App, error) {
			return bootstrap.BuildApp(cfg, infra, opts.AppOpts...)
		}
	}
	startedAt := time.Now()
	app, err := build(cfg, infra)
	if err != nil {
		return fmt.Errorf("cmd: app build failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.L.With("component", "app").Info("app ready",
		slog.String("event", "ready"),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	err = app.Run(ctx)

	logger.L.With("component", "app").Info("shutting down...",
		slog.String("event", "shutdown"),
	)
	return err
}
