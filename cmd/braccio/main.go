// Braccio daemon: drives one Braccio arm over BLE or serial and serves the
// HTTP API and live dashboard feeds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-braccio/internal/config"
	"github.com/teslashibe/go-braccio/internal/log"
	"github.com/teslashibe/go-braccio/pkg/armconfig"
	"github.com/teslashibe/go-braccio/pkg/ble"
	"github.com/teslashibe/go-braccio/pkg/braccio"
	"github.com/teslashibe/go-braccio/pkg/serialport"
	"github.com/teslashibe/go-braccio/pkg/web"
)

func main() {
	configPath := flag.String("config", "braccio.yaml", "Path to the daemon YAML config")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	configDir := flag.String("config-dir", "", "Arm config directory (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noAutostart := flag.Bool("no-autostart", false, "Do not start the arm at boot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "braccio: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *configDir != "" {
		cfg.ConfigDir = *configDir
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *noAutostart {
		cfg.Autostart = false
	}

	if err := run(cfg); err != nil {
		log.Error("braccio exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logs := web.NewLogBuffer(web.DefaultLogCapacity)
	logger := slog.New(logs.Handler(log.NewHandler(os.Stdout, level), slog.LevelInfo))
	log.Set(logger)

	store := armconfig.NewStore(cfg.ConfigDir)
	manager := braccio.NewManager(store, newTransport(logger), braccio.ManagerOptions{
		Driver: braccio.DriverConfig{
			Tick:           cfg.Driver.Tick,
			ConnectTimeout: cfg.Driver.ConnectTimeout,
			WriteTimeout:   cfg.Driver.WriteTimeout,
			StopTimeout:    cfg.Driver.StopTimeout,
		},
		CommandTimeout: cfg.Driver.CommandTimeout,
		Logger:         logger,
	})
	defer func() {
		if err := manager.Stop(); err != nil {
			logger.Warn("stop arm", "error", err)
		}
	}()

	if cfg.Autostart && manager.Configured() {
		if err := manager.Start(); err != nil {
			logger.Error("autostart failed", "error", err)
		}
	} else if !manager.Configured() {
		logger.Info("no arm configured", "path", store.Path())
	}

	srv := web.NewServer(manager, web.Options{
		Logs: logs,
		Scan: func(ctx context.Context) ([]ble.Device, error) {
			return ble.Scan(ctx, cfg.Scan.Prefix, cfg.Scan.Timeout)
		},
		Ports:  serialport.ListPorts,
		Logger: logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(cfg.Listen) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	return srv.Shutdown()
}

// newTransport picks the link implementation for an arm config.
func newTransport(logger *slog.Logger) braccio.TransportFactory {
	return func(cfg armconfig.ArmConfig) (braccio.Transport, error) {
		switch cfg.Kind() {
		case armconfig.TransportBLE:
			return ble.NewTransport(cfg.Address, logger), nil
		case armconfig.TransportSerial:
			return serialport.NewTransport(cfg.Address, cfg.Baud(), logger), nil
		}
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
