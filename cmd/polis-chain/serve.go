package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/polisai/polis-chain/internal/certs"
	"github.com/polisai/polis-chain/pkg/config"
	"github.com/polisai/polis-chain/pkg/logging"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve requests through the configured chains",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// loadConfig reads the configuration and applies the log-level flag.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.LogLevel != "" {
		if _, err := logging.ParseLevel(flags.LogLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = flags.LogLevel
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags, err := parseGlobalFlags(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging, cmd.OutOrStdout())
	slog.SetDefault(logger)
	logger.Info("Starting polis-chain", "config", flags.ConfigPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Failed to flush telemetry", "error", err)
		}
	}()

	a := newApp(cfg, logger)
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("Failed to close session store", "error", err)
		}
	}()
	a.sessions.StartSweeper(cfg.Sessions.SweepInterval)

	provider, err := config.NewFileProvider(flags.ConfigPath,
		config.WithProviderLogger(logger),
		config.WithReloadHook(func(err error) {
			if err != nil {
				a.metrics.RecordConfigReload(reloadFailed)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Error("Failed to close config provider", "error", err)
		}
	}()

	// The first snapshot arrives immediately; the server refuses to start
	// when it does not build.
	updates := provider.Subscribe()
	first := <-updates
	if err := a.apply(first.Config); err != nil {
		return err
	}
	go watchConfig(updates, a, logger)

	tlsConfig, err := cfg.Server.TLS.Build()
	if err != nil {
		return fmt.Errorf("server tls: %w", err)
	}
	if tlsConfig != nil {
		reloader, err := certs.NewReloader(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, certs.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("server tls: %w", err)
		}
		defer func() { _ = reloader.Close() }()
		if err := reloader.Watch(); err != nil {
			return fmt.Errorf("server tls: %w", err)
		}
		reloader.Apply(tlsConfig)
		a.certificate = reloader
	}

	data := &http.Server{
		Handler:           a.dataHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}
	admin := &http.Server{
		Handler:           a.adminHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	if err := startServer(data, cfg.Server.Address, "data", tlsConfig, logger, errCh); err != nil {
		return err
	}
	if err := startServer(admin, cfg.Server.AdminAddress, "admin", nil, logger, errCh); err != nil {
		_ = data.Close()
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case serveErr = <-errCh:
		logger.Error("Server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := errors.Join(data.Shutdown(shutdownCtx), admin.Shutdown(shutdownCtx))
	if shutdownErr != nil {
		logger.Error("Shutdown error", "error", shutdownErr)
	}
	logger.Info("Shutdown complete")
	return errors.Join(serveErr, shutdownErr)
}

// watchConfig applies every snapshot published after the first. A snapshot
// that fails to build keeps the running chains.
func watchConfig(updates <-chan config.Snapshot, a *app, logger *slog.Logger) {
	for snapshot := range updates {
		logger.Info("Configuration update received", "generation", snapshot.Generation)
		if err := a.apply(snapshot.Config); err != nil {
			logger.Warn("Keeping previous chains", "generation", snapshot.Generation)
		}
	}
}

// startServer binds addr and serves srv in the background. Serve errors are
// sent to errCh.
func startServer(srv *http.Server, addr, name string, tlsConfig *tls.Config, logger *slog.Logger, errCh chan<- error) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s listener %s: %w", name, addr, err)
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}
	logger.Info("Server listening", "server", name, "addr", listener.Addr().String(), "tls", tlsConfig != nil)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
	return nil
}

