// Package main is the entry point for the openloafd daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/buildinfo"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/engine"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

func main() {
	// Parse flags
	port := flag.Int("port", -1, "Port to listen on (0 for dynamic allocation, default from settings)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("process", "openloafd")
	slog.SetDefault(logger)

	if err := run(*port, logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(port int, logger *slog.Logger) error {
	// Ensure global directory exists
	if err := config.EnsureGlobalDir(); err != nil {
		return fmt.Errorf("failed to create global directory: %w", err)
	}

	// Check if daemon is already running
	running, info, err := config.IsDaemonRunning()
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running on port %d (PID %d)", info.Port, info.PID)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if port < 0 {
		port = settings.API.Port
	}
	created, err := config.EnsureSecret(settings)
	if err != nil {
		return err
	}
	if created {
		logger.Info("generated API secret")
	}

	eng, err := engine.New(settings, engine.Options{}, logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	srv, err := server.New(eng, server.Options{Port: port, Secret: settings.API.Secret}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	daemonInfo := models.NewDaemonInfo(server.Host, srv.Port(), os.Getpid(), eng.WorkspaceRoot())
	if err := config.SaveDaemonInfo(daemonInfo); err != nil {
		srv.Stop()
		return fmt.Errorf("failed to write daemon info: %w", err)
	}
	defer func() {
		if err := config.RemoveDaemonInfo(); err != nil {
			logger.Warn("failed to remove daemon info", "error", err)
		}
	}()

	logger.Info("daemon started", "port", srv.Port(), "pid", os.Getpid(), "version", buildinfo.Version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-srv.ShutdownRequested():
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	srv.Stop()
	fmt.Fprintln(os.Stderr, "Daemon stopped")
	return nil
}
