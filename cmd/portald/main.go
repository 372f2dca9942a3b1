// SPDX-License-Identifier: MIT

// Command portald runs the player-account automation daemon for the portal.
// It exposes the automation HTTP API, dispatches console commands to the
// game panel and records every automation in a durable lifecycle store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/novarealms/portal/internal/accounts"
	"github.com/novarealms/portal/internal/api"
	"github.com/novarealms/portal/internal/authme"
	"github.com/novarealms/portal/internal/automation"
	"github.com/novarealms/portal/internal/config"
	"github.com/novarealms/portal/internal/console"
	"github.com/novarealms/portal/internal/lifecycle"
	plog "github.com/novarealms/portal/internal/log"
	"github.com/novarealms/portal/internal/luckperms"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	plog.Configure(plog.Config{
		Level:   cfg.LogLevel,
		Service: "portald",
	})
	logger := plog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration is not operable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.datadir_failed").
			Str("path", cfg.DataDir).
			Msg("failed to create data directory")
	}

	events, err := lifecycle.NewStore(filepath.Join(cfg.DataDir, "lifecycle.db"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.store_open_failed").
			Msg("failed to open lifecycle store")
	}
	defer func() { _ = events.Close() }()

	directory, err := accounts.NewStore(filepath.Join(cfg.DataDir, "portal.db"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.store_open_failed").
			Msg("failed to open accounts store")
	}
	defer func() { _ = directory.Close() }()

	svc := automation.NewService(automation.Deps{
		Bindings:           directory,
		Servers:            directory,
		Events:             events,
		Console:            console.New(cfg.Panel.BaseURL, cfg.Panel.Token, cfg.Panel.Timeout),
		Credentials:        authme.New(cfg.AuthMe.BaseURL, cfg.AuthMe.Token, cfg.AuthMe.Timeout),
		Permissions:        luckperms.New(cfg.LuckPerms.BaseURL, cfg.LuckPerms.Token, cfg.LuckPerms.Timeout),
		PermissionsEnabled: cfg.LuckPerms.Enabled,
		Poll: automation.PollPolicy{
			Attempts: cfg.Verification.Attempts,
			Interval: cfg.Verification.Interval,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(svc, cfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.Listen).
			Str("version", version).
			Msg("portald started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().
			Str("event", "daemon.shutdown").
			Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().
				Err(err).
				Str("event", "daemon.shutdown_failed").
				Msg("HTTP server shutdown failed")
		}

		// In-flight automations keep running on detached contexts; wait for
		// them so every event reaches a terminal state before exit.
		svc.Drain()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("portald exited with error")
	}

	logger.Info().
		Str("event", "daemon.stopped").
		Msg("portald stopped")
}
