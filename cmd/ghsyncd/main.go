// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghsync/ghsync/lib/clock"
	"github.com/ghsync/ghsync/lib/config"
	"github.com/ghsync/ghsync/lib/github"
	"github.com/ghsync/ghsync/lib/process"
	"github.com/ghsync/ghsync/lib/publish"
	"github.com/ghsync/ghsync/lib/syncer"
	"github.com/ghsync/ghsync/lib/version"
	"github.com/ghsync/ghsync/lib/webhook"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configFile string
	var showVersion bool
	flag.StringVar(&configFile, "config", "", "path to the YAML configuration file")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("ghsyncd " + version.Full())
		return nil
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	client, err := newGitHubClient(cfg, clk, logger)
	if err != nil {
		return err
	}

	// The publisher sweeps leftover staging directories and recovers
	// the output tree on construction.
	publisher, err := publish.New(cfg, clk, logger)
	if err != nil {
		return err
	}

	coordinator := syncer.New(cfg, client, publisher, clk, logger)

	// Webhook deliveries feed the coordinator. Submit never blocks, so
	// the handler stays inside GitHub's delivery timeout.
	handler := webhook.NewHandler(webhook.HandlerConfig{
		Secret:     []byte(cfg.Secret),
		Repository: cfg.Repository,
		Branch:     cfg.Branch,
		Logger:     logger,
		Clock:      clk,
		OnTrigger: func(trigger webhook.Trigger) {
			coordinator.Submit(trigger.HeadSHA)
		},
	})

	httpServer := webhook.NewHTTPServer(webhook.HTTPServerConfig{
		Address: cfg.ListenAddress(),
		Handler: handler,
		Logger:  logger,
	})

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.Serve(ctx)
	}()

	// Wait for the listener to bind before starting the worker, so a
	// port conflict fails fast instead of leaving a half-started daemon.
	select {
	case <-httpServer.Ready():
		logger.Info("webhook listener ready", "address", httpServer.Addr().String())
	case err := <-httpDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- coordinator.Run(ctx)
	}()

	logger.Info("ghsyncd running",
		"version", version.Info(),
		"repository", cfg.Repository,
		"branch", cfg.Branch,
		"artifact", cfg.Artifact,
		"symlink", cfg.Symlink,
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// Wait for the server and the worker to drain.
	if err := <-httpDone; err != nil {
		logger.Error("webhook server error", "error", err)
	}
	if err := <-workerDone; err != nil {
		logger.Error("sync worker error", "error", err)
	}

	return nil
}

// newGitHubClient builds the API client from the configured
// credential: a static token, or App authentication with the private
// key read from disk.
func newGitHubClient(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*github.Client, error) {
	clientConfig := github.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.Token,
		Clock:   clk,
		Logger:  logger,
	}

	if cfg.AppID != 0 {
		key, err := os.ReadFile(cfg.AppPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading App private key: %w", err)
		}
		clientConfig.AppID = cfg.AppID
		clientConfig.PrivateKey = key
		clientConfig.InstallationID = cfg.AppInstallationID
	}

	return github.NewClient(clientConfig)
}
