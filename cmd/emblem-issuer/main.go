// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// The emblem-issuer binary serves the credential issuance API.
//
// With workers: 1 (the default) it serves in-process. With more
// workers the primary forks N copies of itself, each binding the same
// listen address via SO_REUSEPORT, and supervises them: crashed
// workers are respawned, SIGTERM drains the whole cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emblemhq/emblem/lib/clock"
	"github.com/emblemhq/emblem/lib/config"
	"github.com/emblemhq/emblem/lib/process"
	"github.com/emblemhq/emblem/lib/replication"
	"github.com/emblemhq/emblem/lib/service"
	"github.com/emblemhq/emblem/lib/store"
	"github.com/emblemhq/emblem/lib/supervisor"
	"github.com/emblemhq/emblem/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		workers     int
		storePath   string
		peerURL     string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "config file path (default: $EMBLEM_CONFIG)")
	flag.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flag.IntVar(&workers, "workers", 0, "worker process count (overrides config)")
	flag.StringVar(&storePath, "store", "", "SQLite database path (overrides config)")
	flag.StringVar(&peerURL, "peer-url", "", "verifier base URL for push sync (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("emblem-issuer")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if storePath != "" {
		cfg.Store = storePath
	}
	if peerURL != "" {
		cfg.PeerURL = peerURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers re-exec this binary with the same argv, so config
	// resolution above is identical in both roles.
	if supervisor.IsWorker() {
		return runWorker(ctx, cfg, logger)
	}
	return runPrimary(ctx, cfg, logger)
}

// loadConfig resolves the configuration source: an explicit --config
// path wins, then the EMBLEM_CONFIG environment variable, then
// built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(config.RoleIssuer, path)
	}
	if os.Getenv("EMBLEM_CONFIG") != "" {
		return config.Load(config.RoleIssuer)
	}
	return config.Default(config.RoleIssuer), nil
}

// runPrimary serves in-process when workers is 1, otherwise forks and
// supervises the worker cluster. A supervising primary never opens
// the store or binds the port; the workers do.
func runPrimary(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Workers == 1 {
		return serve(ctx, cfg, logger, nil)
	}

	sup := supervisor.New(supervisor.Config{
		Count:         cfg.Workers,
		Starter:       supervisor.ExecStarter{},
		ShutdownGrace: time.Duration(cfg.ShutdownGrace),
		OnClusterReady: func() {
			logger.Info("issuer cluster ready", "workers", cfg.Workers)
		},
		Logger: logger,
	})
	logger.Info("starting issuer cluster", "workers", cfg.Workers, "listen", cfg.Listen)
	return sup.Run(ctx)
}

// runWorker runs the serving loop inside a forked worker and reports
// readiness to the primary over the inherited pipe.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	workerID, err := supervisor.WorkerID()
	if err != nil {
		return err
	}
	logger = logger.With("worker_id", workerID)
	notify := func(address string) {
		if err := supervisor.NotifyReady(workerID, address); err != nil {
			logger.Error("readiness notification failed", "error", err)
		}
	}
	return serve(ctx, cfg, logger, notify)
}

// serve wires the store, the push-sync pipeline, and the HTTP API,
// then blocks until ctx is cancelled and the server has drained.
// notifyReady, when non-nil, is called once the listener is bound.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, notifyReady func(address string)) error {
	db, err := store.Open(store.Config{Path: cfg.Store, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	tokens, err := replication.LoadTokens(cfg.SyncSecretFile)
	if err != nil {
		return err
	}
	defer tokens.Close()

	pusher, err := newPusher(cfg, tokens, logger)
	if err != nil {
		return err
	}
	if pusher != nil {
		// Abandon undelivered pushes on shutdown; the verifier's
		// catch-up sync repairs the gap.
		defer pusher.Close()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	api := &issuerAPI{
		store:    db,
		pusher:   pusher,
		clock:    clock.System(),
		issuedBy: fmt.Sprintf("issuer@%s/%d", hostname, os.Getpid()),
		logger:   logger,
	}

	var pullToken string
	if tokens.Pull != nil {
		pullToken = tokens.Pull.String()
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen,
		Handler: api.routes(pullToken),
		Logger:  logger,
	})

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
		logger.Info("issuer serving",
			"address", server.Addr().String(),
			"store", cfg.Store,
			"push_sync", cfg.PeerURL != "",
		)
		if notifyReady != nil {
			notifyReady(server.Addr().String())
		}
	case err := <-serveDone:
		return err
	}

	return <-serveDone
}

// newPusher builds the push-sync pipeline toward the verifier, or
// returns nil when no peer is configured.
func newPusher(cfg *config.Config, tokens *replication.Tokens, logger *slog.Logger) (*replication.Pusher, error) {
	if cfg.PeerURL == "" {
		return nil, nil
	}
	client, err := replication.NewClient(replication.ClientConfig{
		PeerURL:    cfg.PeerURL,
		Token:      tokens.Push,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return replication.NewPusher(replication.PusherConfig{
		Client:    client,
		BaseDelay: time.Duration(cfg.PushBaseDelay),
		Logger:    logger,
	}), nil
}
