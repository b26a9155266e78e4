// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// The emblem-verifier binary serves the credential verification API
// against a replica kept in sync with the issuer: the issuer pushes
// each new credential here, and at startup (plus on an optional cron
// schedule) the verifier pulls whatever the pushes missed.
//
// Worker supervision works exactly as in emblem-issuer: workers: 1
// serves in-process, more forks an SO_REUSEPORT cluster.
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
	"github.com/emblemhq/emblem/lib/cron"
	"github.com/emblemhq/emblem/lib/process"
	"github.com/emblemhq/emblem/lib/replication"
	"github.com/emblemhq/emblem/lib/service"
	"github.com/emblemhq/emblem/lib/store"
	"github.com/emblemhq/emblem/lib/supervisor"
	"github.com/emblemhq/emblem/lib/version"
)

// pullTimeout bounds one catch-up transfer. Generous because an empty
// replica pulls the issuer's full history in a single response.
const pullTimeout = 5 * time.Minute

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
	flag.StringVar(&peerURL, "peer-url", "", "issuer base URL for catch-up sync (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("emblem-verifier")
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
		return config.LoadFile(config.RoleVerifier, path)
	}
	if os.Getenv("EMBLEM_CONFIG") != "" {
		return config.Load(config.RoleVerifier)
	}
	return config.Default(config.RoleVerifier), nil
}

// runPrimary catches up with the issuer before any worker serves a
// read, then either serves in-process or supervises the cluster.
func runPrimary(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.PeerURL != "" {
		stopReplication, err := startReplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stopReplication()
	}

	if cfg.Workers == 1 {
		return serve(ctx, cfg, logger, nil)
	}

	sup := supervisor.New(supervisor.Config{
		Count:         cfg.Workers,
		Starter:       supervisor.ExecStarter{},
		ShutdownGrace: time.Duration(cfg.ShutdownGrace),
		OnClusterReady: func() {
			logger.Info("verifier cluster ready", "workers", cfg.Workers)
		},
		Logger: logger,
	})
	logger.Info("starting verifier cluster", "workers", cfg.Workers, "listen", cfg.Listen)
	return sup.Run(ctx)
}

// startReplication opens a primary-owned store handle, runs the
// startup catch-up, and starts the optional resync loop. The returned
// stop function waits for the loop to exit and releases the handle.
//
// Catch-up failure is deliberately not fatal: the verifier serves the
// records it already has, and the resync schedule or the next restart
// repairs the gap.
func startReplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stop func(), err error) {
	db, err := store.Open(store.Config{Path: cfg.Store, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	tokens, err := replication.LoadTokens(cfg.SyncSecretFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	client, err := replication.NewClient(replication.ClientConfig{
		PeerURL:    cfg.PeerURL,
		Token:      tokens.Pull,
		HTTPClient: &http.Client{Timeout: pullTimeout},
	})
	if err != nil {
		tokens.Close()
		db.Close()
		return nil, err
	}
	puller := replication.NewPuller(replication.PullerConfig{
		Client: client,
		Store:  db,
		Logger: logger,
	})

	if _, err := puller.CatchUp(ctx); err != nil {
		logger.Error("catch-up sync failed, serving existing records", "error", err)
	}

	resyncDone := make(chan struct{})
	if cfg.ResyncSchedule == "" {
		close(resyncDone)
	} else {
		go func() {
			defer close(resyncDone)
			resyncLoop(ctx, cfg.ResyncSchedule, puller, logger)
		}()
	}

	return func() {
		<-resyncDone
		tokens.Close()
		db.Close()
	}, nil
}

// resyncLoop re-runs catch-up on the cron schedule, healing records
// whose push delivery the issuer dropped after exhausting retries.
func resyncLoop(ctx context.Context, expression string, puller *replication.Puller, logger *slog.Logger) {
	schedule, err := cron.Parse(expression)
	if err != nil {
		// Config validation already parsed this expression.
		logger.Error("invalid resync schedule", "schedule", expression, "error", err)
		return
	}
	logger.Info("resync schedule active", "schedule", expression)
	err = schedule.Every(ctx, clock.System(), func(scheduled time.Time) {
		if _, err := puller.CatchUp(ctx); err != nil {
			logger.Error("scheduled resync failed",
				"scheduled", scheduled,
				"error", err,
			)
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("resync loop stopped", "error", err)
	}
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

// serve wires the store and the HTTP API, then blocks until ctx is
// cancelled and the server has drained. notifyReady, when non-nil, is
// called once the listener is bound.
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

	api := &verifierAPI{
		store:  db,
		logger: logger,
	}

	var pushToken string
	if tokens.Push != nil {
		pushToken = tokens.Push.String()
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen,
		Handler: api.routes(pushToken),
		Logger:  logger,
	})

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
		logger.Info("verifier serving",
			"address", server.Addr().String(),
			"store", cfg.Store,
		)
		if notifyReady != nil {
			notifyReady(server.Addr().String())
		}
	case err := <-serveDone:
		return err
	}

	return <-serveDone
}
