// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emblemhq/emblem/lib/clock"
	"github.com/emblemhq/emblem/lib/credential"
)

// pushMaxAttempts is the number of delivery attempts per credential.
// Three attempts with linear backoff cover a verifier restart or a
// brief network partition without holding a goroutine for long.
const pushMaxAttempts = 3

// PusherConfig holds configuration for creating a Pusher.
type PusherConfig struct {
	// Client delivers records to the peer. Required.
	Client *Client
	// BaseDelay is the backoff unit: attempt k runs k*BaseDelay after
	// the previous failure. Required, positive.
	BaseDelay time.Duration
	// Clock schedules the backoff waits. If nil, the system clock is
	// used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Pusher delivers newly issued credentials to the peer service, one
// detached goroutine per record. Delivery is fire-and-forget from the
// caller's point of view: Push returns immediately, and a record whose
// attempts are exhausted is logged and dropped, never retried later.
type Pusher struct {
	client    *Client
	baseDelay time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPusher creates a Pusher. It panics if a required field is
// missing; construction happens once at service wiring time.
func NewPusher(config PusherConfig) *Pusher {
	if config.Client == nil {
		panic("replication.Pusher: Client is required")
	}
	if config.BaseDelay <= 0 {
		panic("replication.Pusher: BaseDelay must be positive")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pusher{
		client:    config.Client,
		baseDelay: config.BaseDelay,
		clock:     clk,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Push schedules asynchronous delivery of cred to the peer and returns
// immediately. The issuance response that triggered the push is never
// blocked or failed by the delivery outcome.
func (p *Pusher) Push(cred *credential.Credential) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.deliver(cred)
	}()
}

// Wait blocks until every scheduled delivery has finished, succeeded
// or exhausted. Used by graceful shutdown to drain in-flight pushes.
func (p *Pusher) Wait() {
	p.wg.Wait()
}

// Close abandons pending deliveries and waits for their goroutines to
// exit. After Close, Push must not be called.
func (p *Pusher) Close() {
	p.cancel()
	p.wg.Wait()
}

// deliver runs the bounded retry loop for one credential. Attempt k
// is scheduled k*baseDelay after the previous failure (the first
// attempt k*baseDelay after push start), so the delays grow 1x, 2x,
// 3x base. Any non-2xx status or transport error fails the attempt;
// there is no permanent-error shortcut, since even an authorization
// failure can be a secret rotation in progress on the peer.
func (p *Pusher) deliver(cred *credential.Credential) {
	var lastError error
	for attempt := 1; attempt <= pushMaxAttempts; attempt++ {
		select {
		case <-p.ctx.Done():
			p.logger.Warn("credential push abandoned",
				"credential_id", cred.ID,
				"attempt", attempt,
			)
			return
		case <-p.clock.After(time.Duration(attempt) * p.baseDelay):
		}

		err := p.client.PushRecord(p.ctx, cred)
		if err == nil {
			p.logger.Debug("credential pushed",
				"credential_id", cred.ID,
				"attempt", attempt,
			)
			return
		}
		lastError = err

		if attempt < pushMaxAttempts {
			p.logger.Warn("credential push failed, retrying",
				"credential_id", cred.ID,
				"attempt", attempt,
				"error", err,
			)
		}
	}

	p.logger.Error("credential push exhausted all attempts, record dropped",
		"credential_id", cred.ID,
		"attempts", pushMaxAttempts,
		"error", lastError,
	)
}
