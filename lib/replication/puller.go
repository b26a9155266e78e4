// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/store"
)

// PullerConfig holds configuration for creating a Puller.
type PullerConfig struct {
	// Client reads the peer's catch-up feed. Required.
	Client *Client
	// Store receives the verified records. Required.
	Store *store.Store
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Puller brings the local store up to date with the issuance peer.
// The verifier runs it once at startup before workers fork, and again
// on the resync schedule to repair records lost to dropped pushes.
type Puller struct {
	client *Client
	store  *store.Store
	logger *slog.Logger
}

// NewPuller creates a Puller. It panics if a required field is
// missing; construction happens once at service wiring time.
func NewPuller(config PullerConfig) *Puller {
	if config.Client == nil {
		panic("replication.Puller: Client is required")
	}
	if config.Store == nil {
		panic("replication.Puller: Store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Puller{
		client: config.Client,
		store:  config.Store,
		logger: logger,
	}
}

// CatchUp fetches every credential the peer issued strictly after the
// local high-water mark, verifies each record, and applies the whole
// batch atomically. Returns the number of records inserted or updated.
//
// A single malformed or hash-mismatched record rejects the entire
// batch; nothing from it is persisted. The error wraps
// credential.ErrHashMismatch for integrity failures and is a
// *SyncError for shape violations, so the caller can log the cause
// and keep the service running.
func (p *Puller) CatchUp(ctx context.Context) (int, error) {
	cursor, err := p.store.LatestIssuedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading sync cursor: %w", err)
	}

	records, err := p.client.FetchSince(ctx, cursor)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		p.logger.Info("catch-up found nothing new", "cursor", cursor)
		return 0, nil
	}

	// Verify the whole batch before persisting any of it. The records
	// are untrusted until each one's hash is recomputed locally.
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return 0, &SyncError{
				Kind:    httpx.KindInvalidResponse,
				Message: fmt.Sprintf("catch-up record %d malformed: %v", i, err),
			}
		}
		if err := records[i].VerifyHash(); err != nil {
			return 0, fmt.Errorf("catch-up batch rejected: %w", err)
		}
	}

	count, err := p.store.UpsertMany(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("applying catch-up batch: %w", err)
	}

	p.logger.Info("catch-up applied",
		"count", count,
		"cursor", cursor,
	)
	return count, nil
}
