// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists issued credentials in a local SQLite database.
//
// Credential details are stored as canonical CBOR blobs, so a record
// read back from the store re-hashes to the same digest it was written
// with. The issued_at column carries the fixed-width timestamp format
// from lib/credential, which makes lexicographic comparison in SQL
// equivalent to chronological comparison; the replication cursor
// depends on that.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/emblemhq/emblem/lib/canonical"
	"github.com/emblemhq/emblem/lib/credential"
)

var (
	// ErrNotFound reports that no credential with the requested ID
	// exists.
	ErrNotFound = errors.New("credential not found")

	// ErrAlreadyIssued reports an insert whose ID collides with an
	// existing record. IDs are derived from credential content, so
	// this means the same credential was already issued.
	ErrAlreadyIssued = errors.New("credential already issued")
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id              TEXT NOT NULL PRIMARY KEY,
	name            TEXT NOT NULL,
	credential_type TEXT NOT NULL,
	details         BLOB NOT NULL,
	issued_by       TEXT NOT NULL,
	issued_at       TEXT NOT NULL,
	hash            TEXT NOT NULL
) STRICT;

CREATE INDEX IF NOT EXISTS credentials_by_issued_at
	ON credentials (issued_at, id);
`

// Config carries the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize bounds the number of concurrent connections. Zero
	// selects a size based on GOMAXPROCS.
	PoolSize int

	// Logger receives store lifecycle events. Required.
	Logger *slog.Logger
}

// Store is a credential database handle. It is safe for concurrent use.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens the database at cfg.Path, creating it and its schema if
// needed.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}

	pool, err := openPool(cfg.Path, cfg.PoolSize)
	if err != nil {
		return nil, err
	}

	store := &Store{
		pool:   pool,
		logger: cfg.Logger,
		path:   cfg.Path,
	}
	if err := store.bootstrap(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: acquiring connection for schema: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	s.logger.Debug("store opened", "path", s.path)
	return nil
}

// Close releases all database connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// FindByID returns the credential with the given ID, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*credential.Credential, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	var found *credential.Credential
	err = sqlitex.Execute(conn, `
		SELECT id, name, credential_type, details, issued_by, issued_at, hash
		FROM credentials WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cred, err := scanCredential(stmt)
				if err != nil {
					return err
				}
				found = cred
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: finding credential %s: %w", id, err)
	}
	if found == nil {
		return nil, fmt.Errorf("store: credential %s: %w", id, ErrNotFound)
	}
	return found, nil
}

// Insert writes a newly issued credential. A record with the same ID
// already present fails with ErrAlreadyIssued and leaves the existing
// record untouched.
func (s *Store) Insert(ctx context.Context, cred *credential.Credential) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	details, err := encodeDetails(cred.Details)
	if err != nil {
		return err
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO credentials (id, name, credential_type, details, issued_by, issued_at, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{cred.ID, cred.Name, cred.CredentialType, details, cred.IssuedBy, cred.IssuedAt, cred.Hash},
		})
	if err != nil {
		code := sqlite.ErrCode(err)
		if code == sqlite.ResultConstraintPrimaryKey || code == sqlite.ResultConstraintUnique {
			return fmt.Errorf("store: credential %s: %w", cred.ID, ErrAlreadyIssued)
		}
		return fmt.Errorf("store: inserting credential %s: %w", cred.ID, err)
	}
	return nil
}

// Upsert writes a replicated credential, replacing any existing record
// with the same ID. Replication is idempotent, so replaying a record
// that already arrived is not an error.
func (s *Store) Upsert(ctx context.Context, cred *credential.Credential) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	return upsertOne(conn, cred)
}

// UpsertMany writes a batch of replicated credentials in a single
// transaction and returns the number written. Either every record in
// the batch lands or none do.
func (s *Store) UpsertMany(ctx context.Context, creds []credential.Credential) (count int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("store: beginning batch transaction: %w", err)
	}
	defer endTransaction(&err)

	for i := range creds {
		if err = upsertOne(conn, &creds[i]); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

func upsertOne(conn *sqlite.Conn, cred *credential.Credential) error {
	details, err := encodeDetails(cred.Details)
	if err != nil {
		return err
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO credentials (id, name, credential_type, details, issued_by, issued_at, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			credential_type = excluded.credential_type,
			details = excluded.details,
			issued_by = excluded.issued_by,
			issued_at = excluded.issued_at,
			hash = excluded.hash`,
		&sqlitex.ExecOptions{
			Args: []any{cred.ID, cred.Name, cred.CredentialType, details, cred.IssuedBy, cred.IssuedAt, cred.Hash},
		})
	if err != nil {
		return fmt.Errorf("store: upserting credential %s: %w", cred.ID, err)
	}
	return nil
}

// LatestIssuedAt returns the most recent issued_at timestamp in the
// store, or the empty string when the store is empty. The result seeds
// the replication cursor.
func (s *Store) LatestIssuedAt(ctx context.Context) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	var latest string
	err = sqlitex.Execute(conn, `SELECT MAX(issued_at) FROM credentials`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				latest = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("store: reading latest issued_at: %w", err)
	}
	return latest, nil
}

// ListSince returns credentials issued strictly after the given
// timestamp, in issuance order. An empty since returns from the
// beginning. A positive limit caps the result; zero or negative means
// no cap.
func (s *Store) ListSince(ctx context.Context, since string, limit int) ([]credential.Credential, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	var creds []credential.Credential
	err = sqlitex.Execute(conn, `
		SELECT id, name, credential_type, details, issued_by, issued_at, hash
		FROM credentials
		WHERE issued_at > ?
		ORDER BY issued_at ASC, id ASC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{since, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cred, err := scanCredential(stmt)
				if err != nil {
					return err
				}
				creds = append(creds, *cred)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing credentials since %q: %w", since, err)
	}
	return creds, nil
}

// Count returns the number of stored credentials.
func (s *Store) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: acquiring connection: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM credentials`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: counting credentials: %w", err)
	}
	return count, nil
}

func scanCredential(stmt *sqlite.Stmt) (*credential.Credential, error) {
	detailsBlob := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, detailsBlob)
	details, err := decodeDetails(detailsBlob)
	if err != nil {
		return nil, err
	}
	return &credential.Credential{
		ID:             stmt.ColumnText(0),
		Name:           stmt.ColumnText(1),
		CredentialType: stmt.ColumnText(2),
		Details:        details,
		IssuedBy:       stmt.ColumnText(4),
		IssuedAt:       stmt.ColumnText(5),
		Hash:           stmt.ColumnText(6),
	}, nil
}

func encodeDetails(details map[string]any) ([]byte, error) {
	encoded, err := canonical.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("store: encoding details: %w", err)
	}
	return encoded, nil
}

func decodeDetails(blob []byte) (map[string]any, error) {
	var details map[string]any
	if err := canonical.Unmarshal(blob, &details); err != nil {
		return nil, fmt.Errorf("store: decoding details: %w", err)
	}
	return details, nil
}
