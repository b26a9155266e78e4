// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// openPool opens a fixed-size SQLite connection pool with the standard
// pragmas applied to every connection. Connections are initialized
// lazily on first Take.
func openPool(path string, poolSize int) (*sqlitex.Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	return pool, nil
}

// prepareConnection applies the standard pragmas. WAL keeps readers
// unblocked by the single writer, which also makes it safe for every
// worker process to open its own pool against the same database file.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}
