// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/emblemhq/emblem/lib/canonical"
)

const (
	// workerIDEnv carries the slot number into the forked worker.
	workerIDEnv = "EMBLEM_WORKER_ID"

	// readinessFD is the descriptor the readiness pipe occupies in the
	// worker: the first ExtraFiles entry after stdin, stdout, stderr.
	readinessFD = 3
)

// ReadyMessage is the handshake a worker writes on the readiness pipe
// once its listener is accepting connections.
type ReadyMessage struct {
	WorkerID int    `cbor:"worker_id"`
	PID      int    `cbor:"pid"`
	Address  string `cbor:"address"`
}

// IsWorker reports whether this process was forked by a supervisor.
func IsWorker() bool {
	return os.Getenv(workerIDEnv) != ""
}

// WorkerID returns this worker's slot number from the environment.
func WorkerID() (int, error) {
	raw := os.Getenv(workerIDEnv)
	if raw == "" {
		return 0, fmt.Errorf("%s is not set", workerIDEnv)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", workerIDEnv, err)
	}
	if id < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", workerIDEnv, id)
	}
	return id, nil
}

// NotifyReady completes the readiness handshake: one CBOR message on
// the inherited pipe, then close. Call it after the listener is bound,
// never before.
func NotifyReady(workerID int, address string) error {
	pipe := os.NewFile(uintptr(readinessFD), "readiness-pipe")
	if pipe == nil {
		return errors.New("readiness pipe (fd 3) is not open")
	}
	defer pipe.Close()

	message := ReadyMessage{
		WorkerID: workerID,
		PID:      os.Getpid(),
		Address:  address,
	}
	encoded, err := canonical.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding readiness message: %w", err)
	}
	if _, err := pipe.Write(encoded); err != nil {
		return fmt.Errorf("writing readiness message: %w", err)
	}
	return nil
}
