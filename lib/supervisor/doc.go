// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor maintains a fixed-size cluster of worker
// processes serving the HTTP API.
//
// The primary process forks N workers, each a re-execution of the
// service binary with EMBLEM_WORKER_ID in its environment. A worker
// initializes its own store connection, binds its listener (the port
// is shared through SO_REUSEPORT), and reports readiness by writing
// one CBOR message on an inherited pipe. The primary never serves
// requests itself.
//
// Supervision is an actor loop: a single goroutine owns the worker
// registry and consumes lifecycle events (readiness, exit, scheduled
// respawn) from per-worker forwarder goroutines. A worker crash is
// never fatal; the slot is refilled by a brand-new worker under a
// fresh id, with a growing delay when a slot keeps dying within its
// first second. Shutdown asks every live worker to drain and
// force-kills whole process groups when the grace deadline expires.
//
// Per-worker state: starting -> ready -> draining -> exited, with the
// crash transition (starting|ready -> exited) triggering respawn.
package supervisor
