// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP serving lifecycle shared by the
// issuer and verifier.
//
// [Listen] binds TCP listeners with SO_REUSEPORT so that every worker
// process in a cluster binds the same address and the kernel spreads
// accepted connections across them. [HTTPServer] wraps the listener
// with readiness signaling and graceful drain: Serve(ctx) blocks until
// the context is cancelled, then stops accepting and waits for active
// requests up to the shutdown timeout. [BearerAuth] guards the
// internal sync surface with a constant-time token check.
package service
