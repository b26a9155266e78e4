// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package replication implements the sync protocol between the
// issuance and verification services.
//
// Push path: after the issuer persists a credential, a Pusher delivers
// it to the verifier's receive endpoint in a detached goroutine with
// bounded linear-backoff retries. Delivery failure never unwinds the
// issuance; the terminal outcome of an exhausted push is a log line.
//
// Pull path: at verifier startup, and again on the optional resync
// schedule, a Puller asks the issuer for every credential issued
// strictly after the local high-water mark, verifies every returned
// record's hash, and applies the whole batch atomically.
//
// Neither direction trusts a received record except by recomputing its
// digest from the untrusted fields and comparing byte equality with
// the supplied hash.
//
// When a shared sync secret is configured, requests carry a bearer
// token derived from it with HKDF-SHA256, scoped to one direction by
// the PushTokenInfo and PullTokenInfo domain strings so a captured
// push token cannot read the catch-up feed.
package replication
