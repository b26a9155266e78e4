// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpx provides HTTP I/O utilities shared by the services,
// the replication client, and the CLI.
//
// Response helpers (ReadResponse, DecodeResponse, ErrorBody) bound all
// body reads at MaxResponseSize to prevent unbounded memory allocation
// from a misbehaving peer. They are for JSON API responses, not for
// streaming transfers.
//
// Encoding helpers negotiate and apply Content-Encoding for the bulk
// catch-up transfer between the services: zstd preferred, lz4 as the
// cheaper fallback, identity otherwise.
package httpx
