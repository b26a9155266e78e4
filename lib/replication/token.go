// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/emblemhq/emblem/lib/secret"
)

// Domain separation info strings for the two sync directions. The push
// token authorizes credential delivery to the verifier; the pull token
// authorizes reading the issuer's catch-up feed. Changing either string
// invalidates every token derived from existing secrets.
const (
	PushTokenInfo = "emblem.sync.push.v1"
	PullTokenInfo = "emblem.sync.pull.v1"
)

// tokenSize is the raw derived key length in bytes, before hex encoding.
const tokenSize = 32

// Tokens holds the two direction-scoped bearer tokens derived from one
// shared sync secret. Nil fields mean sync authentication is disabled.
type Tokens struct {
	Push *secret.Buffer
	Pull *secret.Buffer
}

// Close releases both token buffers.
func (t *Tokens) Close() {
	if t.Push != nil {
		t.Push.Close()
		t.Push = nil
	}
	if t.Pull != nil {
		t.Pull.Close()
		t.Pull = nil
	}
}

// LoadTokens reads the shared sync secret from path and derives both
// direction tokens. An empty path disables sync authentication and
// returns Tokens with nil fields.
func LoadTokens(path string) (*Tokens, error) {
	if path == "" {
		return &Tokens{}, nil
	}
	sharedSecret, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("replication: reading sync secret: %w", err)
	}
	defer sharedSecret.Close()

	push, err := DeriveToken(sharedSecret, PushTokenInfo)
	if err != nil {
		return nil, err
	}
	pull, err := DeriveToken(sharedSecret, PullTokenInfo)
	if err != nil {
		push.Close()
		return nil, err
	}
	return &Tokens{Push: push, Pull: pull}, nil
}

// DeriveToken derives a direction-scoped bearer token from the shared
// sync secret using HKDF-SHA256 with the given info string. The salt
// is nil: the operator-supplied secret need not be uniformly random,
// and HKDF's extract phase with a zero-key HMAC handles that per
// RFC 5869.
//
// The token is hex-encoded and returned in an mmap-backed buffer. The
// caller must Close it when done.
func DeriveToken(sharedSecret *secret.Buffer, info string) (*secret.Buffer, error) {
	if sharedSecret == nil {
		return nil, fmt.Errorf("replication: shared secret is required")
	}
	if info == "" {
		return nil, fmt.Errorf("replication: token info string is required")
	}

	reader := hkdf.New(sha256.New, sharedSecret.Bytes(), nil, []byte(info))
	raw := make([]byte, tokenSize)
	if _, err := io.ReadFull(reader, raw); err != nil {
		secret.Zero(raw)
		return nil, fmt.Errorf("replication: token derivation failed: %w", err)
	}

	encoded := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(encoded, raw)
	secret.Zero(raw)

	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(encoded)
}
