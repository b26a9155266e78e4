// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// DomainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts. Keys are fixed constants owned by the
// domain package that defines them; changing one invalidates every
// existing hash in that domain. By convention the byte values are the
// ASCII encoding of the domain name, zero-padded to 32 bytes, so keys
// stay readable in hex dumps without sacrificing any cryptographic
// property (BLAKE3 keyed mode treats the key as opaque).
type DomainKey [32]byte

// Digest canonically encodes v and returns its keyed BLAKE3 hash.
// Because the encoding is deterministic, logically equal values always
// produce equal digests, regardless of map insertion order.
func Digest(key DomainKey, v any) (Hash, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return Hash{}, fmt.Errorf("canonical encoding for digest: %w", err)
	}
	return Sum(key, data), nil
}

// Sum computes the keyed BLAKE3 hash of raw bytes.
func Sum(key DomainKey, data []byte) Hash {
	// NewKeyed only fails on wrong key length, which DomainKey's
	// fixed size rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("canonical: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the canonical format used on the wire, in the store, and in
// logs.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}
