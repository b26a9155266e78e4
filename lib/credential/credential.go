// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential defines the credential record and the rules that
// make it tamper-evident: deterministic identity derived from content,
// and a keyed digest over every field that any party can recompute to
// check authenticity.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/emblemhq/emblem/lib/canonical"
)

// IssuedAtLayout is the timestamp format for the issuedAt field:
// ISO-8601 UTC with fixed-width millisecond precision. Fixed width
// keeps lexicographic order equal to chronological order, which the
// sync cursor and the store's issued_at index both rely on. Stamps are
// always rendered in UTC so the zone suffix is the literal "Z".
const IssuedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Domain separation keys for the two credential hash contexts. The
// byte values are the ASCII domain name, zero-padded to 32 bytes.
// Changing either invalidates every existing credential.
var (
	idDomainKey = canonical.DomainKey{
		'e', 'm', 'b', 'l', 'e', 'm', '.', 'c', 'r', 'e', 'd', 'e', 'n', 't', 'i', 'a',
		'l', '.', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	recordDomainKey = canonical.DomainKey{
		'e', 'm', 'b', 'l', 'e', 'm', '.', 'c', 'r', 'e', 'd', 'e', 'n', 't', 'i', 'a',
		'l', '.', 'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// ErrHashMismatch reports that a credential's recorded hash does not
// equal the digest recomputed from its fields. Receivers treat this as
// an integrity failure and never persist the record.
var ErrHashMismatch = errors.New("credential hash mismatch")

// Credential is the unit of record. A credential is created once by
// the issuance service and afterwards only read or replicated; the
// idempotent upsert used by replication is the only write that may
// touch an existing row, and it always carries identical content.
type Credential struct {
	// ID is the hex-encoded digest of (name, credentialType, details)
	// in the ID domain. Identical content always derives the same ID,
	// which is what makes issuance idempotent.
	ID string `json:"id"`

	Name           string `json:"name"`
	CredentialType string `json:"credentialType"`

	// Details carries the credential's claims: string keys mapping to
	// JSON-shaped values (string, bool, float64, nil, arrays, nested
	// maps). At least one key is required.
	Details map[string]any `json:"details"`

	// IssuedBy identifies the worker process that created the record,
	// as <service>@<hostname>/<pid>.
	IssuedBy string `json:"issuedBy"`

	// IssuedAt is the creation stamp in IssuedAtLayout form. It is the
	// cursor for incremental sync.
	IssuedAt string `json:"issuedAt"`

	// Hash is the hex-encoded record-domain digest over all fields
	// above. Recomputed by any party that needs to trust the record.
	Hash string `json:"hash"`
}

// New builds a complete credential from issuance inputs: validates
// them, normalizes the details map to JSON value kinds, derives the
// deterministic ID, stamps issuedAt, and computes the record hash.
func New(name, credentialType string, details map[string]any, issuedBy string, now time.Time) (*Credential, error) {
	normalized, err := normalizeDetails(details)
	if err != nil {
		return nil, err
	}
	if err := validateContent(name, credentialType, normalized); err != nil {
		return nil, err
	}
	if issuedBy == "" {
		return nil, fmt.Errorf("issuedBy is empty")
	}

	id, err := DeriveID(name, credentialType, normalized)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		ID:             id,
		Name:           name,
		CredentialType: credentialType,
		Details:        normalized,
		IssuedBy:       issuedBy,
		IssuedAt:       FormatIssuedAt(now),
	}
	cred.Hash, err = cred.ComputeHash()
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// DeriveID computes the deterministic credential ID from the content
// fields. Details must already hold JSON value kinds; New normalizes
// before calling this.
func DeriveID(name, credentialType string, details map[string]any) (string, error) {
	digest, err := canonical.Digest(idDomainKey, map[string]any{
		"name":           name,
		"credentialType": credentialType,
		"details":        details,
	})
	if err != nil {
		return "", fmt.Errorf("deriving credential id: %w", err)
	}
	return canonical.FormatHash(digest), nil
}

// ComputeHash returns the record-domain digest over every field except
// Hash itself.
func (c *Credential) ComputeHash() (string, error) {
	digest, err := canonical.Digest(recordDomainKey, map[string]any{
		"id":             c.ID,
		"name":           c.Name,
		"credentialType": c.CredentialType,
		"details":        c.Details,
		"issuedBy":       c.IssuedBy,
		"issuedAt":       c.IssuedAt,
	})
	if err != nil {
		return "", fmt.Errorf("computing credential hash: %w", err)
	}
	return canonical.FormatHash(digest), nil
}

// VerifyHash recomputes the record digest from the untrusted fields
// and compares it to the recorded Hash. This is the only way any part
// of the system trusts a credential as authentic.
func (c *Credential) VerifyHash() error {
	computed, err := c.ComputeHash()
	if err != nil {
		return err
	}
	if computed != c.Hash {
		return fmt.Errorf("%w: credential %s", ErrHashMismatch, c.ID)
	}
	return nil
}

// Validate checks the shape of a full record received from outside
// (sync receipt, catch-up, restore): field presence, content rules,
// hex digests of the right size, and a canonical issuedAt stamp.
// Validate does not check integrity; callers must also VerifyHash.
func (c *Credential) Validate() error {
	if _, err := canonical.ParseHash(c.ID); err != nil {
		return fmt.Errorf("credential id: %w", err)
	}
	if err := validateContent(c.Name, c.CredentialType, c.Details); err != nil {
		return err
	}
	if c.IssuedBy == "" {
		return fmt.Errorf("issuedBy is empty")
	}
	stamp, err := ParseIssuedAt(c.IssuedAt)
	if err != nil {
		return err
	}
	// Reject non-canonical stamps (zone offsets, wrong precision).
	// The hash covers the string form, so a non-canonical stamp would
	// verify yet still corrupt cursor ordering.
	if formatted := FormatIssuedAt(stamp); formatted != c.IssuedAt {
		return fmt.Errorf("issuedAt %q is not in canonical form %q", c.IssuedAt, formatted)
	}
	if _, err := canonical.ParseHash(c.Hash); err != nil {
		return fmt.Errorf("credential hash: %w", err)
	}
	return nil
}

// FormatIssuedAt renders a timestamp in canonical issuedAt form.
func FormatIssuedAt(t time.Time) string {
	return t.UTC().Format(IssuedAtLayout)
}

// ParseIssuedAt parses an issuedAt stamp.
func ParseIssuedAt(s string) (time.Time, error) {
	t, err := time.Parse(IssuedAtLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing issuedAt: %w", err)
	}
	return t, nil
}
