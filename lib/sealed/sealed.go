// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for credential store backups.
// It wraps filippo.io/age for the operations the backup lifecycle
// needs: generate x25519 keypairs, encrypt a backup stream to multiple
// recipients, and decrypt a backup stream with a private key.
//
// Backups are files, so both directions are streaming: [Encrypt]
// returns a WriteCloser layered over the destination, [Decrypt]
// returns a Reader layered over the source. Private keys live in
// [secret.Buffer] values backed by mmap memory outside the Go heap
// (locked against swap, excluded from core dumps, zeroed on Close).
package sealed

import (
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/emblemhq/emblem/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key sits in a
// secret.Buffer; the public key is a plain string, safe to print and
// share.
//
// The caller must Close the keypair when the private key is no longer
// needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format.
	// Never log it or pass it on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding recipient key in age1... format.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key in mmap-backed memory. The caller must Close the result.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// identity's own string copy stays on the heap until collected;
	// the buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt opens an encrypting writer over destination for one or more
// recipients given as age public key strings (age1... format). The
// backup payload is written through the returned WriteCloser; the
// ciphertext is complete only after Close.
func Encrypt(destination io.Writer, recipientKeys []string) (io.WriteCloser, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	writer, err := age.Encrypt(destination, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	return writer, nil
}

// Decrypt opens a decrypting reader over source using the given
// private key. The key is borrowed, not closed.
func Decrypt(source io.Reader, privateKey *secret.Buffer) (io.Reader, error) {
	// The string conversion is an API-boundary copy; age requires a
	// string to parse the identity.
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	reader, err := age.Decrypt(source, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return reader, nil
}

// ParsePublicKey validates an age public key string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// ParsePrivateKey validates an age private key held in a secret.Buffer.
func ParsePrivateKey(privateKey *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(privateKey.String()); err != nil {
		return fmt.Errorf("invalid age private key: %w", err)
	}
	return nil
}
