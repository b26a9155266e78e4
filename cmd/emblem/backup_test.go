// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/sealed"
	"github.com/emblemhq/emblem/lib/store"
)

// newBackupKey generates a keypair and writes the private key to a
// file, returning the public key and the identity file path.
func newBackupKey(t *testing.T) (publicKey, identityPath string) {
	t.Helper()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	identityPath = filepath.Join(t.TempDir(), "backup.key")
	if err := os.WriteFile(identityPath, []byte(keypair.PrivateKey.String()+"\n"), 0o600); err != nil {
		t.Fatalf("writing identity file: %v", err)
	}
	return keypair.PublicKey, identityPath
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()
	dir := t.TempDir()

	// Seed a source store with a few credentials.
	sourcePath := filepath.Join(dir, "source.db")
	source, err := store.Open(store.Config{Path: sourcePath, Logger: logger})
	if err != nil {
		t.Fatalf("opening source store: %v", err)
	}
	issued := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	var wantIDs []string
	for i, name := range []string{"alpha", "beta", "gamma"} {
		cred, err := credential.New(name, "service-account",
			map[string]any{"env": "production", "slot": float64(i)},
			"issuer@testhost/4242", issued.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("credential.New: %v", err)
		}
		if err := source.Insert(ctx, cred); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
		wantIDs = append(wantIDs, cred.ID)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("closing source store: %v", err)
	}

	publicKey, identityPath := newBackupKey(t)
	backupPath := filepath.Join(dir, "backup.age")

	err = backupCommand().Execute(ctx,
		[]string{"--store", sourcePath, "--output", backupPath, "--recipient", publicKey},
		logger)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	restoredPath := filepath.Join(dir, "restored.db")
	err = restoreCommand().Execute(ctx,
		[]string{"--store", restoredPath, "--input", backupPath, "--identity", identityPath},
		logger)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := store.Open(store.Config{Path: restoredPath, Logger: logger})
	if err != nil {
		t.Fatalf("opening restored store: %v", err)
	}
	defer restored.Close()

	count, err := restored.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != int64(len(wantIDs)) {
		t.Errorf("restored %d credentials, want %d", count, len(wantIDs))
	}
	for _, id := range wantIDs {
		cred, err := restored.FindByID(ctx, id)
		if err != nil {
			t.Errorf("FindByID(%s): %v", id, err)
			continue
		}
		if err := cred.VerifyHash(); err != nil {
			t.Errorf("restored credential %s fails verification: %v", id, err)
		}
	}
}

func TestRestoreRejectsTamperedBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	publicKey, identityPath := newBackupKey(t)

	good := newTestCredential(t, "good")
	tampered := newTestCredential(t, "tampered")
	tampered.Details = map[string]any{"env": "hijacked"}

	// Write the backup stream by hand so the tampered record gets past
	// the writer-side checks.
	backupPath := filepath.Join(dir, "backup.age")
	file, err := os.Create(backupPath)
	if err != nil {
		t.Fatalf("creating backup file: %v", err)
	}
	encryptor, err := sealed.Encrypt(file, []string{publicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	encoder := json.NewEncoder(encryptor)
	if err := encoder.Encode(good); err != nil {
		t.Fatalf("encoding record: %v", err)
	}
	if err := encoder.Encode(tampered); err != nil {
		t.Fatalf("encoding record: %v", err)
	}
	if err := encryptor.Close(); err != nil {
		t.Fatalf("closing encryptor: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("closing backup file: %v", err)
	}

	storePath := filepath.Join(dir, "restored.db")
	err = restoreCommand().Execute(ctx,
		[]string{"--store", storePath, "--input", backupPath, "--identity", identityPath},
		testLogger())
	if err == nil {
		t.Fatal("restore accepted a tampered backup")
	}
	if !errors.Is(err, credential.ErrHashMismatch) {
		t.Errorf("error = %v, want ErrHashMismatch", err)
	}

	// Nothing may have been persisted, good record included.
	db, err := store.Open(store.Config{Path: storePath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()
	count, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("store holds %d credentials after failed restore, want 0", count)
	}
}

func TestBackupRequiresValidRecipient(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "source.db")
	backupPath := filepath.Join(dir, "backup.age")

	// Seed the output path to prove a bad recipient leaves it intact.
	if err := os.WriteFile(backupPath, []byte("previous backup"), 0o600); err != nil {
		t.Fatalf("seeding output file: %v", err)
	}

	err := backupCommand().Execute(context.Background(),
		[]string{"--store", storePath, "--output", backupPath, "--recipient", "age1notakey"},
		testLogger())
	if err == nil {
		t.Fatal("backup accepted an invalid recipient")
	}

	content, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("reading output file: %v", err)
	}
	if string(content) != "previous backup" {
		t.Error("failed backup overwrote the existing output file")
	}
}
