// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/sealed"
	"github.com/emblemhq/emblem/lib/secret"
	"github.com/emblemhq/emblem/lib/store"
)

// restoreCommand returns the "restore" subcommand.
func restoreCommand() *cli.Command {
	var (
		storePath    string
		inputPath    string
		identityPath string
	)

	return &cli.Command{
		Name:    "restore",
		Summary: "Restore credentials from an encrypted backup",
		Description: `Decrypt a backup written by 'emblem backup' and load its records into
the store. Every record's hash is verified before anything is written;
a backup that fails verification anywhere restores nothing.

Records already in the store are overwritten by their backup copies,
so restoring an old backup into a live store is safe: replay a newer
backup (or let sync catch up) to converge again.`,
		Usage: "emblem restore --input <file.age> --identity <keyfile> [flags]",
		Examples: []cli.Example{
			{
				Description: "Restore into a fresh store",
				Command:     "emblem restore --store emblem.db --input nightly.age --identity backup.key",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("restore", pflag.ContinueOnError)
			flagSet.StringVar(&storePath, "store", "emblem.db", "SQLite store path")
			flagSet.StringVar(&inputPath, "input", "", "backup file to read (required)")
			flagSet.StringVar(&identityPath, "identity", "", `age private key file ("-" reads stdin, required)`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if inputPath == "" {
				return fmt.Errorf("--input is required")
			}
			if identityPath == "" {
				return fmt.Errorf("--identity is required")
			}

			privateKey, err := secret.ReadFromPath(identityPath)
			if err != nil {
				return fmt.Errorf("reading identity file: %w", err)
			}
			defer privateKey.Close()

			inputFile, err := os.Open(inputPath)
			if err != nil {
				return fmt.Errorf("opening backup file: %w", err)
			}
			defer inputFile.Close()

			reader, err := sealed.Decrypt(inputFile, privateKey)
			if err != nil {
				return err
			}

			records, err := decodeBackup(reader)
			if err != nil {
				return err
			}

			db, err := store.Open(store.Config{Path: storePath, Logger: logger})
			if err != nil {
				return err
			}
			defer db.Close()

			count, err := db.UpsertMany(ctx, records)
			if err != nil {
				return fmt.Errorf("restoring credentials: %w", err)
			}

			fmt.Printf("restored %d credentials into %s\n", count, storePath)
			return nil
		},
	}
}

// decodeBackup reads and verifies every record in a decrypted backup
// stream. Verification precedes persistence: the caller gets either
// the complete, verified batch or an error.
func decodeBackup(reader io.Reader) ([]credential.Credential, error) {
	var records []credential.Credential
	decoder := json.NewDecoder(reader)
	for {
		var cred credential.Credential
		if err := decoder.Decode(&cred); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decoding backup record %d: %w", len(records)+1, err)
		}
		if err := cred.Validate(); err != nil {
			return nil, fmt.Errorf("backup record %s: %w", cred.ID, err)
		}
		if err := cred.VerifyHash(); err != nil {
			return nil, fmt.Errorf("backup record %s: %w", cred.ID, err)
		}
		records = append(records, cred)
	}
	return records, nil
}
