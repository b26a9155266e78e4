// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
	"github.com/emblemhq/emblem/lib/sealed"
	"github.com/emblemhq/emblem/lib/store"
)

// backupCommand returns the "backup" subcommand.
func backupCommand() *cli.Command {
	var (
		storePath  string
		outputPath string
		recipients []string
	)

	return &cli.Command{
		Name:    "backup",
		Summary: "Export the credential store to an age-encrypted file",
		Description: `Export every credential in the store as an age-encrypted stream of
JSON records, one per line. The backup can be decrypted by any of the
given recipients; generate a recipient keypair with 'emblem keygen'.

Run this against the store file directly. The services keep the store
consistent between writes, so backing up a live issuer is safe.`,
		Usage: "emblem backup --output <file.age> --recipient <age1...> [flags]",
		Examples: []cli.Example{
			{
				Description: "Back up to a single recipient",
				Command:     "emblem backup --store emblem.db --output nightly.age --recipient age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("backup", pflag.ContinueOnError)
			flagSet.StringVar(&storePath, "store", "emblem.db", "SQLite store path")
			flagSet.StringVar(&outputPath, "output", "", "backup file to write (required)")
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age public key that can decrypt the backup (repeatable, required)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if outputPath == "" {
				return fmt.Errorf("--output is required")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			// Validate recipients before the output file is truncated:
			// a typo in a key must not destroy last night's backup.
			for _, recipient := range recipients {
				if err := sealed.ParsePublicKey(recipient); err != nil {
					return err
				}
			}

			db, err := store.Open(store.Config{Path: storePath, Logger: logger})
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.ListSince(ctx, "", 0)
			if err != nil {
				return err
			}

			outputFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("creating backup file: %w", err)
			}

			encryptor, err := sealed.Encrypt(outputFile, recipients)
			if err != nil {
				outputFile.Close()
				return err
			}

			encoder := json.NewEncoder(encryptor)
			for i := range records {
				if err := encoder.Encode(&records[i]); err != nil {
					encryptor.Close()
					outputFile.Close()
					return fmt.Errorf("encoding credential %s: %w", records[i].ID, err)
				}
			}

			// The age writer emits its final chunk and MAC on Close;
			// the file must close after it.
			if err := encryptor.Close(); err != nil {
				outputFile.Close()
				return fmt.Errorf("finalizing encryption: %w", err)
			}
			if err := outputFile.Close(); err != nil {
				return fmt.Errorf("closing backup file: %w", err)
			}

			fmt.Printf("wrote %d credentials to %s\n", len(records), outputPath)
			return nil
		},
	}
}
