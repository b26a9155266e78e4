// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
	"github.com/emblemhq/emblem/lib/sealed"
)

// keygenCommand returns the "keygen" subcommand.
func keygenCommand() *cli.Command {
	var outputPath string

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age keypair for backups",
		Description: `Generate an age x25519 keypair. The private key is written to the
output file with mode 0600; the public key goes to stdout so it can be
captured for 'emblem backup --recipient'.`,
		Usage: "emblem keygen --output <keyfile>",
		Examples: []cli.Example{
			{
				Description: "Generate a backup keypair and record the public key",
				Command:     "emblem keygen --output backup.key > backup.pub",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&outputPath, "output", "", "file to write the private key to (required)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if outputPath == "" {
				return fmt.Errorf("--output is required")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			// O_EXCL: never clobber an existing key file.
			file, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return fmt.Errorf("creating key file: %w", err)
			}
			if _, err := file.Write(keypair.PrivateKey.Bytes()); err != nil {
				file.Close()
				return fmt.Errorf("writing private key: %w", err)
			}
			if _, err := file.Write([]byte("\n")); err != nil {
				file.Close()
				return fmt.Errorf("writing private key: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("closing key file: %w", err)
			}

			fmt.Fprintf(os.Stderr, "private key written to %s\n", outputPath)
			fmt.Println(keypair.PublicKey)
			return nil
		},
	}
}
