// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
	"github.com/emblemhq/emblem/lib/credential"
)

// verifyCommand returns the "verify" subcommand.
func verifyCommand() *cli.Command {
	var (
		verifierURL string
		file        string
		jsonOutput  bool
	)

	return &cli.Command{
		Name:    "verify",
		Summary: "Verify a presented credential record",
		Description: `Submit a credential record to the verifier and report its judgment.

The record is the full JSON object as returned by issue or get. The
verifier checks the record's own hash, looks the ID up in its replica,
and compares the stored record against the presented one.

Exit code 0 means the credential is valid; an invalid credential
prints the reason and exits 1.`,
		Usage: "emblem verify --file <record.json> [flags]",
		Examples: []cli.Example{
			{
				Description: "Verify a record saved by 'emblem get --json'",
				Command:     "emblem verify --file credential.json",
			},
			{
				Description: "Verify a record from a pipe",
				Command:     "emblem get --json 5c41a9f0... | emblem verify --file -",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&verifierURL, "verifier", defaultVerifierURL, "verifier base URL")
			flagSet.StringVar(&file, "file", "", `JSON file holding the credential record ("-" reads stdin, required)`)
			flagSet.BoolVar(&jsonOutput, "json", false, "print the verification outcome as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			content, err := readInput(file)
			if err != nil {
				return fmt.Errorf("reading credential record: %w", err)
			}
			var cred credential.Credential
			if err := json.Unmarshal(content, &cred); err != nil {
				return fmt.Errorf("parsing credential record: %w", err)
			}

			client, err := newAPIClient(verifierURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			outcome, err := client.verify(ctx, &cred)
			if err != nil {
				return fmt.Errorf("verifying credential: %w", err)
			}

			if jsonOutput {
				if err := cli.WriteJSON(outcome); err != nil {
					return err
				}
			} else if outcome.Valid {
				fmt.Printf("credential %s is valid\n", cred.ID)
			} else {
				fmt.Printf("credential %s is INVALID: %s\n", cred.ID, outcome.Reason)
			}

			if !outcome.Valid {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
