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

// getCommand returns the "get" subcommand.
func getCommand() *cli.Command {
	var (
		issuerURL   string
		verifierURL string
		jsonOutput  bool
	)

	return &cli.Command{
		Name:    "get",
		Summary: "Fetch a credential record by ID",
		Description: `Fetch one credential record from the issuer, or from the verifier's
replica with --verifier. Comparing the two is a quick way to check
that sync has caught up for a given record.`,
		Usage: "emblem get [flags] <credential-id>",
		Examples: []cli.Example{
			{
				Description: "Fetch from the issuer",
				Command:     "emblem get 5c41a9f0be9e3ba4f25b1f0e7de2a7f41b5b8269b0b4de1ad1c8f0f85a3a2b51",
			},
			{
				Description: "Fetch the replica's copy",
				Command:     "emblem get --verifier http://localhost:8441 5c41a9f0be9e...",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			flagSet.StringVar(&issuerURL, "issuer", defaultIssuerURL, "issuer base URL")
			flagSet.StringVar(&verifierURL, "verifier", "", "verifier base URL; when set, read the replica instead of the issuer")
			flagSet.BoolVar(&jsonOutput, "json", false, "print the record as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: emblem get [flags] <credential-id>")
			}

			serviceURL := issuerURL
			if verifierURL != "" {
				serviceURL = verifierURL
			}
			client, err := newAPIClient(serviceURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			cred, err := client.get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("fetching credential: %w", err)
			}

			if jsonOutput {
				return cli.WriteJSON(cred)
			}
			printCredential(cred)
			return nil
		},
	}
}

// printCredential writes one record as aligned key/value lines.
func printCredential(cred *credential.Credential) {
	details, err := json.Marshal(cred.Details)
	if err != nil {
		details = []byte("<unencodable>")
	}
	fmt.Printf("id:         %s\n", cred.ID)
	fmt.Printf("name:       %s\n", cred.Name)
	fmt.Printf("type:       %s\n", cred.CredentialType)
	fmt.Printf("details:    %s\n", details)
	fmt.Printf("issued at:  %s\n", cred.IssuedAt)
	fmt.Printf("issued by:  %s\n", cred.IssuedBy)
	fmt.Printf("hash:       %s\n", cred.Hash)
}
