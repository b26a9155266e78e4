// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
)

// issueCommand returns the "issue" subcommand.
func issueCommand() *cli.Command {
	var (
		issuerURL      string
		name           string
		credentialType string
		detailPairs    []string
		detailsFile    string
		jsonOutput     bool
	)

	return &cli.Command{
		Name:    "issue",
		Summary: "Issue a new credential",
		Description: `Issue a credential through the issuer service.

Details come from --detail key=value pairs, a details file, or both.
Pair values are parsed as JSON so numbers, booleans, and nested
structures survive; anything that does not parse stays a plain string.
The details file is JSONC: comments and trailing commas are allowed.
When a pair and the file set the same key, the pair wins.`,
		Usage: "emblem issue --name <name> --type <type> [flags]",
		Examples: []cli.Example{
			{
				Description: "Issue with inline details",
				Command:     "emblem issue --name deploy-bot --type service-account --detail env=production --detail quota=42",
			},
			{
				Description: "Issue with a details file, overriding one key",
				Command:     "emblem issue --name deploy-bot --type service-account --details-file details.jsonc --detail env=staging",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("issue", pflag.ContinueOnError)
			flagSet.StringVar(&issuerURL, "issuer", defaultIssuerURL, "issuer base URL")
			flagSet.StringVar(&name, "name", "", "subject the credential is issued to (required)")
			flagSet.StringVar(&credentialType, "type", "", "credential type, e.g. service-account (required)")
			flagSet.StringArrayVar(&detailPairs, "detail", nil, "detail as key=value (repeatable)")
			flagSet.StringVar(&detailsFile, "details-file", "", `JSONC file holding the details object ("-" reads stdin)`)
			flagSet.BoolVar(&jsonOutput, "json", false, "print the issued record as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if credentialType == "" {
				return fmt.Errorf("--type is required")
			}

			details, err := buildDetails(detailsFile, detailPairs)
			if err != nil {
				return err
			}
			if len(details) == 0 {
				return fmt.Errorf("at least one detail is required (--detail or --details-file)")
			}

			client, err := newAPIClient(issuerURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			cred, err := client.issue(ctx, name, credentialType, details)
			if err != nil {
				return fmt.Errorf("issuing credential: %w", err)
			}

			if jsonOutput {
				return cli.WriteJSON(cred)
			}
			printCredential(cred)
			return nil
		},
	}
}

// buildDetails merges the details file (when given) with --detail
// pairs. Pairs override file keys.
func buildDetails(detailsFile string, pairs []string) (map[string]any, error) {
	details := make(map[string]any)

	if detailsFile != "" {
		content, err := readInput(detailsFile)
		if err != nil {
			return nil, fmt.Errorf("reading details file: %w", err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(content), &details); err != nil {
			return nil, fmt.Errorf("parsing details file %s: %w", detailsFile, err)
		}
	}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --detail %q: want key=value", pair)
		}
		details[key] = parseDetailValue(value)
	}

	return details, nil
}

// parseDetailValue interprets a pair value as JSON, falling back to
// the literal string. "42" becomes a number and "true" a boolean; to
// force the string form, quote it: --detail 'build="42"'.
func parseDetailValue(value string) any {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		return parsed
	}
	return value
}

// readInput reads a file, or stdin when the path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
