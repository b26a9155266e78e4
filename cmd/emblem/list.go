// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
)

// listCommand returns the "list" subcommand.
func listCommand() *cli.Command {
	var (
		issuerURL  string
		since      string
		limit      int
		jsonOutput bool
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List issued credentials",
		Description: `List credentials from the issuer in issuance order. The --since
cursor takes an issuedAt timestamp from a previous record and returns
only what was issued strictly after it.`,
		Usage: "emblem list [flags]",
		Examples: []cli.Example{
			{
				Description: "List the 20 oldest records",
				Command:     "emblem list --limit 20",
			},
			{
				Description: "List everything issued after a known record",
				Command:     "emblem list --since 2026-03-14T09:26:53.000Z",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&issuerURL, "issuer", defaultIssuerURL, "issuer base URL")
			flagSet.StringVar(&since, "since", "", "return records issued after this issuedAt timestamp")
			flagSet.IntVar(&limit, "limit", 0, "maximum records to return (service default when 0)")
			flagSet.BoolVar(&jsonOutput, "json", false, "print records as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			client, err := newAPIClient(issuerURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			records, err := client.list(ctx, since, limit)
			if err != nil {
				return fmt.Errorf("listing credentials: %w", err)
			}

			if jsonOutput {
				return cli.WriteJSON(records)
			}

			if len(records) == 0 {
				fmt.Println("No credentials found.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tTYPE\tISSUED AT\tISSUED BY")
			for _, record := range records {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
					record.ID,
					record.Name,
					record.CredentialType,
					record.IssuedAt,
					record.IssuedBy,
				)
			}
			return writer.Flush()
		},
	}
}
