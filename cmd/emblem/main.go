// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Command emblem is the operator CLI for the emblem credential
// services. It talks to a running issuer and verifier over their
// public HTTP APIs, and works on the credential store directly for
// the offline tasks: encrypted backup, restore, and key generation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/emblemhq/emblem/cmd/emblem/cli"
	"github.com/emblemhq/emblem/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that report their outcome in their own output (like
		// verify on an invalid credential) return an ExitError with the
		// desired code. Don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCommand().Execute(ctx, os.Args[1:], cli.NewCommandLogger())
}

// rootCommand builds the complete emblem CLI command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "emblem",
		Description: `Emblem: tamper-evident credential issuance and verification.

Issue credentials against the issuer service, check presented records
against the verifier's replica, and manage encrypted backups of the
credential store.`,
		Subcommands: []*cli.Command{
			issueCommand(),
			getCommand(),
			listCommand(),
			verifyCommand(),
			backupCommand(),
			restoreCommand(),
			keygenCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("emblem %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Issue a service-account credential",
				Command:     "emblem issue --name deploy-bot --type service-account --detail env=production",
			},
			{
				Description: "Verify a presented credential record",
				Command:     "emblem verify --file credential.json",
			},
			{
				Description: "List recent issuance",
				Command:     "emblem list --since 2026-03-14T09:26:53.000Z",
			},
			{
				Description: "Back up the store to an encrypted file",
				Command:     "emblem backup --output nightly.age --recipient age1...",
			},
		},
	}
}
