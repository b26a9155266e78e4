// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree framework for the emblem
// operator CLI: command dispatch with typo suggestions, pflag-based
// flag parsing, structured help output, terminal-aware logging, and
// JSON output helpers.
package cli
