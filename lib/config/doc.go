// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Emblem
// services.
//
// Configuration is loaded from a single file specified by either the
// EMBLEM_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// ${VAR} and ${VAR:-default} patterns are expanded against the
// process environment before the file is parsed, so any value can be
// parameterized. No other environment variables override config
// values.
//
// Key exports:
//
//   - [Config] -- one flat struct shared by the issuer and verifier
//   - [Default] -- per-role defaults applied before the file loads
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends only on lib/cron (schedule validation).
package config
