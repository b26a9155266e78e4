// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build information stamped into emblem
// binaries and formats it for --version output and for the User-Agent
// header the HTTP clients send.
//
// The package-level variables are injected with -ldflags -X, for
// example:
//
//	go build -ldflags "-X github.com/emblemhq/emblem/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without injection they keep their development defaults, which is
// what test binaries and `go run` see.
package version

import (
	"fmt"
	"runtime"
)

// Build information, injected at build time.
var (
	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"

	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the build had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Info returns the one-line version string: "0.1.0-dev (abc1234, ...)".
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go toolchain and platform, for the CLI's
// version subcommand.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes the standard --version line for a binary to stdout.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}

// UserAgent returns the value emblem's HTTP clients send in the
// User-Agent header, e.g. "emblem/0.1.0-dev (abc1234)".
func UserAgent() string {
	return fmt.Sprintf("emblem/%s (%s)", Version, GitCommit)
}
