// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestBuildDetailsPairs(t *testing.T) {
	details, err := buildDetails("", []string{
		"env=production",
		"quota=42",
		"pinned=true",
		`owner={"team":"infra"}`,
		"version=1.2.3",
	})
	if err != nil {
		t.Fatalf("buildDetails: %v", err)
	}

	want := map[string]any{
		"env":     "production",
		"quota":   float64(42),
		"pinned":  true,
		"owner":   map[string]any{"team": "infra"},
		"version": "1.2.3",
	}
	if !reflect.DeepEqual(details, want) {
		t.Errorf("details = %#v, want %#v", details, want)
	}
}

func TestBuildDetailsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "details.jsonc")
	content := `{
	// environment this credential is scoped to
	"env": "production",
	"quota": 42, // requests per minute
	"features": ["push", "pull"],
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing details file: %v", err)
	}

	details, err := buildDetails(path, nil)
	if err != nil {
		t.Fatalf("buildDetails: %v", err)
	}

	want := map[string]any{
		"env":      "production",
		"quota":    float64(42),
		"features": []any{"push", "pull"},
	}
	if !reflect.DeepEqual(details, want) {
		t.Errorf("details = %#v, want %#v", details, want)
	}
}

func TestBuildDetailsPairsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "details.jsonc")
	if err := os.WriteFile(path, []byte(`{"env": "production", "region": "eu"}`), 0o644); err != nil {
		t.Fatalf("writing details file: %v", err)
	}

	details, err := buildDetails(path, []string{"env=staging"})
	if err != nil {
		t.Fatalf("buildDetails: %v", err)
	}

	if details["env"] != "staging" {
		t.Errorf("env = %v, want pair to override file", details["env"])
	}
	if details["region"] != "eu" {
		t.Errorf("region = %v, want file key to survive", details["region"])
	}
}

func TestBuildDetailsRejectsBadPair(t *testing.T) {
	for _, pair := range []string{"noequals", "=value"} {
		if _, err := buildDetails("", []string{pair}); err == nil {
			t.Errorf("buildDetails(%q) = nil, want error", pair)
		}
	}
}

func TestBuildDetailsRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "details.jsonc")
	if err := os.WriteFile(path, []byte(`{"env"`), 0o644); err != nil {
		t.Fatalf("writing details file: %v", err)
	}
	if _, err := buildDetails(path, nil); err == nil {
		t.Error("buildDetails accepted a truncated file")
	}

	if _, err := buildDetails(filepath.Join(t.TempDir(), "missing.jsonc"), nil); err == nil {
		t.Error("buildDetails accepted a missing file")
	}
}
