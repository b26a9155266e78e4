// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "emblem.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultPerRole(t *testing.T) {
	if got, want := Default(RoleIssuer).Listen, ":8440"; got != want {
		t.Errorf("issuer default listen = %q, want %q", got, want)
	}
	if got, want := Default(RoleVerifier).Listen, ":8441"; got != want {
		t.Errorf("verifier default listen = %q, want %q", got, want)
	}
}

func TestDefaultValidates(t *testing.T) {
	for _, role := range []Role{RoleIssuer, RoleVerifier} {
		if err := Default(role).Validate(); err != nil {
			t.Errorf("Default(%s).Validate() = %v, want nil", role, err)
		}
	}
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "store: /var/lib/emblem/issuer.db\n")

	cfg, err := LoadFile(RoleIssuer, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got, want := cfg.Store, "/var/lib/emblem/issuer.db"; got != want {
		t.Errorf("Store = %q, want %q", got, want)
	}
	if got, want := cfg.Listen, ":8440"; got != want {
		t.Errorf("Listen = %q, want default %q", got, want)
	}
	if got, want := cfg.Workers, 1; got != want {
		t.Errorf("Workers = %d, want default %d", got, want)
	}
	if got, want := time.Duration(cfg.PushBaseDelay), 200*time.Millisecond; got != want {
		t.Errorf("PushBaseDelay = %v, want default %v", got, want)
	}
	if got, want := time.Duration(cfg.ShutdownGrace), 10*time.Second; got != want {
		t.Errorf("ShutdownGrace = %v, want default %v", got, want)
	}
}

func TestLoadFileParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
workers: 4
store: verifier.db
peer_url: "http://127.0.0.1:8440"
sync_secret_file: /etc/emblem/sync.secret
push_base_delay: 50ms
shutdown_grace: 3s
resync_schedule: "*/15 * * * *"
log_level: debug
`)

	cfg, err := LoadFile(RoleVerifier, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got, want := cfg.Listen, ":9000"; got != want {
		t.Errorf("Listen = %q, want %q", got, want)
	}
	if got, want := cfg.Workers, 4; got != want {
		t.Errorf("Workers = %d, want %d", got, want)
	}
	if got, want := cfg.PeerURL, "http://127.0.0.1:8440"; got != want {
		t.Errorf("PeerURL = %q, want %q", got, want)
	}
	if got, want := time.Duration(cfg.PushBaseDelay), 50*time.Millisecond; got != want {
		t.Errorf("PushBaseDelay = %v, want %v", got, want)
	}
	if got, want := time.Duration(cfg.ShutdownGrace), 3*time.Second; got != want {
		t.Errorf("ShutdownGrace = %v, want %v", got, want)
	}
	if got, want := cfg.ResyncSchedule, "*/15 * * * *"; got != want {
		t.Errorf("ResyncSchedule = %q, want %q", got, want)
	}
	if got, want := cfg.LogLevel, "debug"; got != want {
		t.Errorf("LogLevel = %q, want %q", got, want)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	t.Setenv("EMBLEM_TEST_STORE", "/data/issuer.db")

	path := writeConfig(t, `
store: ${EMBLEM_TEST_STORE}
peer_url: ${EMBLEM_TEST_PEER:-http://127.0.0.1:8441}
`)

	cfg, err := LoadFile(RoleIssuer, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got, want := cfg.Store, "/data/issuer.db"; got != want {
		t.Errorf("Store = %q, want env expansion %q", got, want)
	}
	if got, want := cfg.PeerURL, "http://127.0.0.1:8441"; got != want {
		t.Errorf("PeerURL = %q, want default expansion %q", got, want)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "push_base_delay: fast\n")

	_, err := LoadFile(RoleIssuer, path)
	if err == nil {
		t.Fatal("LoadFile with bad duration succeeded, want error")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v, want mention of invalid duration", err)
	}
}

func TestLoadRequiresEnv(t *testing.T) {
	t.Setenv("EMBLEM_CONFIG", "")

	if _, err := Load(RoleIssuer); err == nil {
		t.Error("Load without EMBLEM_CONFIG succeeded, want error")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Listen:         "",
		Workers:        0,
		Store:          "",
		PeerURL:        "not a url",
		ResyncSchedule: "bad",
		LogLevel:       "loud",
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate = nil, want error")
	}
	for _, want := range []string{
		"listen is required",
		"workers must be at least 1",
		"store is required",
		"peer_url",
		"push_base_delay must be positive",
		"shutdown_grace must be positive",
		"resync_schedule",
		"log_level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error missing %q in: %v", want, err)
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, test := range tests {
		cfg := &Config{LogLevel: test.level}
		if got := cfg.Level(); got != test.want {
			t.Errorf("Level(%q) = %v, want %v", test.level, got, test.want)
		}
	}
}
