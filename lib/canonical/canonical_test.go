// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"bytes"
	"testing"
)

var (
	testKeyA = DomainKey{'t', 'e', 's', 't', '.', 'a'}
	testKeyB = DomainKey{'t', 'e', 's', 't', '.', 'b'}
)

func TestMarshalIsDeterministic(t *testing.T) {
	// Two logically equal maps built in different insertion orders
	// must encode to identical bytes.
	first := map[string]any{}
	first["zone"] = "eu-1"
	first["attempts"] = float64(3)
	first["nested"] = map[string]any{"b": true, "a": nil}

	second := map[string]any{}
	second["nested"] = map[string]any{"a": nil, "b": true}
	second["attempts"] = float64(3)
	second["zone"] = "eu-1"

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first): %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second): %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Fatalf("equal maps encoded differently:\n  first  = %x\n  second = %x", firstBytes, secondBytes)
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestMarshalRoundTripsJSONShapedValues(t *testing.T) {
	// Values that arrive via encoding/json (numbers as float64) must
	// survive an encode/decode cycle unchanged, since stored detail
	// maps are re-encoded when hashes are recomputed.
	original := map[string]any{
		"count":   float64(2),
		"ratio":   1.5,
		"enabled": true,
		"label":   "primary",
		"tags":    []any{"a", "b"},
		"none":    nil,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	reencoded, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal(decoded): %v", err)
	}
	if !bytes.Equal(data, reencoded) {
		t.Fatalf("round trip changed encoding:\n  original  = %x\n  reencoded = %x", data, reencoded)
	}
}

func TestDigestEqualForEqualValues(t *testing.T) {
	first, err := Digest(testKeyA, map[string]any{"x": "1", "y": "2"})
	if err != nil {
		t.Fatalf("Digest(first): %v", err)
	}
	second, err := Digest(testKeyA, map[string]any{"y": "2", "x": "1"})
	if err != nil {
		t.Fatalf("Digest(second): %v", err)
	}
	if first != second {
		t.Fatalf("digests differ for equal values: %s vs %s", FormatHash(first), FormatHash(second))
	}
}

func TestDigestDomainSeparation(t *testing.T) {
	value := map[string]any{"x": "1"}
	inA, err := Digest(testKeyA, value)
	if err != nil {
		t.Fatalf("Digest(keyA): %v", err)
	}
	inB, err := Digest(testKeyB, value)
	if err != nil {
		t.Fatalf("Digest(keyB): %v", err)
	}
	if inA == inB {
		t.Fatalf("same digest across domains: %s", FormatHash(inA))
	}
}

func TestDigestSensitiveToValueChanges(t *testing.T) {
	base, err := Digest(testKeyA, map[string]any{"x": "1"})
	if err != nil {
		t.Fatalf("Digest(base): %v", err)
	}
	mutated, err := Digest(testKeyA, map[string]any{"x": "2"})
	if err != nil {
		t.Fatalf("Digest(mutated): %v", err)
	}
	if base == mutated {
		t.Fatal("digest unchanged after value mutation")
	}
}

func TestFormatParseHashRoundTrip(t *testing.T) {
	hash := Sum(testKeyA, []byte("payload"))
	formatted := FormatHash(hash)
	if len(formatted) != 64 {
		t.Fatalf("FormatHash length = %d, want 64", len(formatted))
	}
	parsed, err := ParseHash(formatted)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != hash {
		t.Fatalf("ParseHash(FormatHash(h)) = %s, want %s", FormatHash(parsed), formatted)
	}
}

func TestParseHashRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not hex", "zz"},
		{"too short", "abcd"},
		{"too long", FormatHash(Hash{}) + "00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseHash(tc.input); err == nil {
				t.Fatalf("ParseHash(%q) succeeded, want error", tc.input)
			}
		})
	}
}
