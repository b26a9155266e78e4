// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"fmt"
	"strings"
)

const (
	// maxFieldLength bounds the name and credentialType fields.
	maxFieldLength = 256

	// maxDetailDepth bounds nesting in the details map. Deep nesting
	// is almost always a client bug, and the bound keeps recursive
	// validation and canonical encoding cheap.
	maxDetailDepth = 16
)

// validateContent enforces the content rules shared by issuance input
// and received records: bounded non-empty name and type, and a details
// map with at least one key, non-blank keys, and JSON value kinds.
func validateContent(name, credentialType string, details map[string]any) error {
	if err := validateField(name, "name"); err != nil {
		return err
	}
	if err := validateField(credentialType, "credentialType"); err != nil {
		return err
	}
	if len(details) == 0 {
		return fmt.Errorf("details must contain at least one key")
	}
	return validateDetailMap(details, "details", 1)
}

func validateField(value, label string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is empty", label)
	}
	if len(value) > maxFieldLength {
		return fmt.Errorf("%s is %d bytes, maximum is %d", label, len(value), maxFieldLength)
	}
	return nil
}

func validateDetailMap(m map[string]any, path string, depth int) error {
	if depth > maxDetailDepth {
		return fmt.Errorf("%s exceeds maximum nesting depth %d", path, maxDetailDepth)
	}
	for key, value := range m {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%s contains a blank key", path)
		}
		if err := validateDetailValue(value, path+"."+key, depth); err != nil {
			return err
		}
	}
	return nil
}

func validateDetailValue(value any, path string, depth int) error {
	switch v := value.(type) {
	case nil, string, bool, float64:
		return nil
	case []any:
		if depth+1 > maxDetailDepth {
			return fmt.Errorf("%s exceeds maximum nesting depth %d", path, maxDetailDepth)
		}
		for i, element := range v {
			if err := validateDetailValue(element, fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return validateDetailMap(v, path, depth+1)
	default:
		return fmt.Errorf("%s has unsupported type %T (allowed: string, bool, number, null, array, object)", path, value)
	}
}

// normalizeDetails returns a copy of details with every numeric value
// converted to float64, matching what encoding/json produces. Both
// services hash details after a JSON decode, so a Go caller passing an
// int must hash identically to the same value arriving over the wire.
func normalizeDetails(details map[string]any) (map[string]any, error) {
	normalized, err := normalizeValue(details, "details", 0)
	if err != nil {
		return nil, err
	}
	m, ok := normalized.(map[string]any)
	if !ok {
		// normalizeValue preserves the input's container type.
		return nil, fmt.Errorf("details: normalization produced %T", normalized)
	}
	return m, nil
}

func normalizeValue(value any, path string, depth int) (any, error) {
	if depth > maxDetailDepth {
		return nil, fmt.Errorf("%s exceeds maximum nesting depth %d", path, maxDetailDepth)
	}
	switch v := value.(type) {
	case nil, string, bool, float64:
		return v, nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case []any:
		out := make([]any, len(v))
		for i, element := range v {
			normalized, err := normalizeValue(element, fmt.Sprintf("%s[%d]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, element := range v {
			normalized, err := normalizeValue(element, path+"."+key, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s has unsupported type %T (allowed: string, bool, number, null, array, object)", path, value)
	}
}
