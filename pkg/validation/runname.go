// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database keys, file paths, or query filters. Using these validators
// prevents injection attacks (key-prefix collisions, path traversal) and
// keeps run identifiers portable across the store, the spool directory and
// time-series tags.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// runNamePattern matches valid run names.
// Allows: lowercase letters, digits, dots, underscores, hyphens
// Must start with a letter or digit. Max length: 64 characters.
// The character set excludes the ':' store-key delimiter and every path
// separator, so a validated name is safe to embed in badger keys, spool
// filenames and Flux tag filters without escaping.
var runNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// ValidateRunName validates a simulation run name.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Dots (.), underscores (_), hyphens (-) after the first character
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateRunName(name); err != nil {
//	    return nil, fmt.Errorf("invalid run name: %w", err)
//	}
//	// Safe to use as a store key component
func ValidateRunName(name string) error {
	if name == "" {
		return fmt.Errorf("run name cannot be empty")
	}

	if !runNamePattern.MatchString(name) {
		return fmt.Errorf("invalid run name: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", name)
	}

	return nil
}

// ValidateRunNames validates multiple run names.
// Returns an error listing all invalid names if any fail validation.
func ValidateRunNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateRunName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid run names: %v", invalid)
	}
	return nil
}

// SanitizeRunName normalizes and validates a run name.
// Returns the lowercase name if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeName, err := validation.SanitizeRunName(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeName is lowercase and validated
func SanitizeRunName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateRunName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
