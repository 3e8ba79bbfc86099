// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load parses a run spec document from r, layered over Defaults.
//
// # Description
//
//	Keys absent from the document keep their default values; keys
//	written explicitly override them, including explicit zeros. Unknown
//	keys are rejected so a misspelled parameter cannot silently fall
//	back to its default. An empty document yields Defaults unchanged.
//
//	A document that lists lattice.scales without mentioning lattice.l
//	drops the default side, so sweep specs do not have to write "l: 0"
//	to satisfy the exclusivity rule.
//
// # Outputs
//
//   - RunSpec: the validated spec.
//   - error: a parse error, or a validation error wrapping
//     ErrInvalidSpec.
func Load(r io.Reader) (RunSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return RunSpec{}, fmt.Errorf("read run spec: %w", err)
	}

	spec := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return RunSpec{}, fmt.Errorf("parse run spec: %w", err)
	}

	// The probe sees which lattice keys the document actually wrote;
	// layering alone cannot tell an explicit side from the default one.
	var probe struct {
		Lattice struct {
			L      *int  `yaml:"l"`
			Scales []int `yaml:"scales"`
		} `yaml:"lattice"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil {
		if probe.Lattice.L == nil && len(probe.Lattice.Scales) > 0 {
			spec.Lattice.L = 0
		}
	}

	if err := spec.Validate(); err != nil {
		return RunSpec{}, err
	}
	return spec, nil
}

// LoadFile reads and parses a run spec file.
func LoadFile(path string) (RunSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunSpec{}, fmt.Errorf("open run spec: %w", err)
	}
	defer f.Close()

	spec, err := Load(f)
	if err != nil {
		return RunSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// WriteDefault writes the default run spec as YAML to path, creating
// parent directories as needed. Used for first-run scaffolding.
func WriteDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create spec directory: %w", err)
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
