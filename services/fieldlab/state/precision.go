// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import "fmt"

// Precision selects the element width a run is accounted and sampled at.
//
// Arithmetic always runs in float64, the native width of the Go numeric
// stack. Float32 narrows trajectory-sample storage and capacity
// estimates, which is where the width actually matters on the host.
type Precision int

const (
	// Float64 stores samples at full width.
	Float64 Precision = iota

	// Float32 stores samples at half width.
	Float32
)

// String returns the config-file spelling of the precision.
func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	default:
		return "float64"
	}
}

// ElementBytes returns the per-element width in bytes.
func (p Precision) ElementBytes() int {
	if p == Float32 {
		return 4
	}
	return 8
}

// ParsePrecision parses the config-file spelling of a precision mode.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "float64", "":
		return Float64, nil
	case "float32":
		return Float32, nil
	default:
		return Float64, fmt.Errorf("%w: %q", ErrInvalidPrecision, s)
	}
}
