// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lattice

import "errors"

// Sentinel errors for the lattice package.
var (
	// ErrInvalidDimensions is returned when D is outside 1..MaxDims.
	ErrInvalidDimensions = errors.New("invalid lattice dimensionality")

	// ErrInvalidSide is returned when L is outside MinSide..MaxSide.
	ErrInvalidSide = errors.New("invalid lattice side length")

	// ErrTooManyPoints is returned when L^D exceeds the supported size.
	ErrTooManyPoints = errors.New("lattice point count too large")
)
