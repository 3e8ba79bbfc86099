// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import "errors"

// Sentinel errors for the engine package.
//
// Parameter and size errors are configuration errors: they are raised
// before any buffer is reserved, so a failed call leaves no state behind.
var (
	// ErrNilModel is returned when an Engine is constructed without an
	// algebra model.
	ErrNilModel = errors.New("algebra model must not be nil")

	// ErrInvalidParams is returned when run parameters fail validation.
	ErrInvalidParams = errors.New("invalid run parameters")

	// ErrFieldSize is returned when a caller-supplied initial field does
	// not match the lattice and blade count.
	ErrFieldSize = errors.New("initial field size mismatch")

	// ErrUnknownSampleMode is returned when a sample mode string cannot
	// be parsed.
	ErrUnknownSampleMode = errors.New("unknown sample mode")
)
