// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import "errors"

var (
	// ErrNoScales is returned when a sweep is configured without
	// lattice sides.
	ErrNoScales = errors.New("no lattice scales")

	// ErrFitUnderdetermined is returned when fewer than two scales
	// carry a mass candidate, leaving the continuum extrapolation
	// without a slope.
	ErrFitUnderdetermined = errors.New("continuum fit underdetermined")

	// ErrTooFewMasses is returned when ratio scoring is asked to match
	// fewer than two mass candidates.
	ErrTooFewMasses = errors.New("too few mass candidates")

	// ErrEmptyReference is returned when the reference table has no
	// entries.
	ErrEmptyReference = errors.New("empty reference table")

	// ErrNoTrials is returned when a search is configured with a
	// non-positive trial budget.
	ErrNoTrials = errors.New("no trials requested")

	// ErrInvalidSpace is returned when a search interval is non-finite
	// or inverted.
	ErrInvalidSpace = errors.New("invalid search space")

	// ErrNoSampling is returned when a search is configured with
	// trajectory sampling disabled, which would leave every trial
	// without a spectrum.
	ErrNoSampling = errors.New("trajectory sampling disabled")
)
