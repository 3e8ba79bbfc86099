// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state owns the per-run coefficient storage of the field
// engine: the multivector field, its velocity companion, and the tracked
// allocator whose ledger proves that every run releases exactly what it
// reserved, on success and on every abort path.
package state

import (
	"fmt"
	"math/rand/v2"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
)

// FieldState holds the coefficient buffers for one run.
//
// # Description
//
//	Field and velocity are flat row-major buffers of Points*Comps
//	float64 values; site s owns the range [s*Comps, (s+1)*Comps).
//	A FieldState is exclusively owned by the run that allocated it and
//	must never be shared across concurrent runs.
//
// # Thread Safety
//
//	Not synchronized. The owning run sequences all access; kernel
//	workers only ever touch disjoint site ranges.
type FieldState struct {
	lat      lattice.Lattice
	comps    int
	prec     Precision
	alloc    Allocator
	field    []float64
	vel      []float64
	released bool
}

// Allocate reserves zeroed field and velocity buffers for the lattice.
//
// # Inputs
//
//   - alloc: the tracked allocator the run charges its buffers to.
//   - lat: the run's lattice geometry.
//   - comps: coefficients per site (the algebra's blade count).
//   - prec: the run's precision mode.
//
// # Outputs
//
//   - *FieldState: owning both buffers. Callers must Release it.
//   - error: a resource error; any buffer reserved before the failure
//     has already been returned to the allocator.
func Allocate(alloc Allocator, lat lattice.Lattice, comps int, prec Precision) (*FieldState, error) {
	if comps <= 0 {
		return nil, fmt.Errorf("%w: %d components per site", ErrAllocationFailed, comps)
	}
	n := lat.Points() * comps

	field, err := alloc.Alloc(n)
	if err != nil {
		return nil, fmt.Errorf("allocate field: %w", err)
	}
	vel, err := alloc.Alloc(n)
	if err != nil {
		alloc.Free(field)
		return nil, fmt.Errorf("allocate velocity: %w", err)
	}

	return &FieldState{
		lat:   lat,
		comps: comps,
		prec:  prec,
		alloc: alloc,
		field: field,
		vel:   vel,
	}, nil
}

// Release returns both buffers to the allocator. The first call
// releases; later calls are no-ops, so deferred and explicit release
// can coexist on error paths.
func (s *FieldState) Release() {
	if s.released {
		return
	}
	s.released = true
	s.alloc.Free(s.field)
	s.alloc.Free(s.vel)
	s.field = nil
	s.vel = nil
}

// Released reports whether Release has run.
func (s *FieldState) Released() bool { return s.released }

// Lattice returns the grid geometry the state was allocated for.
func (s *FieldState) Lattice() lattice.Lattice { return s.lat }

// Comps returns the coefficients per site.
func (s *FieldState) Comps() int { return s.comps }

// Precision returns the run's precision mode.
func (s *FieldState) Precision() Precision { return s.prec }

// Field returns the field coefficient buffer, or nil after Release.
func (s *FieldState) Field() []float64 { return s.field }

// Vel returns the velocity coefficient buffer, or nil after Release.
func (s *FieldState) Vel() []float64 { return s.vel }

// Zero clears both buffers in place.
func (s *FieldState) Zero() {
	for i := range s.field {
		s.field[i] = 0
	}
	for i := range s.vel {
		s.vel[i] = 0
	}
}

// Seed fills the field with uniform noise in [-amp, amp] from a PCG
// stream keyed by seed, and zeroes the velocity. The same seed always
// produces the same field, which is what makes reruns reproducible.
func (s *FieldState) Seed(seed uint64, amp float64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range s.field {
		s.field[i] = amp * (2*rng.Float64() - 1)
	}
	for i := range s.vel {
		s.vel[i] = 0
	}
}

// SetField copies src into the field buffer. src must have exactly
// Points*Comps elements.
func (s *FieldState) SetField(src []float64) error {
	if len(src) != len(s.field) {
		return fmt.Errorf("%w: initial field has %d elements, want %d",
			ErrAllocationFailed, len(src), len(s.field))
	}
	copy(s.field, src)
	return nil
}

// EstimateBytes returns the resident size a run of this shape is
// budgeted at: field plus velocity at the requested element width.
func EstimateBytes(lat lattice.Lattice, comps int, prec Precision) int64 {
	return 2 * int64(lat.Points()) * int64(comps) * int64(prec.ElementBytes())
}
