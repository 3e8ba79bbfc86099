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

import "math"

// Verdict is the stability classification of a field-norm observation.
type Verdict int

const (
	// VerdictStable means the run may continue.
	VerdictStable Verdict = iota

	// VerdictDiverged means the norm crossed the divergence ceiling or
	// stopped being finite.
	VerdictDiverged

	// VerdictCollapsed means the norm fell below the collapse floor into
	// a degenerate trivial solution.
	VerdictCollapsed
)

// String returns the human-readable name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictStable:
		return "stable"
	case VerdictDiverged:
		return "diverged"
	case VerdictCollapsed:
		return "collapsed"
	default:
		return "unknown"
	}
}

// StabilityMonitor watches the global field-norm trajectory of a run and
// decides when to terminate it early.
//
// # Description
//
//	The monitor is the sole early-termination authority of the run loops.
//	Its purpose is to stop burning compute on runs that cannot contribute
//	a usable result: a norm above Ceiling means the explicit scheme has
//	blown up, a norm below Floor means the field has decayed into the
//	trivial solution. Checks run every CheckEvery iterations so the cost
//	of the verdict amortizes over many kernel passes.
//
//	A non-finite norm is always classified as divergence: NaN and Inf
//	propagate through subsequent passes, so the first check that sees one
//	ends the run.
//
// # Thread Safety
//
//	The monitor is an immutable value; safe to copy and share.
type StabilityMonitor struct {
	// Ceiling is the divergence threshold on the global field norm.
	// Values at or below zero disable the ceiling.
	Ceiling float64

	// Floor is the collapse threshold on the global field norm.
	// Values at or below zero disable the floor.
	Floor float64

	// CheckEvery is the check cadence in iterations. Values below one
	// are treated as one (check every iteration).
	CheckEvery int
}

// Interval returns the effective check cadence, never less than one.
func (m StabilityMonitor) Interval() int {
	if m.CheckEvery < 1 {
		return 1
	}
	return m.CheckEvery
}

// Due reports whether a check is scheduled at the given iteration.
// Iterations are counted from one.
func (m StabilityMonitor) Due(iter int) bool {
	return iter%m.Interval() == 0
}

// Check classifies the norm observed after the given iteration.
//
// # Description
//
//	Returns VerdictStable without inspecting the norm when no check is
//	due at iter, so a trajectory crossing a threshold between checks is
//	flagged at the first scheduled check afterwards, not earlier.
//
// # Inputs
//
//	iter - Completed iteration count, starting at one.
//	norm - Global field norm after that iteration.
//
// # Outputs
//
//	Verdict - VerdictStable, VerdictDiverged, or VerdictCollapsed.
func (m StabilityMonitor) Check(iter int, norm float64) Verdict {
	if !m.Due(iter) {
		return VerdictStable
	}
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return VerdictDiverged
	}
	if m.Ceiling > 0 && norm > m.Ceiling {
		return VerdictDiverged
	}
	if m.Floor > 0 && norm < m.Floor {
		return VerdictCollapsed
	}
	return VerdictStable
}
