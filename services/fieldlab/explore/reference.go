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

import (
	"fmt"
	"math"
	"sort"
)

// Reference is one entry of a physical mass table.
type Reference struct {
	// Name identifies the particle.
	Name string `json:"name"`

	// Mass is the measured mass in GeV.
	Mass float64 `json:"mass"`
}

// PDGReference returns the built-in comparison table, PDG world
// averages in GeV, lightest first.
//
// Lattice masses come out in lattice units with an unknown overall
// scale, so only ratios against this table are meaningful.
func PDGReference() []Reference {
	return []Reference{
		{Name: "electron", Mass: 0.00051099895},
		{Name: "muon", Mass: 0.1056583755},
		{Name: "pion", Mass: 0.13957039},
		{Name: "kaon", Mass: 0.493677},
		{Name: "eta", Mass: 0.547862},
		{Name: "rho", Mass: 0.77526},
		{Name: "proton", Mass: 0.93827208816},
		{Name: "tau", Mass: 1.77686},
	}
}

// ScoreRatios measures how well a candidate mass ladder matches the
// ratio structure of a reference table.
//
// # Description
//
//	The overall lattice scale is unknown, so both ladders are reduced to
//	ratios. Candidates are anchored to their lightest entry; for each
//	choice of reference anchor, every candidate ratio is matched to its
//	nearest reference ratio and the relative errors are averaged. The
//	returned score is the best anchor's average, so a ladder that
//	reproduces any contiguous slice of the reference spectrum scores
//	near zero. Lower is better.
//
// # Inputs
//
//   - masses: candidate masses in lattice units; non-positive and
//     non-finite entries are skipped, at least two must survive.
//   - refs: the reference table, typically PDGReference(). Entries
//     without a positive finite mass are skipped.
//
// # Outputs
//
//   - float64: mean relative ratio error of the best anchor alignment.
//   - error: ErrTooFewMasses or ErrEmptyReference.
func ScoreRatios(masses []float64, refs []Reference) (float64, error) {
	var ms []float64
	for _, m := range masses {
		if m > 0 && !math.IsInf(m, 0) && !math.IsNaN(m) {
			ms = append(ms, m)
		}
	}
	if len(ms) < 2 {
		return 0, fmt.Errorf("%w: %d usable of %d", ErrTooFewMasses, len(ms), len(masses))
	}
	var refMasses []float64
	for _, r := range refs {
		if r.Mass > 0 && !math.IsInf(r.Mass, 0) && !math.IsNaN(r.Mass) {
			refMasses = append(refMasses, r.Mass)
		}
	}
	if len(refMasses) == 0 {
		return 0, ErrEmptyReference
	}
	sort.Float64s(refMasses)

	sort.Float64s(ms)
	ratios := make([]float64, len(ms))
	for i, m := range ms {
		ratios[i] = m / ms[0]
	}

	best := math.Inf(1)
	for _, anchor := range refMasses {
		var sum float64
		for _, r := range ratios {
			sum += nearestRelErr(r, refMasses, anchor)
		}
		if score := sum / float64(len(ratios)); score < best {
			best = score
		}
	}
	return best, nil
}

// nearestRelErr returns the relative error between a candidate ratio
// and the closest reference ratio under the given anchor.
func nearestRelErr(ratio float64, refMasses []float64, anchor float64) float64 {
	best := math.Inf(1)
	for _, rm := range refMasses {
		ref := rm / anchor
		if err := math.Abs(ratio-ref) / ref; err < best {
			best = err
		}
	}
	return best
}
