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

	"gonum.org/v1/gonum/stat"
)

// ContinuumFit is the infinite-volume extrapolation of a mass ladder,
// m(L) = Mass + Slope/L².
type ContinuumFit struct {
	// Mass is the extrapolated mass at 1/L² → 0.
	Mass float64 `json:"mass"`

	// Slope is the finite-size coefficient c in m(L) = Mass + c/L².
	Slope float64 `json:"slope"`

	// R2 is the coefficient of determination of the fit. Two points
	// always fit exactly, so R2 only carries information from three
	// scales up.
	R2 float64 `json:"r2"`

	// Points is how many scale results entered the fit.
	Points int `json:"points"`
}

// At returns the fitted mass at a given lattice side.
func (f ContinuumFit) At(side int) float64 {
	l := float64(side)
	return f.Mass + f.Slope/(l*l)
}

// FitContinuum extrapolates the leading mass candidate to infinite
// volume.
//
// # Description
//
//	Finite periodic volumes shift the measured mass by O(1/L²), so the
//	leading candidates of a sweep are regressed against x = 1/L² and the
//	intercept is the continuum estimate. Results without a positive
//	finite mass are skipped; at least two distinct sides must survive.
//
// # Outputs
//
//   - ContinuumFit: intercept, slope and fit quality.
//   - error: ErrFitUnderdetermined when fewer than two distinct sides
//     carry a usable mass.
func FitContinuum(results []ScaleResult) (ContinuumFit, error) {
	var xs, ys []float64
	seen := make(map[int]bool)
	distinct := 0
	for _, r := range results {
		if r.Side < 1 || r.Mass <= 0 || math.IsNaN(r.Mass) || math.IsInf(r.Mass, 0) {
			continue
		}
		l := float64(r.Side)
		xs = append(xs, 1/(l*l))
		ys = append(ys, r.Mass)
		if !seen[r.Side] {
			seen[r.Side] = true
			distinct++
		}
	}
	if distinct < 2 {
		return ContinuumFit{}, fmt.Errorf("%w: %d usable scales", ErrFitUnderdetermined, distinct)
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return ContinuumFit{
		Mass:   alpha,
		Slope:  beta,
		R2:     stat.RSquared(xs, ys, nil, alpha, beta),
		Points: len(xs),
	}, nil
}
