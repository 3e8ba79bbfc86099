// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
)

// NaiveForces is the sequential reference force pass. Every stencil read
// goes straight to the global field buffer; no tiles, no workers. It
// exists to pin the tiled kernel's numerics in tests and is not used on
// any production path.
func NaiveForces(m *algebra.Model, lat lattice.Lattice, dst, field, vel []float64, cpl Coupling) float64 {
	comps := m.BladeCount()
	d := lat.D()
	pp := make([]float64, comps)
	ppp := make([]float64, comps)

	var nbs [2 * lattice.MaxDims][]float64
	maxForce := 0.0

	for site := 0; site < lat.Points(); site++ {
		gOff := site * comps
		center := field[gOff : gOff+comps]

		for axis := 0; axis < d; axis++ {
			plus := lat.Neighbor(site, axis, 1) * comps
			minus := lat.Neighbor(site, axis, -1) * comps
			nbs[2*axis] = field[plus : plus+comps]
			nbs[2*axis+1] = field[minus : minus+comps]
		}

		f := fusedSiteForce(m, dst[gOff:gOff+comps], center,
			nbs[:2*d], vel[gOff:gOff+comps], cpl, pp, ppp)
		if f > maxForce {
			maxForce = f
		}
	}
	return maxForce
}

// NaiveIntegrate is the sequential reference for the update pass.
func NaiveIntegrate(field, vel, force []float64, dt float64) float64 {
	normSq := 0.0
	for j := range field {
		vel[j] += dt * force[j]
		field[j] += dt * vel[j]
		normSq += field[j] * field[j]
	}
	return normSq
}
