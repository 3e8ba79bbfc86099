// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel evaluates the fused force law of the field engine: for
// every lattice site, discrete Laplacian, self-interaction potential and
// velocity damping are combined in a single pass and only the final
// force is written back to the global buffer.
//
// The tiled kernel partitions the lattice into axis-0 slabs. Each worker
// copies its slab plus a one-row periodic halo into a tile buffer it
// owns and serves every stencil read from that tile; only the two halo
// rows cost global reads, amortized over the slab interior. Axis-0
// neighbors live in adjacent tile rows, higher-axis neighbors stay
// inside the slab because a slab spans those axes fully. A sequential
// untiled reference in naive.go computes the identical arithmetic for
// equivalence testing.
//
// Reductions (max force, field norm) are folded in fixed slab order so
// a run's numbers do not depend on goroutine scheduling.
package kernel

import (
	"fmt"
	"math"
	"sync"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/state"
)

// Coupling carries the force-law constants for one pass.
type Coupling struct {
	// LambdaD scales the cubic self-interaction (PhiPhi)Phi.
	LambdaD float64

	// LambdaPG0 scales the grade-0 coupling <PhiPhi>_0 * Phi.
	LambdaPG0 float64

	// Damping scales the velocity drag term.
	Damping float64
}

// Kernel owns the per-slab tile and scratch buffers for one run.
//
// # Thread Safety
//
//	Forces and Integrate spawn their own workers internally but must
//	not be called concurrently with each other on the same Kernel; the
//	driving run loop sequences passes strictly.
type Kernel struct {
	model *algebra.Model
	lat   lattice.Lattice
	alloc state.Allocator
	comps int

	slabs    []lattice.Slab
	tiles    [][]float64 // per-slab: (rows+2) halo-padded rows
	scratch  [][]float64 // per-slab: 2*comps for the two product stages
	partials []float64   // per-slab reduction results, folded in order

	released bool
}

// New builds a tiled kernel for the lattice, reserving per-slab tile and
// scratch buffers through the run's allocator.
//
// # Inputs
//
//   - model: the algebra supplying structure constants. Sites carry
//     model.BladeCount() coefficients.
//   - lat: the run's lattice.
//   - alloc: the run's tracked allocator.
//   - workers: upper bound on concurrent slab workers; clamped to [1, L].
//
// # Outputs
//
//   - *Kernel: ready for Forces/Integrate passes. Callers must Release.
//   - error: a resource error; buffers reserved before the failure have
//     been returned to the allocator.
func New(model *algebra.Model, lat lattice.Lattice, alloc state.Allocator, workers int) (*Kernel, error) {
	comps := model.BladeCount()
	slabs := lat.Slabs(workers)

	k := &Kernel{
		model:    model,
		lat:      lat,
		alloc:    alloc,
		comps:    comps,
		slabs:    slabs,
		tiles:    make([][]float64, len(slabs)),
		scratch:  make([][]float64, len(slabs)),
		partials: make([]float64, len(slabs)),
	}

	rowLen := lat.RowSites() * comps
	for i, s := range slabs {
		tile, err := alloc.Alloc((s.Rows() + 2) * rowLen)
		if err != nil {
			k.Release()
			return nil, fmt.Errorf("allocate tile %d: %w", i, err)
		}
		k.tiles[i] = tile

		scratch, err := alloc.Alloc(2 * comps)
		if err != nil {
			k.Release()
			return nil, fmt.Errorf("allocate scratch %d: %w", i, err)
		}
		k.scratch[i] = scratch
	}
	return k, nil
}

// Release returns all tile and scratch buffers. Safe to call twice.
func (k *Kernel) Release() {
	if k.released {
		return
	}
	k.released = true
	for i := range k.tiles {
		k.alloc.Free(k.tiles[i])
		k.tiles[i] = nil
	}
	for i := range k.scratch {
		k.alloc.Free(k.scratch[i])
		k.scratch[i] = nil
	}
}

// Workers returns the number of slab workers a pass uses.
func (k *Kernel) Workers() int { return len(k.slabs) }

// Forces runs one fused force pass: dst receives the combined Laplacian,
// potential and damping force for every site. Returns the maximum
// per-component force magnitude, the relaxation residual.
func (k *Kernel) Forces(dst, field, vel []float64, cpl Coupling) float64 {
	var wg sync.WaitGroup
	for i := range k.slabs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k.partials[i] = k.slabForces(i, dst, field, vel, cpl)
		}(i)
	}
	wg.Wait()

	maxForce := 0.0
	for _, p := range k.partials {
		if p > maxForce {
			maxForce = p
		}
	}
	return maxForce
}

// slabForces fills the slab's tile and computes forces for its interior.
func (k *Kernel) slabForces(slab int, dst, field, vel []float64, cpl Coupling) float64 {
	s := k.slabs[slab]
	tile := k.tiles[slab]
	comps := k.comps
	lat := k.lat
	rowSites := lat.RowSites()
	rowLen := rowSites * comps
	l := lat.L()
	d := lat.D()

	// Cooperative load: slab rows plus one periodic halo row per side.
	for t := 0; t < s.Rows()+2; t++ {
		globalRow := ((s.Lo-1+t)%l + l) % l
		copy(tile[t*rowLen:(t+1)*rowLen], field[globalRow*rowLen:(globalRow+1)*rowLen])
	}

	pp := k.scratch[slab][:comps]
	ppp := k.scratch[slab][comps:]

	var nbs [2 * lattice.MaxDims][]float64
	maxForce := 0.0

	for row := s.Lo; row < s.Hi; row++ {
		trow := row - s.Lo + 1
		for r := 0; r < rowSites; r++ {
			site := row*rowSites + r
			gOff := site * comps
			tOff := (trow*rowSites + r) * comps

			center := tile[tOff : tOff+comps]

			// Axis 0 stencil reads come from the adjacent tile rows.
			nbs[0] = tile[((trow+1)*rowSites+r)*comps:][:comps]
			nbs[1] = tile[((trow-1)*rowSites+r)*comps:][:comps]
			// Higher axes wrap inside the slab's own rows.
			for axis := 1; axis < d; axis++ {
				rPlus := lat.Neighbor(site, axis, 1) - row*rowSites
				rMinus := lat.Neighbor(site, axis, -1) - row*rowSites
				nbs[2*axis] = tile[(trow*rowSites+rPlus)*comps:][:comps]
				nbs[2*axis+1] = tile[(trow*rowSites+rMinus)*comps:][:comps]
			}

			f := fusedSiteForce(k.model, dst[gOff:gOff+comps], center,
				nbs[:2*d], vel[gOff:gOff+comps], cpl, pp, ppp)
			if f > maxForce {
				maxForce = f
			}
		}
	}
	return maxForce
}

// Integrate advances velocity then field by one explicit step and
// returns the squared L2 norm of the updated field. Slab partials are
// folded in slab order, keeping the norm bit-reproducible.
func (k *Kernel) Integrate(field, vel, force []float64, dt float64) float64 {
	comps := k.comps
	rowLen := k.lat.RowSites() * comps

	var wg sync.WaitGroup
	for i := range k.slabs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := k.slabs[i]
			lo, hi := s.Lo*rowLen, s.Hi*rowLen
			normSq := 0.0
			for j := lo; j < hi; j++ {
				vel[j] += dt * force[j]
				field[j] += dt * vel[j]
				normSq += field[j] * field[j]
			}
			k.partials[i] = normSq
		}(i)
	}
	wg.Wait()

	normSq := 0.0
	for _, p := range k.partials {
		normSq += p
	}
	return normSq
}

// fusedSiteForce combines the three force terms for one site. Both the
// tiled and the naive kernel call this helper, so their per-site
// arithmetic sequence is identical and equivalence is exact.
//
// nbs holds the stencil neighbors as (plus, minus) pairs in axis order.
// pp and ppp are comps-sized scratch for the two product stages.
func fusedSiteForce(m *algebra.Model, f, center []float64, nbs [][]float64, vel []float64, cpl Coupling, pp, ppp []float64) float64 {
	d := len(nbs) / 2

	lapCenter := -2 * float64(d)
	for c := range f {
		f[c] = lapCenter * center[c]
	}
	for a := 0; a < len(nbs); a += 2 {
		plus, minus := nbs[a], nbs[a+1]
		for c := range f {
			f[c] += plus[c] + minus[c]
		}
	}

	if cpl.LambdaD != 0 || cpl.LambdaPG0 != 0 {
		m.MulInto(pp, center, center)
		m.MulInto(ppp, pp, center)
		s0 := pp[0]
		for c := range f {
			f[c] -= cpl.LambdaD*ppp[c] + cpl.LambdaPG0*s0*center[c]
		}
	}

	if cpl.Damping != 0 {
		for c := range f {
			f[c] -= cpl.Damping * vel[c]
		}
	}

	maxAbs := 0.0
	for c := range f {
		if a := math.Abs(f[c]); a > maxAbs {
			maxAbs = a
		}
	}
	return maxAbs
}
