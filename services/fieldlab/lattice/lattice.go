// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lattice provides the periodic D-dimensional grid geometry the
// field engine runs on: site indexing, stencil neighbors and the slab
// partitioning used by the tiled kernel.
//
// Sites are stored row-major with axis 0 slowest. An axis-0 "row" is the
// (D-1)-dimensional hyperplane of L^(D-1) sites sharing one axis-0
// coordinate; the tiled kernel assigns each worker a contiguous slab of
// rows plus a one-row halo per side.
package lattice

import "fmt"

const (
	// MaxDims bounds the grid dimensionality. Higher dimensions are
	// geometrically valid but exceed any practical memory budget once
	// multiplied by the 512-component field.
	MaxDims = 6

	// MinSide is the smallest side length with a meaningful two-sided
	// stencil.
	MinSide = 2

	// MaxSide bounds the side length.
	MaxSide = 1024

	// maxPoints caps total sites so coefficient counts fit int64 math.
	maxPoints = 1 << 40
)

// Lattice describes one periodic cubic grid. The zero value is invalid;
// construct with New. Lattice values are immutable and cheap to copy.
type Lattice struct {
	d, l     int
	points   int
	rowSites int
	strides  []int
}

// New validates and builds a D-dimensional lattice of side L.
//
// # Inputs
//
//   - d: dimensionality, 1..MaxDims.
//   - l: side length, MinSide..MaxSide. Shared by all axes of one run.
//
// # Outputs
//
//   - Lattice: the grid geometry.
//   - error: ErrInvalidDimensions or ErrInvalidSide on out-of-range
//     input, ErrTooManyPoints when L^D overflows the supported size.
func New(d, l int) (Lattice, error) {
	if d < 1 || d > MaxDims {
		return Lattice{}, fmt.Errorf("%w: d=%d (want 1..%d)", ErrInvalidDimensions, d, MaxDims)
	}
	if l < MinSide || l > MaxSide {
		return Lattice{}, fmt.Errorf("%w: l=%d (want %d..%d)", ErrInvalidSide, l, MinSide, MaxSide)
	}

	points := 1
	for i := 0; i < d; i++ {
		points *= l
		if points > maxPoints {
			return Lattice{}, fmt.Errorf("%w: %d^%d", ErrTooManyPoints, l, d)
		}
	}

	strides := make([]int, d)
	s := 1
	for axis := d - 1; axis >= 0; axis-- {
		strides[axis] = s
		s *= l
	}

	return Lattice{
		d:        d,
		l:        l,
		points:   points,
		rowSites: points / l,
		strides:  strides,
	}, nil
}

// D returns the dimensionality.
func (lat Lattice) D() int { return lat.d }

// L returns the side length.
func (lat Lattice) L() int { return lat.l }

// Points returns the total site count L^D.
func (lat Lattice) Points() int { return lat.points }

// RowSites returns the number of sites per axis-0 row, L^(D-1).
func (lat Lattice) RowSites() int { return lat.rowSites }

// Coord returns the coordinate of site along axis.
func (lat Lattice) Coord(site, axis int) int {
	return (site / lat.strides[axis]) % lat.l
}

// Coords decodes site into out, which must have length D.
func (lat Lattice) Coords(site int, out []int) {
	for axis := 0; axis < lat.d; axis++ {
		out[axis] = (site / lat.strides[axis]) % lat.l
	}
}

// Site encodes coordinates (length D, each in [0,L)) into a site index.
func (lat Lattice) Site(coords []int) int {
	site := 0
	for axis := 0; axis < lat.d; axis++ {
		site += coords[axis] * lat.strides[axis]
	}
	return site
}

// Neighbor returns the site one step along axis in direction dir (+1 or
// -1), wrapping periodically at the boundary.
func (lat Lattice) Neighbor(site, axis, dir int) int {
	stride := lat.strides[axis]
	c := (site / stride) % lat.l
	nc := c + dir
	if nc < 0 {
		nc += lat.l
	} else if nc >= lat.l {
		nc -= lat.l
	}
	return site + (nc-c)*stride
}

// Slab is a contiguous run of axis-0 rows [Lo, Hi) assigned to one
// kernel worker.
type Slab struct {
	Lo, Hi int
}

// Rows returns the number of rows in the slab.
func (s Slab) Rows() int { return s.Hi - s.Lo }

// Slabs partitions the axis-0 rows into at most n balanced contiguous
// slabs, in ascending row order. n is clamped to [1, L]. The fixed
// ordering is what makes slab-folded reductions deterministic.
func (lat Lattice) Slabs(n int) []Slab {
	if n < 1 {
		n = 1
	}
	if n > lat.l {
		n = lat.l
	}
	base := lat.l / n
	rem := lat.l % n

	slabs := make([]Slab, 0, n)
	lo := 0
	for i := 0; i < n; i++ {
		rows := base
		if i < rem {
			rows++
		}
		slabs = append(slabs, Slab{Lo: lo, Hi: lo + rows})
		lo += rows
	}
	return slabs
}
