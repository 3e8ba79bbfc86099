// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package algebra builds the graded basis and geometric-product structure
// constants of a real Clifford algebra Cl(p,q).
//
// A basis blade is identified by a bitmask over the p+q generators: bit i
// set means generator e_i participates in the blade. The product of two
// basis blades is always a single signed blade whose index is the XOR of
// the operand masks, so the full product table reduces to one sign byte
// per blade pair. The field laboratory runs on Cl(1,8): 9 generators,
// 2^9 = 512 blades, metric e_0^2 = +1 and e_i^2 = -1 for i >= 1.
//
// A Model is immutable after New returns and is safe for unsynchronized
// concurrent reads; every simulation in the process shares one instance.
package algebra

import (
	"fmt"
	"math/bits"
	"sync"
)

// MaxGenerators bounds the supported signature size. The sign table holds
// 4^n bytes for n generators, so 12 generators (16 MiB) is the ceiling.
const MaxGenerators = 12

// Blade is one basis element of the algebra.
type Blade struct {
	// Index is the generator bitmask identifying the blade.
	Index uint16

	// Grade is the number of generators in the blade (popcount of Index).
	Grade int
}

// Model holds the blade basis and structure constants for one signature.
//
// # Description
//
//	Model is a pure function of the signature (p, q): p generators square
//	to +1, q generators square to -1. All tables are computed once by New
//	and never mutated afterwards.
//
// # Thread Safety
//
//	Immutable after construction. Safe for concurrent use without locking.
type Model struct {
	p, q   int
	dim    int // p + q generators
	count  int // 1 << dim blades
	metric []int8
	grades []uint8
	signs  []int8 // row-major [a*count+b]
}

// New builds the algebra model for signature (p, q).
//
// # Description
//
//	Computes the grade table and the full basis-product sign table for
//	Cl(p,q). Construction is deterministic: the same signature always
//	yields identical tables.
//
// # Inputs
//
//   - p: number of generators squaring to +1. Must be >= 0.
//   - q: number of generators squaring to -1. Must be >= 0.
//
// # Outputs
//
//   - *Model: the immutable algebra model.
//   - error: ErrInvalidSignature if p or q is negative or p+q is zero,
//     ErrUnsupportedDimension if p+q exceeds MaxGenerators.
//
// # Example
//
//	m, err := algebra.New(1, 8)
//	if err != nil {
//	    return err
//	}
//	k, sign := m.Product(0b011, 0b110)
func New(p, q int) (*Model, error) {
	if p < 0 || q < 0 || p+q == 0 {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrInvalidSignature, p, q)
	}
	if p+q > MaxGenerators {
		return nil, fmt.Errorf("%w: %d generators (max %d)", ErrUnsupportedDimension, p+q, MaxGenerators)
	}

	dim := p + q
	count := 1 << dim

	m := &Model{
		p:      p,
		q:      q,
		dim:    dim,
		count:  count,
		metric: make([]int8, dim),
		grades: make([]uint8, count),
		signs:  make([]int8, count*count),
	}

	for i := 0; i < dim; i++ {
		if i < p {
			m.metric[i] = 1
		} else {
			m.metric[i] = -1
		}
	}
	for b := 0; b < count; b++ {
		m.grades[b] = uint8(bits.OnesCount16(uint16(b)))
	}
	for a := 0; a < count; a++ {
		row := m.signs[a*count : (a+1)*count]
		for b := 0; b < count; b++ {
			row[b] = m.productSign(uint16(a), uint16(b))
		}
	}
	return m, nil
}

var (
	cl18Once  sync.Once
	cl18Model *Model
)

// Cl18 returns the shared Cl(1,8) model used by the field engine.
//
// The model is built on first use and cached for the process lifetime.
func Cl18() *Model {
	cl18Once.Do(func() {
		m, err := New(1, 8)
		if err != nil {
			// New cannot fail for the fixed (1,8) signature.
			panic(fmt.Sprintf("algebra: build Cl(1,8): %v", err))
		}
		cl18Model = m
	})
	return cl18Model
}

// Signature returns the (p, q) pair the model was built from.
func (m *Model) Signature() (p, q int) { return m.p, m.q }

// Dimension returns the number of generators (p + q).
func (m *Model) Dimension() int { return m.dim }

// BladeCount returns the number of basis blades, 2^(p+q).
func (m *Model) BladeCount() int { return m.count }

// Grade returns the grade of blade b.
func (m *Model) Grade(b uint16) int { return int(m.grades[b]) }

// Metric returns the square of generator i (+1 or -1).
func (m *Model) Metric(i int) int { return int(m.metric[i]) }

// Blades returns the full basis in index order.
func (m *Model) Blades() []Blade {
	out := make([]Blade, m.count)
	for b := 0; b < m.count; b++ {
		out[b] = Blade{Index: uint16(b), Grade: int(m.grades[b])}
	}
	return out
}

// Product returns the basis product e_a * e_b as (result blade, sign).
//
// The result index is a XOR b; the sign is +1 or -1 from generator
// reordering and metric contraction of the shared generators.
func (m *Model) Product(a, b uint16) (uint16, int8) {
	return a ^ b, m.signs[int(a)*m.count+int(b)]
}

// productSign computes the reordering and contraction sign for e_a * e_b.
//
// The reordering part counts generator pairs (x in a, y in b) with x > y;
// each costs one transposition when sorting the concatenated generator
// list into canonical ascending order. Shared generators then contract
// pairwise, each contributing its metric square.
func (m *Model) productSign(a, b uint16) int8 {
	swaps := 0
	for sh := a >> 1; sh != 0; sh >>= 1 {
		swaps += bits.OnesCount16(sh & b)
	}
	sign := int8(1)
	if swaps&1 == 1 {
		sign = -1
	}
	for common := a & b; common != 0; common &= common - 1 {
		sign *= m.metric[bits.TrailingZeros16(common)]
	}
	return sign
}

// MulInto computes the geometric product dst = x * y over the full basis.
//
// # Description
//
//	Accumulates dst[a^b] += sign(a,b) * x[a] * y[b] for every blade pair.
//	Zero coefficients of x are skipped, so products of sparse
//	multivectors cost proportionally less than the dense 2^(2n) bound.
//
// # Inputs
//
//   - dst: result coefficients, length BladeCount(). Overwritten.
//   - x, y: operand coefficients, length BladeCount(). Callers must not
//     alias dst with x or y.
//
// # Thread Safety
//
//	Safe for concurrent calls with distinct dst buffers.
func (m *Model) MulInto(dst, x, y []float64) {
	for i := range dst {
		dst[i] = 0
	}
	count := m.count
	for a := 0; a < count; a++ {
		xa := x[a]
		if xa == 0 {
			continue
		}
		row := m.signs[a*count : (a+1)*count]
		for b := 0; b < count; b++ {
			yb := y[b]
			if yb == 0 {
				continue
			}
			dst[a^b] += float64(row[b]) * xa * yb
		}
	}
}

// ScalarPart returns the grade-0 coefficient of x.
func (m *Model) ScalarPart(x []float64) float64 { return x[0] }
