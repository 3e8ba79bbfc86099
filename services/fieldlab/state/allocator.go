// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"fmt"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is a point-in-time snapshot of an allocator's ledger.
//
// The pairing invariant every run must satisfy is Allocs == Frees once
// the run has returned, whatever its outcome.
type Stats struct {
	// Allocs counts successful Alloc calls.
	Allocs uint64

	// Frees counts Free calls for non-nil buffers.
	Frees uint64

	// LiveBytes is the currently tracked byte total.
	LiveBytes int64

	// PeakBytes is the high-water mark of LiveBytes.
	PeakBytes int64
}

// Allocator reserves and releases the coefficient buffers a run owns.
//
// # Description
//
//	Every buffer the engine touches during a run (field, velocity,
//	force, per-worker tiles) goes through one Allocator so the ledger
//	can prove allocate/release pairing for every outcome. Implementations
//	must keep Alloc and Free safe for concurrent use.
type Allocator interface {
	// Alloc reserves a zeroed buffer of n float64 elements.
	Alloc(n int) ([]float64, error)

	// Free returns a buffer to the allocator. Passing nil is a no-op.
	Free(buf []float64)

	// Stats returns the current ledger snapshot.
	Stats() Stats
}

// HostAllocator is the production Allocator backed by ordinary heap
// slices with an atomic ledger.
//
// # Thread Safety
//
//	Safe for concurrent use.
type HostAllocator struct {
	limitBytes        int64
	admissionFraction float64

	allocs atomic.Uint64
	frees  atomic.Uint64
	live   atomic.Int64
	peak   atomic.Int64
}

// HostOption configures a HostAllocator.
type HostOption func(*HostAllocator)

// WithMemoryLimit caps live tracked bytes. Zero means unlimited.
func WithMemoryLimit(bytes int64) HostOption {
	return func(a *HostAllocator) { a.limitBytes = bytes }
}

// WithAdmissionFraction enables a pre-allocation check against available
// system memory: an allocation is rejected when it alone would consume
// more than the given fraction of what the OS reports as available.
// Zero disables the check.
func WithAdmissionFraction(f float64) HostOption {
	return func(a *HostAllocator) { a.admissionFraction = f }
}

// NewHostAllocator builds a HostAllocator with the given options.
func NewHostAllocator(opts ...HostOption) *HostAllocator {
	a := &HostAllocator{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Alloc reserves a zeroed buffer of n elements, enforcing the memory
// limit and the admission check before touching the heap.
func (a *HostAllocator) Alloc(n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d elements", ErrAllocationFailed, n)
	}
	bytes := int64(n) * 8

	if a.limitBytes > 0 && a.live.Load()+bytes > a.limitBytes {
		return nil, fmt.Errorf("%w: %d live + %d requested > %d",
			ErrMemoryLimit, a.live.Load(), bytes, a.limitBytes)
	}
	if a.admissionFraction > 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			budget := int64(float64(vm.Available) * a.admissionFraction)
			if bytes > budget {
				return nil, fmt.Errorf("%w: need %d bytes, admission budget %d (available %d)",
					ErrInsufficientMemory, bytes, budget, vm.Available)
			}
		}
	}

	buf := make([]float64, n)
	a.allocs.Add(1)
	live := a.live.Add(bytes)
	for {
		peak := a.peak.Load()
		if live <= peak || a.peak.CompareAndSwap(peak, live) {
			break
		}
	}
	return buf, nil
}

// Free returns a buffer to the ledger. Nil buffers are ignored.
func (a *HostAllocator) Free(buf []float64) {
	if buf == nil {
		return
	}
	a.frees.Add(1)
	a.live.Add(-int64(len(buf)) * 8)
}

// Stats returns the current ledger snapshot.
func (a *HostAllocator) Stats() Stats {
	return Stats{
		Allocs:    a.allocs.Load(),
		Frees:     a.frees.Load(),
		LiveBytes: a.live.Load(),
		PeakBytes: a.peak.Load(),
	}
}

// FaultyAllocator wraps an Allocator and fails the Nth Alloc call.
// Stress tests use it to prove release pairing on every abort path.
type FaultyAllocator struct {
	inner  Allocator
	failAt uint64
	calls  atomic.Uint64
}

// NewFaultyAllocator fails the failAt-th Alloc (1-based). failAt of zero
// never fails.
func NewFaultyAllocator(inner Allocator, failAt uint64) *FaultyAllocator {
	return &FaultyAllocator{inner: inner, failAt: failAt}
}

// Alloc delegates to the wrapped allocator unless this call is the
// configured failure point.
func (f *FaultyAllocator) Alloc(n int) ([]float64, error) {
	call := f.calls.Add(1)
	if f.failAt != 0 && call == f.failAt {
		return nil, fmt.Errorf("%w: injected at call %d", ErrAllocationFailed, call)
	}
	return f.inner.Alloc(n)
}

// Free delegates to the wrapped allocator.
func (f *FaultyAllocator) Free(buf []float64) { f.inner.Free(buf) }

// Stats returns the wrapped allocator's ledger.
func (f *FaultyAllocator) Stats() Stats { return f.inner.Stats() }
