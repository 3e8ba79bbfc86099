// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides user experience components for the clifford CLI.
//
// This file contains progress renderers that display run progress to
// various outputs (terminal, buffer, etc.).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not run simulations or manage
//	subscriptions. Each method handles exactly one event kind, so the
//	same renderer serves local runs and remote streams.
//
// Renderer Types:
//
//   - TerminalProgressRenderer: in-place redraw with bar and norm
//   - MachineProgressRenderer: machine-readable KEY: value lines
//   - BufferProgressRenderer: in-memory buffer for testing
package ux

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// =============================================================================
// Progress Events
// =============================================================================

// ProgressUpdate is one stability-check observation of a running
// simulation. Values are plain so the renderer stays decoupled from
// where the observation came from.
type ProgressUpdate struct {
	// Mode is "relax" or "evolve".
	Mode string

	// Iteration is the most recently completed iteration or step.
	Iteration int

	// Total is the iteration budget.
	Total int

	// Norm is the global field norm after the iteration.
	Norm float64

	// Residual is the maximum per-component force magnitude.
	Residual float64
}

// RunOutcome summarizes a finished run for display.
type RunOutcome struct {
	// Outcome tags how the run terminated ("converged", "diverged", ...).
	Outcome string

	// Iterations is the number of completed iterations or steps.
	Iterations int

	// FinalNorm is the global field norm when the run ended.
	FinalNorm float64

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// =============================================================================
// Progress Renderer Interface
// =============================================================================

// ProgressRenderer renders run progress to an output destination.
//
// Lifecycle:
//
//  1. Create renderer with New*ProgressRenderer()
//  2. Call OnStart once, then OnCheck per observation
//  3. Call OnDone when the run terminates
//  4. Call Finalize() when rendering ends (always, even on error)
//
// Thread Safety:
//
//	Implementations must be safe for concurrent calls. Progress
//	observations arrive on run goroutines.
//
// Example:
//
//	renderer := ux.NewProgressRenderer(os.Stdout)
//	defer renderer.Finalize()
//
//	renderer.OnStart("evolve", spec.Steps)
//	// per stability check:
//	renderer.OnCheck(ux.ProgressUpdate{...})
//	// on termination:
//	renderer.OnDone(ux.RunOutcome{...})
type ProgressRenderer interface {
	// OnStart announces the run mode and iteration budget.
	OnStart(mode string, total int)

	// OnCheck renders one progress observation. Implementations may
	// drop observations that arrive faster than they can draw.
	OnCheck(u ProgressUpdate)

	// OnDone renders the terminal outcome. Called at most once.
	OnDone(o RunOutcome)

	// Finalize releases the output (clears any in-place line). Safe to
	// call multiple times.
	Finalize()
}

// NewProgressRenderer returns the renderer matching the current
// personality: machine mode gets KEY: value lines, everything else the
// in-place terminal renderer.
func NewProgressRenderer(w io.Writer) ProgressRenderer {
	if GetPersonality().Level == PersonalityMachine {
		return NewMachineProgressRenderer(w)
	}
	return NewTerminalProgressRenderer(w)
}

// =============================================================================
// Terminal Renderer
// =============================================================================

// progressRedrawInterval bounds how often the terminal renderer
// redraws. Stability checks can fire every few hundred microseconds on
// small lattices; drawing each one would burn more time than the run.
const progressRedrawInterval = 100 * time.Millisecond

// TerminalProgressRenderer redraws a single status line in place.
type TerminalProgressRenderer struct {
	w io.Writer

	mu       sync.Mutex
	mode     string
	total    int
	drawn    bool
	done     bool
	lastDraw time.Time
}

// NewTerminalProgressRenderer creates a renderer that redraws one line
// on w.
func NewTerminalProgressRenderer(w io.Writer) *TerminalProgressRenderer {
	return &TerminalProgressRenderer{w: w}
}

// OnStart records the mode and budget for subsequent draws.
func (r *TerminalProgressRenderer) OnStart(mode string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	r.total = total
}

// OnCheck redraws the status line, dropping observations that arrive
// inside the redraw interval.
func (r *TerminalProgressRenderer) OnCheck(u ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	now := time.Now()
	if r.drawn && now.Sub(r.lastDraw) < progressRedrawInterval {
		return
	}
	r.lastDraw = now
	r.drawn = true

	line := fmt.Sprintf("%s %s %d/%d  norm %.4e",
		ProgressBar(u.Iteration, u.Total, 24), u.Mode, u.Iteration, u.Total, u.Norm)
	if u.Mode == "relax" {
		line += fmt.Sprintf("  residual %.2e", u.Residual)
	}
	fmt.Fprintf(r.w, "\r\033[K%s", line)
}

// OnDone clears the status line and prints the outcome.
func (r *TerminalProgressRenderer) OnDone(o RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	if r.drawn {
		fmt.Fprint(r.w, "\r\033[K")
	}
	icon := OutcomeIcon(o.Outcome)
	fmt.Fprintf(r.w, "%s %s after %d iterations  norm %.4e  (%s)\n",
		icon.Render(), o.Outcome, o.Iterations, o.FinalNorm, o.Elapsed.Round(time.Millisecond))
}

// Finalize clears a dangling status line when no outcome arrived.
func (r *TerminalProgressRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drawn && !r.done {
		fmt.Fprint(r.w, "\r\033[K")
		r.drawn = false
	}
}

// =============================================================================
// Machine Renderer
// =============================================================================

// MachineProgressRenderer prints one parseable line per event.
type MachineProgressRenderer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewMachineProgressRenderer creates a renderer that prints KEY: value
// lines on w.
func NewMachineProgressRenderer(w io.Writer) *MachineProgressRenderer {
	return &MachineProgressRenderer{w: w}
}

// OnStart prints the run header line.
func (r *MachineProgressRenderer) OnStart(mode string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "RUN: mode=%s total=%d\n", mode, total)
}

// OnCheck prints one progress line.
func (r *MachineProgressRenderer) OnCheck(u ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "PROGRESS: iteration=%d total=%d norm=%e residual=%e\n",
		u.Iteration, u.Total, u.Norm, u.Residual)
}

// OnDone prints the outcome line.
func (r *MachineProgressRenderer) OnDone(o RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "DONE: outcome=%s iterations=%d norm=%e elapsed_ms=%d\n",
		o.Outcome, o.Iterations, o.FinalNorm, o.Elapsed.Milliseconds())
}

// Finalize is a no-op; machine output has no in-place state.
func (r *MachineProgressRenderer) Finalize() {}

// =============================================================================
// Buffer Renderer
// =============================================================================

// BufferProgressRenderer records events in memory for tests.
type BufferProgressRenderer struct {
	mu      sync.Mutex
	mode    string
	total   int
	checks  []ProgressUpdate
	outcome *RunOutcome
	final   bool
}

// NewBufferProgressRenderer creates an in-memory renderer.
func NewBufferProgressRenderer() *BufferProgressRenderer {
	return &BufferProgressRenderer{}
}

// OnStart records the run header.
func (r *BufferProgressRenderer) OnStart(mode string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	r.total = total
}

// OnCheck records the observation.
func (r *BufferProgressRenderer) OnCheck(u ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, u)
}

// OnDone records the outcome.
func (r *BufferProgressRenderer) OnDone(o RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		r.outcome = &o
	}
}

// Finalize marks the renderer finalized.
func (r *BufferProgressRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = true
}

// Mode returns the recorded run mode.
func (r *BufferProgressRenderer) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Checks returns a copy of all recorded observations.
func (r *BufferProgressRenderer) Checks() []ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressUpdate, len(r.checks))
	copy(out, r.checks)
	return out
}

// Outcome returns the recorded outcome, nil when the run never
// terminated.
func (r *BufferProgressRenderer) Outcome() *RunOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return nil
	}
	o := *r.outcome
	return &o
}

// Finalized reports whether Finalize was called.
func (r *BufferProgressRenderer) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// Interface guards.
var (
	_ ProgressRenderer = (*TerminalProgressRenderer)(nil)
	_ ProgressRenderer = (*MachineProgressRenderer)(nil)
	_ ProgressRenderer = (*BufferProgressRenderer)(nil)
)
