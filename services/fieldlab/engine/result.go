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

import (
	"fmt"
	"time"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/state"
)

// Outcome tags how a run terminated.
//
// Divergence and collapse are NOT errors: they are legitimate physical
// outcomes of the chosen parameters, reported here and never retried by
// the engine. Only resource problems surface as Go errors (see RunError).
type Outcome string

const (
	// OutcomeConverged means relaxation reached the force tolerance.
	OutcomeConverged Outcome = "converged"

	// OutcomeCompleted means evolution ran its full step count.
	OutcomeCompleted Outcome = "completed"

	// OutcomeDiverged means the stability monitor saw the norm cross the
	// divergence ceiling or stop being finite.
	OutcomeDiverged Outcome = "diverged"

	// OutcomeCollapsed means the norm fell below the collapse floor.
	OutcomeCollapsed Outcome = "collapsed"

	// OutcomeIterationLimit means relaxation exhausted MaxIterations
	// without converging.
	OutcomeIterationLimit Outcome = "iteration_limit"

	// OutcomeCanceled means the run context was canceled at an iteration
	// boundary.
	OutcomeCanceled Outcome = "canceled"

	// OutcomeResourceError means a buffer reservation failed; the
	// accompanying error carries the cause.
	OutcomeResourceError Outcome = "resource_error"
)

// Success reports whether the run produced a usable final field.
func (o Outcome) Success() bool {
	return o == OutcomeConverged || o == OutcomeCompleted || o == OutcomeIterationLimit
}

// SampleMode selects what the evolution driver records per sample.
type SampleMode int

const (
	// SampleNorm records only the global field norm. Cheapest; enough
	// for spectral analysis of the norm trajectory.
	SampleNorm SampleMode = iota

	// SampleScalar records the grade-0 (scalar) coefficient of every
	// lattice site.
	SampleScalar

	// SampleField records a full copy of the field coefficients.
	SampleField
)

// String returns the mode name used in configuration files.
func (m SampleMode) String() string {
	switch m {
	case SampleNorm:
		return "norm"
	case SampleScalar:
		return "scalar"
	case SampleField:
		return "field"
	default:
		return "unknown"
	}
}

// ParseSampleMode parses a configuration string into a SampleMode.
func ParseSampleMode(s string) (SampleMode, error) {
	switch s {
	case "norm", "":
		return SampleNorm, nil
	case "scalar":
		return SampleScalar, nil
	case "field":
		return SampleField, nil
	default:
		return SampleNorm, fmt.Errorf("%w: %q", ErrUnknownSampleMode, s)
	}
}

// Sample is one trajectory snapshot recorded by the evolution driver.
//
// Scalar and Field are populated according to the run's SampleMode and
// are nil otherwise. With Float32 precision the recorded values pass
// through float32 rounding.
type Sample struct {
	// Step is the evolution step the sample was taken after.
	Step int `json:"step"`

	// Time is Step times the step size.
	Time float64 `json:"time"`

	// Norm is the global field norm after the step.
	Norm float64 `json:"norm"`

	// Scalar holds the per-site grade-0 coefficient (SampleScalar).
	Scalar []float64 `json:"scalar,omitempty"`

	// Field holds a full field copy (SampleField).
	Field []float64 `json:"field,omitempty"`
}

// NormPoint is one stability-check observation of the field norm.
type NormPoint struct {
	// Iteration the norm was observed after.
	Iteration int `json:"iteration"`

	// Norm is the global field norm at that iteration.
	Norm float64 `json:"norm"`
}

// RunResult is the complete record of one relaxation or evolution run.
//
// # Description
//
//	Every run produces a RunResult, whatever its outcome. The field and
//	velocity buffers the run worked on are released before the result is
//	returned; Field, Samples, and NormSeries are independent copies that
//	outlive the run.
type RunResult struct {
	// Outcome tags how the run terminated.
	Outcome Outcome `json:"outcome"`

	// Iterations is the number of completed iterations or steps.
	Iterations int `json:"iterations"`

	// FinalNorm is the global field norm when the run ended.
	FinalNorm float64 `json:"final_norm"`

	// Residual is the maximum per-site force magnitude of the last
	// kernel pass.
	Residual float64 `json:"residual"`

	// NormSeries holds the norm at every stability check.
	NormSeries []NormPoint `json:"norm_series,omitempty"`

	// Samples holds the evolution trajectory snapshots.
	Samples []Sample `json:"samples,omitempty"`

	// Field is a copy of the final field coefficients. Populated only
	// for outcomes where the field is usable (see Outcome.Success).
	Field []float64 `json:"field,omitempty"`

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration `json:"elapsed"`

	// Ledger is the allocator snapshot after release; for a dedicated
	// allocator, Allocs == Frees proves the pairing contract held.
	Ledger state.Stats `json:"ledger"`
}

// RunError wraps a resource failure with the run phase it occurred in.
//
// Configuration errors never become RunErrors: they are raised before
// any reservation. A RunError means buffers may have been reserved, and
// the engine has already released whatever it tracked.
type RunError struct {
	// Phase names the run stage that failed ("state", "kernel", "force").
	Phase string

	// Iteration is the iteration the failure occurred at, zero when the
	// run never entered its loop.
	Iteration int

	// Err is the underlying cause.
	Err error
}

// Error formats the phase, iteration, and cause.
func (e *RunError) Error() string {
	if e.Iteration > 0 {
		return fmt.Sprintf("run failed in phase %s at iteration %d: %v", e.Phase, e.Iteration, e.Err)
	}
	return fmt.Sprintf("run failed in phase %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *RunError) Unwrap() error { return e.Err }
