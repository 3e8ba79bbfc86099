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
	"math"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/kernel"
)

// Default run parameter values.
const (
	// DefaultStep is the default integration step size.
	DefaultStep = 0.01

	// DefaultMaxIterations is the default relaxation iteration budget.
	DefaultMaxIterations = 5000

	// DefaultTolerance is the default convergence threshold on the
	// maximum per-site force magnitude.
	DefaultTolerance = 1e-8

	// DefaultDivergenceCeiling is the default norm ceiling above which a
	// run is declared diverged.
	DefaultDivergenceCeiling = 1e8

	// DefaultCheckEvery is the default stability-check cadence.
	DefaultCheckEvery = 10

	// DefaultAmplitude is the default seed amplitude for
	// engine-initialized fields.
	DefaultAmplitude = 0.01
)

// Params are the scalar constants of one simulation run.
//
// # Description
//
//	Params is immutable for the duration of a run and passed by value.
//	The lambda couplings weight the two potential terms, Damping weights
//	the velocity drag, and the remaining fields control termination and
//	stability policy. Validate runs before any buffer is reserved, so a
//	parameter error never creates partial state.
type Params struct {
	// LambdaD weights the cubic potential term.
	LambdaD float64 `json:"lambda_d"`

	// LambdaPG0 weights the grade-0 projection potential term.
	LambdaPG0 float64 `json:"lambda_pg0"`

	// Damping is the velocity drag coefficient.
	Damping float64 `json:"damping"`

	// Step is the integration step size. Must be positive; choosing it
	// small enough for the explicit scheme is the caller's job, the
	// engine never auto-tunes it.
	Step float64 `json:"step"`

	// MaxIterations bounds the relaxation loop.
	MaxIterations int `json:"max_iterations"`

	// Tolerance is the relaxation convergence threshold on the maximum
	// per-site force magnitude.
	Tolerance float64 `json:"tolerance"`

	// DivergenceCeiling is the norm ceiling; at or below zero disables it.
	DivergenceCeiling float64 `json:"divergence_ceiling"`

	// CollapseFloor is the norm floor; at or below zero disables it.
	CollapseFloor float64 `json:"collapse_floor"`

	// CheckEvery is the stability-check cadence in iterations.
	CheckEvery int `json:"check_every"`

	// Seed seeds the engine-default field initialization.
	Seed uint64 `json:"seed"`

	// Amplitude scales the engine-default field initialization.
	Amplitude float64 `json:"amplitude"`
}

// DefaultParams returns run parameters with documented defaults, couplings
// left at zero for the caller to set.
func DefaultParams() Params {
	return Params{
		Step:              DefaultStep,
		MaxIterations:     DefaultMaxIterations,
		Tolerance:         DefaultTolerance,
		DivergenceCeiling: DefaultDivergenceCeiling,
		CollapseFloor:     0,
		CheckEvery:        DefaultCheckEvery,
		Seed:              1,
		Amplitude:         DefaultAmplitude,
	}
}

// Validate checks the parameters for configuration errors.
//
// # Outputs
//
//	error - Non-nil, wrapping ErrInvalidParams, when a field is
//	non-finite or out of range. Nil parameters pass nothing to the
//	allocator, so a failed Validate leaves no state behind.
func (p Params) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"lambda_d", p.LambdaD},
		{"lambda_pg0", p.LambdaPG0},
		{"damping", p.Damping},
		{"step", p.Step},
		{"tolerance", p.Tolerance},
		{"divergence_ceiling", p.DivergenceCeiling},
		{"collapse_floor", p.CollapseFloor},
		{"amplitude", p.Amplitude},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidParams, f.name)
		}
	}
	if p.Step <= 0 {
		return fmt.Errorf("%w: step must be positive, got %g", ErrInvalidParams, p.Step)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be at least 1, got %d", ErrInvalidParams, p.MaxIterations)
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must not be negative, got %g", ErrInvalidParams, p.Tolerance)
	}
	if p.Amplitude < 0 {
		return fmt.Errorf("%w: amplitude must not be negative, got %g", ErrInvalidParams, p.Amplitude)
	}
	return nil
}

// monitor builds the stability policy from the parameter fields.
func (p Params) monitor() StabilityMonitor {
	return StabilityMonitor{
		Ceiling:    p.DivergenceCeiling,
		Floor:      p.CollapseFloor,
		CheckEvery: p.CheckEvery,
	}
}

// coupling builds the kernel coupling from the parameter fields.
func (p Params) coupling() kernel.Coupling {
	return kernel.Coupling{
		LambdaD:   p.LambdaD,
		LambdaPG0: p.LambdaPG0,
		Damping:   p.Damping,
	}
}

// EvolveSpec configures one evolution run.
type EvolveSpec struct {
	// Steps is the number of integration steps to run.
	Steps int `json:"steps"`

	// SampleEvery is the sampling cadence in steps; zero disables
	// trajectory sampling.
	SampleEvery int `json:"sample_every"`

	// Mode selects what each sample records.
	Mode SampleMode `json:"mode"`
}

// Validate checks the evolution spec for configuration errors.
func (s EvolveSpec) Validate() error {
	if s.Steps < 1 {
		return fmt.Errorf("%w: steps must be at least 1, got %d", ErrInvalidParams, s.Steps)
	}
	if s.SampleEvery < 0 {
		return fmt.Errorf("%w: sample_every must not be negative, got %d", ErrInvalidParams, s.SampleEvery)
	}
	if s.Mode != SampleNorm && s.Mode != SampleScalar && s.Mode != SampleField {
		return fmt.Errorf("%w: %d", ErrUnknownSampleMode, int(s.Mode))
	}
	return nil
}
