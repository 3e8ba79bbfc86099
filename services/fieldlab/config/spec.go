// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the declarative run specification consumed by
// the CLI and the server.
//
// A RunSpec is a complete YAML description of one simulation: algebra
// signature, lattice geometry (single side or a multi-scale list),
// run parameters, optional evolution block, precision and worker count.
// Loading layers the document over Defaults, so a spec only states what
// it changes. Validation fails fast, before any engine buffer is
// reserved.
package config

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/CliffordLab/pkg/validation"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/state"
)

// specValidate is the validator instance for run specs.
// Initialized in init() with custom validators.
var specValidate *validator.Validate

func init() {
	specValidate = validator.New()

	_ = specValidate.RegisterValidation("finite", validateFinite)
	_ = specValidate.RegisterValidation("runname", validateRunName)
}

// validateFinite rejects NaN and infinite float fields. The stock
// validators only bound finite values, so a bare `gte` tag would wave
// NaN through.
func validateFinite(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// validateRunName applies the shared run-name rule, keeping spec names
// safe for store keys and spool filenames.
func validateRunName(fl validator.FieldLevel) bool {
	return validation.ValidateRunName(fl.Field().String()) == nil
}

// AlgebraSpec selects the Clifford algebra signature Cl(p,q).
type AlgebraSpec struct {
	P int `yaml:"p" json:"p" validate:"gte=0"`
	Q int `yaml:"q" json:"q" validate:"gte=0"`
}

// LatticeSpec describes the periodic grid. Exactly one of L (single
// side) or Scales (multi-scale sweep) must be set.
type LatticeSpec struct {
	D      int   `yaml:"d" json:"d" validate:"required,gte=1,lte=6"`
	L      int   `yaml:"l,omitempty" json:"l,omitempty" validate:"omitempty,gte=2,lte=1024"`
	Scales []int `yaml:"scales,omitempty" json:"scales,omitempty" validate:"omitempty,min=1,dive,gte=2,lte=1024"`
}

// ParamsSpec carries the scalar run parameters. Zero values survive
// loading only when written explicitly; absent keys keep the defaults.
type ParamsSpec struct {
	LambdaD           float64 `yaml:"lambda_d" json:"lambda_d" validate:"finite"`
	LambdaPG0         float64 `yaml:"lambda_pg0" json:"lambda_pg0" validate:"finite"`
	Damping           float64 `yaml:"damping" json:"damping" validate:"finite"`
	Step              float64 `yaml:"step" json:"step" validate:"finite,gt=0"`
	MaxIterations     int     `yaml:"max_iterations" json:"max_iterations" validate:"gte=1"`
	Tolerance         float64 `yaml:"tolerance" json:"tolerance" validate:"finite,gte=0"`
	DivergenceCeiling float64 `yaml:"divergence_ceiling" json:"divergence_ceiling" validate:"finite"`
	CollapseFloor     float64 `yaml:"collapse_floor" json:"collapse_floor" validate:"finite"`
	CheckEvery        int     `yaml:"check_every" json:"check_every" validate:"gte=1"`
	Seed              uint64  `yaml:"seed" json:"seed"`
	Amplitude         float64 `yaml:"amplitude" json:"amplitude" validate:"finite,gte=0"`
}

// EvolutionSpec requests fixed-step time integration. A spec without an
// evolution block runs relaxation instead.
type EvolutionSpec struct {
	Steps       int    `yaml:"steps" json:"steps" validate:"required,gte=1"`
	SampleEvery int    `yaml:"sample_every" json:"sample_every" validate:"gte=0"`
	Mode        string `yaml:"mode" json:"mode" validate:"omitempty,oneof=norm scalar field"`
}

// RunSpec is the complete declarative description of a simulation run.
//
// # Validation
//
// Uses go-playground/validator:
//   - Name: optional, run-name rule (lowercase alphanumeric plus ._-)
//   - Lattice.D: required, 1-6
//   - Lattice.L / Lattice.Scales: mutually exclusive, sides 2-1024
//   - every float: finite (custom validator; NaN/Inf rejected)
//   - Precision: "float64" or "float32"
//
// # Examples
//
//	spec, err := config.LoadFile("sweep.yaml")
//	if err != nil {
//	    return err
//	}
//	m, err := spec.Model()
type RunSpec struct {
	Name      string         `yaml:"name,omitempty" json:"name,omitempty" validate:"omitempty,runname"`
	Algebra   AlgebraSpec    `yaml:"algebra" json:"algebra"`
	Lattice   LatticeSpec    `yaml:"lattice" json:"lattice"`
	Params    ParamsSpec     `yaml:"params" json:"params"`
	Evolution *EvolutionSpec `yaml:"evolution,omitempty" json:"evolution,omitempty"`
	Precision string         `yaml:"precision" json:"precision" validate:"omitempty,oneof=float64 float32"`
	Workers   int            `yaml:"workers" json:"workers" validate:"gte=0"`
}

// Defaults returns a runnable spec: Cl(1,8) on an 8^2 grid with the
// reference couplings. Loading layers documents over this value.
func Defaults() RunSpec {
	return RunSpec{
		Algebra: AlgebraSpec{P: 1, Q: 8},
		Lattice: LatticeSpec{D: 2, L: 8},
		Params: ParamsSpec{
			LambdaD:           0.5,
			LambdaPG0:         0.25,
			Damping:           0.2,
			Step:              engine.DefaultStep,
			MaxIterations:     engine.DefaultMaxIterations,
			Tolerance:         engine.DefaultTolerance,
			DivergenceCeiling: engine.DefaultDivergenceCeiling,
			CollapseFloor:     0,
			CheckEvery:        engine.DefaultCheckEvery,
			Seed:              1,
			Amplitude:         engine.DefaultAmplitude,
		},
		Precision: "float64",
	}
}

// Validate checks the spec against the tag rules plus the cross-field
// rules the tags cannot express.
//
// # Outputs
//
//   - error: Non-nil, wrapping ErrInvalidSpec, when any rule fails.
func (s *RunSpec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if dim := s.Algebra.P + s.Algebra.Q; dim < 1 || dim > algebra.MaxGenerators {
		return fmt.Errorf("%w: algebra signature (%d,%d) needs 1..%d generators",
			ErrInvalidSpec, s.Algebra.P, s.Algebra.Q, algebra.MaxGenerators)
	}
	if len(s.Lattice.Scales) > 0 && s.Lattice.L != 0 {
		return fmt.Errorf("%w: lattice.l and lattice.scales are mutually exclusive", ErrInvalidSpec)
	}
	if len(s.Lattice.Scales) == 0 && s.Lattice.L == 0 {
		return fmt.Errorf("%w: one of lattice.l or lattice.scales is required", ErrInvalidSpec)
	}
	return nil
}

// Model builds the algebra model the spec names.
func (s *RunSpec) Model() (*algebra.Model, error) {
	return algebra.New(s.Algebra.P, s.Algebra.Q)
}

// Lattices expands the lattice block into one grid per scale, smallest
// first. A single-side spec yields one lattice.
func (s *RunSpec) Lattices() ([]lattice.Lattice, error) {
	sides := s.Lattice.Scales
	if len(sides) == 0 {
		sides = []int{s.Lattice.L}
	}
	out := make([]lattice.Lattice, 0, len(sides))
	for _, l := range sides {
		lat, err := lattice.New(s.Lattice.D, l)
		if err != nil {
			return nil, err
		}
		out = append(out, lat)
	}
	return out, nil
}

// EngineParams converts the params block into engine run parameters.
func (s *RunSpec) EngineParams() engine.Params {
	return engine.Params{
		LambdaD:           s.Params.LambdaD,
		LambdaPG0:         s.Params.LambdaPG0,
		Damping:           s.Params.Damping,
		Step:              s.Params.Step,
		MaxIterations:     s.Params.MaxIterations,
		Tolerance:         s.Params.Tolerance,
		DivergenceCeiling: s.Params.DivergenceCeiling,
		CollapseFloor:     s.Params.CollapseFloor,
		CheckEvery:        s.Params.CheckEvery,
		Seed:              s.Params.Seed,
		Amplitude:         s.Params.Amplitude,
	}
}

// EngineEvolve converts the evolution block. The second return reports
// whether the spec requests evolution at all; relaxation specs return
// false with a zero EvolveSpec.
func (s *RunSpec) EngineEvolve() (engine.EvolveSpec, bool, error) {
	if s.Evolution == nil {
		return engine.EvolveSpec{}, false, nil
	}
	mode, err := engine.ParseSampleMode(s.Evolution.Mode)
	if err != nil {
		return engine.EvolveSpec{}, true, err
	}
	return engine.EvolveSpec{
		Steps:       s.Evolution.Steps,
		SampleEvery: s.Evolution.SampleEvery,
		Mode:        mode,
	}, true, nil
}

// StatePrecision parses the precision field; an empty field means
// float64.
func (s *RunSpec) StatePrecision() (state.Precision, error) {
	return state.ParsePrecision(s.Precision)
}
