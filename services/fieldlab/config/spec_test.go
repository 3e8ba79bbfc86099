// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/state"
)

func TestDefaults(t *testing.T) {
	spec := Defaults()

	if err := spec.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v, want nil", err)
	}

	m, err := spec.Model()
	if err != nil {
		t.Fatalf("Model(): %v", err)
	}
	if m.BladeCount() != 512 {
		t.Errorf("default algebra has %d blades, want 512", m.BladeCount())
	}

	lats, err := spec.Lattices()
	if err != nil {
		t.Fatalf("Lattices(): %v", err)
	}
	if len(lats) != 1 || lats[0].D() != 2 || lats[0].L() != 8 {
		t.Errorf("default lattices = %v, want one 8^2 grid", lats)
	}

	params := spec.EngineParams()
	if params.Step != engine.DefaultStep {
		t.Errorf("Step = %g, want %g", params.Step, engine.DefaultStep)
	}
	if params.CheckEvery != engine.DefaultCheckEvery {
		t.Errorf("CheckEvery = %d, want %d", params.CheckEvery, engine.DefaultCheckEvery)
	}
	if err := params.Validate(); err != nil {
		t.Errorf("EngineParams().Validate() = %v, want nil", err)
	}

	prec, err := spec.StatePrecision()
	if err != nil {
		t.Fatalf("StatePrecision(): %v", err)
	}
	if prec != state.Float64 {
		t.Errorf("precision = %v, want Float64", prec)
	}

	if _, ok, _ := spec.EngineEvolve(); ok {
		t.Error("Defaults() requests evolution, want relaxation")
	}
}

func TestRunSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunSpec)
		wantErr bool
	}{
		{name: "defaults pass", mutate: func(s *RunSpec) {}},
		{name: "valid name", mutate: func(s *RunSpec) { s.Name = "sweep-2026.a" }},
		{name: "uppercase name", mutate: func(s *RunSpec) { s.Name = "Sweep" }, wantErr: true},
		{name: "name with spaces", mutate: func(s *RunSpec) { s.Name = "my run" }, wantErr: true},
		{name: "empty signature", mutate: func(s *RunSpec) { s.Algebra = AlgebraSpec{} }, wantErr: true},
		{name: "oversized signature", mutate: func(s *RunSpec) { s.Algebra = AlgebraSpec{P: 7, Q: 7} }, wantErr: true},
		{name: "negative p", mutate: func(s *RunSpec) { s.Algebra.P = -1 }, wantErr: true},
		{name: "zero dims", mutate: func(s *RunSpec) { s.Lattice.D = 0 }, wantErr: true},
		{name: "oversized dims", mutate: func(s *RunSpec) { s.Lattice.D = 7 }, wantErr: true},
		{name: "side too small", mutate: func(s *RunSpec) { s.Lattice.L = 1 }, wantErr: true},
		{name: "scales replace side", mutate: func(s *RunSpec) { s.Lattice.L = 0; s.Lattice.Scales = []int{4, 8, 16} }},
		{name: "side and scales together", mutate: func(s *RunSpec) { s.Lattice.Scales = []int{4, 8} }, wantErr: true},
		{name: "neither side nor scales", mutate: func(s *RunSpec) { s.Lattice.L = 0 }, wantErr: true},
		{name: "bad scale entry", mutate: func(s *RunSpec) { s.Lattice.L = 0; s.Lattice.Scales = []int{4, 1} }, wantErr: true},
		{name: "nan coupling", mutate: func(s *RunSpec) { s.Params.LambdaD = math.NaN() }, wantErr: true},
		{name: "inf ceiling", mutate: func(s *RunSpec) { s.Params.DivergenceCeiling = math.Inf(1) }, wantErr: true},
		{name: "zero step", mutate: func(s *RunSpec) { s.Params.Step = 0 }, wantErr: true},
		{name: "zero check cadence", mutate: func(s *RunSpec) { s.Params.CheckEvery = 0 }, wantErr: true},
		{name: "negative amplitude", mutate: func(s *RunSpec) { s.Params.Amplitude = -1 }, wantErr: true},
		{name: "valid evolution", mutate: func(s *RunSpec) { s.Evolution = &EvolutionSpec{Steps: 100, SampleEvery: 5, Mode: "scalar"} }},
		{name: "evolution without steps", mutate: func(s *RunSpec) { s.Evolution = &EvolutionSpec{SampleEvery: 5} }, wantErr: true},
		{name: "evolution with bad mode", mutate: func(s *RunSpec) { s.Evolution = &EvolutionSpec{Steps: 10, Mode: "everything"} }, wantErr: true},
		{name: "bad precision", mutate: func(s *RunSpec) { s.Precision = "float16" }, wantErr: true},
		{name: "float32 precision", mutate: func(s *RunSpec) { s.Precision = "float32" }},
		{name: "negative workers", mutate: func(s *RunSpec) { s.Workers = -1 }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := Defaults()
			tc.mutate(&spec)
			err := spec.Validate()
			if tc.wantErr {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !errors.Is(err, ErrInvalidSpec) {
					t.Errorf("error %v does not wrap ErrInvalidSpec", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestLatticesMultiScale(t *testing.T) {
	spec := Defaults()
	spec.Lattice.L = 0
	spec.Lattice.Scales = []int{4, 8, 16}

	lats, err := spec.Lattices()
	if err != nil {
		t.Fatalf("Lattices(): %v", err)
	}
	if len(lats) != 3 {
		t.Fatalf("got %d lattices, want 3", len(lats))
	}
	for i, want := range []int{4, 8, 16} {
		if lats[i].L() != want {
			t.Errorf("lattice %d side = %d, want %d", i, lats[i].L(), want)
		}
		if lats[i].D() != spec.Lattice.D {
			t.Errorf("lattice %d dims = %d, want %d", i, lats[i].D(), spec.Lattice.D)
		}
	}
}

func TestEngineEvolve(t *testing.T) {
	t.Run("relaxation spec", func(t *testing.T) {
		spec := Defaults()
		_, ok, err := spec.EngineEvolve()
		if err != nil || ok {
			t.Errorf("EngineEvolve() = (_, %v, %v), want (_, false, nil)", ok, err)
		}
	})

	t.Run("empty mode means norm", func(t *testing.T) {
		spec := Defaults()
		spec.Evolution = &EvolutionSpec{Steps: 50}
		es, ok, err := spec.EngineEvolve()
		if err != nil || !ok {
			t.Fatalf("EngineEvolve() = (_, %v, %v), want (_, true, nil)", ok, err)
		}
		if es.Mode != engine.SampleNorm {
			t.Errorf("Mode = %v, want SampleNorm", es.Mode)
		}
		if es.Steps != 50 {
			t.Errorf("Steps = %d, want 50", es.Steps)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		spec := Defaults()
		spec.Evolution = &EvolutionSpec{Steps: 50, Mode: "bogus"}
		_, ok, err := spec.EngineEvolve()
		if !ok {
			t.Error("ok = false, want true for a spec with an evolution block")
		}
		if !errors.Is(err, engine.ErrUnknownSampleMode) {
			t.Errorf("err = %v, want wrap of ErrUnknownSampleMode", err)
		}
	})
}
