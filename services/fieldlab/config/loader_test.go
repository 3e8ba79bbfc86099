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
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
)

func TestLoadLayersOverDefaults(t *testing.T) {
	doc := `
name: sweep-a
lattice:
  d: 3
  l: 4
params:
  lambda_d: 0.9
`
	spec, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if spec.Name != "sweep-a" {
		t.Errorf("Name = %q, want sweep-a", spec.Name)
	}
	if spec.Lattice.D != 3 || spec.Lattice.L != 4 {
		t.Errorf("Lattice = %+v, want d=3 l=4", spec.Lattice)
	}
	if spec.Params.LambdaD != 0.9 {
		t.Errorf("LambdaD = %g, want 0.9 (overridden)", spec.Params.LambdaD)
	}

	// Everything the document does not mention keeps its default.
	if spec.Algebra.P != 1 || spec.Algebra.Q != 8 {
		t.Errorf("Algebra = %+v, want default (1,8)", spec.Algebra)
	}
	if spec.Params.Step != engine.DefaultStep {
		t.Errorf("Step = %g, want default %g", spec.Params.Step, engine.DefaultStep)
	}
	if spec.Params.Damping != 0.2 {
		t.Errorf("Damping = %g, want default 0.2", spec.Params.Damping)
	}
}

func TestLoadExplicitZeroOverrides(t *testing.T) {
	doc := `
params:
  damping: 0
  lambda_pg0: 0
`
	spec, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Params.Damping != 0 {
		t.Errorf("Damping = %g, want explicit 0", spec.Params.Damping)
	}
	if spec.Params.LambdaPG0 != 0 {
		t.Errorf("LambdaPG0 = %g, want explicit 0", spec.Params.LambdaPG0)
	}
	if spec.Params.LambdaD != 0.5 {
		t.Errorf("LambdaD = %g, want default 0.5 untouched", spec.Params.LambdaD)
	}
}

func TestLoadScalesDropDefaultSide(t *testing.T) {
	doc := `
lattice:
  d: 2
  scales: [4, 6, 8]
`
	spec, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Lattice.L != 0 {
		t.Errorf("L = %d, want 0 when the document lists scales", spec.Lattice.L)
	}
	if !reflect.DeepEqual(spec.Lattice.Scales, []int{4, 6, 8}) {
		t.Errorf("Scales = %v, want [4 6 8]", spec.Lattice.Scales)
	}

	// Writing both explicitly is still an error.
	both := `
lattice:
  d: 2
  l: 8
  scales: [4, 6]
`
	if _, err := Load(strings.NewReader(both)); err == nil {
		t.Fatal("Load accepted side and scales together")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	doc := `
params:
  lamda_d: 0.9
`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("Load accepted a misspelled key")
	}
}

func TestLoadEmptyDocument(t *testing.T) {
	spec, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(spec, Defaults()) {
		t.Errorf("empty document = %+v, want Defaults()", spec)
	}
}

func TestLoadInvalidSpec(t *testing.T) {
	doc := `
params:
  step: -1
`
	_, err := Load(strings.NewReader(doc))
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Load = %v, want wrap of ErrInvalidSpec", err)
	}
}

func TestLoadEvolutionBlock(t *testing.T) {
	doc := `
evolution:
  steps: 200
  sample_every: 10
  mode: field
`
	spec, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	es, ok, err := spec.EngineEvolve()
	if err != nil || !ok {
		t.Fatalf("EngineEvolve() = (_, %v, %v), want (_, true, nil)", ok, err)
	}
	if es.Steps != 200 || es.SampleEvery != 10 || es.Mode != engine.SampleField {
		t.Errorf("EvolveSpec = %+v, want {200 10 field}", es)
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("round trip through WriteDefault", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "specs", "run.yaml")
		if err := WriteDefault(path); err != nil {
			t.Fatalf("WriteDefault: %v", err)
		}

		spec, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		if !reflect.DeepEqual(spec, Defaults()) {
			t.Errorf("LoadFile = %+v, want Defaults()", spec)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		if err == nil {
			t.Fatal("LoadFile accepted a missing file")
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want wrap of os.ErrNotExist", err)
		}
	})
}
