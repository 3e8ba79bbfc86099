// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explore drives the field engine across lattice scales and
// coupling space: multi-scale evolution sweeps, continuum extrapolation
// of mass candidates, scoring against reference mass ratios, and a
// random search over couplings.
//
// Mass candidates are read off the sampled trajectory spectrum. The
// grade-0 scalar channel oscillates at the physical frequency, while a
// norm series rectifies the oscillation and shows its line at twice the
// frequency, so sweeps meant for mass work should sample in scalar
// mode.
package explore

import (
	"context"
	"fmt"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/analysis"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
)

// ScaleConfig describes one multi-scale sweep: the same model and
// parameters evolved on a ladder of lattice sides.
type ScaleConfig struct {
	// Model is the Clifford algebra the field lives in.
	Model *algebra.Model

	// Dims is the lattice dimensionality shared by all scales.
	Dims int

	// Scales lists the lattice sides to run, one engine per side.
	// Results come back in the same order.
	Scales []int

	// Params are the run parameters shared by all scales.
	Params engine.Params

	// Evolve is the evolution schedule shared by all scales. Sampling
	// must be enabled for the sweep to extract mass candidates.
	Evolve engine.EvolveSpec

	// Options are applied to every engine the sweep constructs.
	Options []engine.Option

	// Concurrency bounds how many scales run at once. At or below zero
	// uses runtime.NumCPU(). Each engine additionally runs its own
	// worker goroutines, so the product of the two is the real width.
	Concurrency int

	// Progress, when set, receives per-iteration progress tagged with
	// the lattice side it came from. Called from sweep goroutines, so
	// it must be safe for concurrent use.
	Progress func(side int, p engine.Progress)
}

// ScaleResult is the outcome of one side of a sweep.
type ScaleResult struct {
	// Side is the lattice side this result belongs to.
	Side int `json:"side"`

	// Run is the full engine result at this side.
	Run engine.RunResult `json:"run"`

	// Peaks are the spectral lines of the sampled trajectory, strongest
	// first. Empty when the run failed to complete, sampled too few
	// points, or showed no line above the noise floor.
	Peaks []analysis.Peak `json:"peaks,omitempty"`

	// Mass is the leading mass candidate, zero when Peaks is empty.
	Mass float64 `json:"mass,omitempty"`
}

// RunScales evolves the same configuration on every side in the ladder.
//
// # Description
//
//	Each side gets its own engine and lattice; runs proceed concurrently
//	under the Concurrency bound. Unstable outcomes (diverged, collapsed)
//	are recorded in the result, not returned as errors; only engine
//	failures and cancellation abort the sweep. After each completed run
//	the sampled series is converted to a periodogram and its peaks are
//	attached to the result.
//
// # Inputs
//
//   - ctx: cancels outstanding runs at their next iteration boundary.
//   - cfg: the sweep description. Params and Evolve are validated
//     before any engine is built.
//
// # Outputs
//
//   - []ScaleResult: one entry per side, in Scales order.
//   - error: the first engine failure, or a config error.
//
// # Thread Safety
//
//	Safe for concurrent use.
func RunScales(ctx context.Context, cfg ScaleConfig) ([]ScaleResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Scales) == 0 {
		return nil, ErrNoScales
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Evolve.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "explore.scales")
	span.SetAttributes(
		attribute.Int("sweep.dims", cfg.Dims),
		attribute.Int("sweep.scales", len(cfg.Scales)),
	)
	defer span.End()

	limit := cfg.Concurrency
	if limit < 1 {
		limit = runtime.NumCPU()
	}

	results := make([]ScaleResult, len(cfg.Scales))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, side := range cfg.Scales {
		g.Go(func() error {
			res, err := runScale(gctx, cfg, side)
			if err != nil {
				return fmt.Errorf("scale %d: %w", side, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return results, nil
}

// runScale runs one side of the sweep and extracts its spectrum.
func runScale(ctx context.Context, cfg ScaleConfig, side int) (ScaleResult, error) {
	lat, err := lattice.New(cfg.Dims, side)
	if err != nil {
		return ScaleResult{}, err
	}

	opts := cfg.Options
	if cfg.Progress != nil {
		opts = append(opts[:len(opts):len(opts)], engine.WithProgress(func(p engine.Progress) {
			cfg.Progress(side, p)
		}))
	}

	eng, err := engine.New(cfg.Model, opts...)
	if err != nil {
		return ScaleResult{}, err
	}

	run, err := eng.Evolve(ctx, lat, nil, cfg.Params, cfg.Evolve)
	if err != nil {
		return ScaleResult{}, err
	}

	res := ScaleResult{Side: side, Run: run}
	if !run.Outcome.Success() || len(run.Samples) < analysis.MinSamples {
		return res, nil
	}

	var series []float64
	switch cfg.Evolve.Mode {
	case engine.SampleScalar:
		series = analysis.ScalarMeans(run.Samples)
	case engine.SampleField:
		series = analysis.FieldScalarMeans(run.Samples, cfg.Model.BladeCount())
	default:
		series = analysis.SampleNorms(run.Samples)
	}
	dt := cfg.Params.Step * float64(cfg.Evolve.SampleEvery)
	peaks, err := analysis.MassCandidates(series, dt, 0)
	if err != nil {
		return ScaleResult{}, fmt.Errorf("spectrum: %w", err)
	}
	res.Peaks = peaks
	if len(peaks) > 0 {
		res.Mass = peaks[0].Mass
	}
	return res, nil
}
