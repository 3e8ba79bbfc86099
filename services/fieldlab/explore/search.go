// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
)

// Interval is a closed sampling range for one coupling. A degenerate
// interval (Min == Max) pins the coupling to that value.
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (iv Interval) validate(name string) error {
	bad := math.IsNaN(iv.Min) || math.IsInf(iv.Min, 0) ||
		math.IsNaN(iv.Max) || math.IsInf(iv.Max, 0) ||
		iv.Min > iv.Max
	if bad {
		return fmt.Errorf("%w: %s [%g, %g]", ErrInvalidSpace, name, iv.Min, iv.Max)
	}
	return nil
}

// sample draws uniformly from the interval.
func (iv Interval) sample(src rand.Source) float64 {
	return distuv.Uniform{Min: iv.Min, Max: iv.Max, Src: src}.Rand()
}

// Space is the coupling region a search samples from.
type Space struct {
	LambdaD   Interval `json:"lambda_d"`
	LambdaPG0 Interval `json:"lambda_pg0"`
	Damping   Interval `json:"damping"`
}

// Validate checks every interval of the space.
func (s Space) Validate() error {
	for _, iv := range []struct {
		name string
		rng  Interval
	}{
		{"lambda_d", s.LambdaD},
		{"lambda_pg0", s.LambdaPG0},
		{"damping", s.Damping},
	} {
		if err := iv.rng.validate(iv.name); err != nil {
			return err
		}
	}
	return nil
}

// draw samples one coupling set into a copy of the base parameters.
func (s Space) draw(src rand.Source, base engine.Params) engine.Params {
	base.LambdaD = s.LambdaD.sample(src)
	base.LambdaPG0 = s.LambdaPG0.sample(src)
	base.Damping = s.Damping.sample(src)
	return base
}

// Trial is one sampled coupling point and what came of it.
type Trial struct {
	// ID is a fresh UUID identifying the trial in stores and logs.
	ID string `json:"id"`

	// Index is the trial's position in the sampling stream. Trials with
	// the same search seed and index carry the same parameters
	// regardless of concurrency.
	Index int `json:"index"`

	// Params are the full run parameters the trial used.
	Params engine.Params `json:"params"`

	// Masses is the mass ladder of the finest scale that completed with
	// spectral lines, strongest line first.
	Masses []float64 `json:"masses,omitempty"`

	// Continuum is the infinite-volume fit of the leading mass, when
	// enough scales carried one.
	Continuum *ContinuumFit `json:"continuum,omitempty"`

	// Scored reports whether Score is meaningful. Trials that diverge,
	// collapse, or show no spectral lines stay unscored.
	Scored bool `json:"scored"`

	// Score is the ratio match against the reference table; lower is
	// better. Only valid when Scored.
	Score float64 `json:"score"`

	// Note explains why an unscored trial produced no score.
	Note string `json:"note,omitempty"`

	// Elapsed is the wall-clock cost of the trial.
	Elapsed time.Duration `json:"elapsed"`
}

// TrialStore persists finished trials.
//
// Implementations must be safe for concurrent use; Search calls
// PutTrial from trial goroutines.
type TrialStore interface {
	PutTrial(ctx context.Context, t Trial) error
}

// SearchConfig describes a random search over coupling space.
type SearchConfig struct {
	// Model is the Clifford algebra the field lives in.
	Model *algebra.Model

	// Dims and Scales define the lattice ladder every trial sweeps.
	Dims   int
	Scales []int

	// Base is the parameter template; each trial replaces its couplings
	// with a draw from Space. Base.Seed seeds the field initialization,
	// shared across trials so draws are compared on the same start.
	Base engine.Params

	// Evolve is the evolution schedule. Sampling must be enabled, or no
	// trial could ever produce a spectrum.
	Evolve engine.EvolveSpec

	// Space is the coupling region to sample.
	Space Space

	// Trials is the sampling budget.
	Trials int

	// Seed seeds the coupling sampling stream. Same seed, same draws.
	Seed uint64

	// Concurrency bounds how many trials run at once. At or below zero
	// uses runtime.NumCPU(). Scales within a trial run sequentially.
	Concurrency int

	// Reference is the mass table to score against. Nil uses
	// PDGReference().
	Reference []Reference

	// Store, when set, receives every finished trial.
	Store TrialStore

	// Options are applied to every engine the search constructs.
	Options []engine.Option

	// OnTrial, when set, observes every finished trial. Called from
	// trial goroutines, so it must be safe for concurrent use.
	OnTrial func(Trial)
}

// SearchResult summarizes a finished search.
type SearchResult struct {
	// Best is the lowest-scoring trial. Ties go to the lower index, so
	// the winner does not depend on completion order.
	Best Trial `json:"best"`

	// Found reports whether any trial was scored.
	Found bool `json:"found"`

	// Trials is how many trials completed.
	Trials int `json:"trials"`

	// Scored is how many of them produced a score.
	Scored int `json:"scored"`

	// Elapsed is the wall-clock cost of the search.
	Elapsed time.Duration `json:"elapsed"`
}

// Search samples coupling space and scores each point against a
// reference mass ladder.
//
// # Description
//
//	All coupling draws are taken up front from a single seeded stream,
//	so the sampled points depend only on the seed and trial budget,
//	never on scheduling. Each trial sweeps the scale ladder, extracts
//	its mass spectrum, fits the continuum limit and scores the ratio
//	match. Unstable trials are recorded unscored rather than failing
//	the search; engine failures, store failures and cancellation abort
//	it.
//
// # Outputs
//
//   - SearchResult: best trial and counts. Discarded when err != nil.
//   - error: config errors before any trial runs, or the first trial,
//     store, or context error.
//
// # Thread Safety
//
//	Safe for concurrent use.
func Search(ctx context.Context, cfg SearchConfig) (SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Trials < 1 {
		return SearchResult{}, fmt.Errorf("%w: %d", ErrNoTrials, cfg.Trials)
	}
	if len(cfg.Scales) == 0 {
		return SearchResult{}, ErrNoScales
	}
	if err := cfg.Space.Validate(); err != nil {
		return SearchResult{}, err
	}
	if err := cfg.Base.Validate(); err != nil {
		return SearchResult{}, err
	}
	if err := cfg.Evolve.Validate(); err != nil {
		return SearchResult{}, err
	}
	if cfg.Evolve.SampleEvery < 1 {
		return SearchResult{}, fmt.Errorf("%w: sample_every = %d", ErrNoSampling, cfg.Evolve.SampleEvery)
	}

	refs := cfg.Reference
	if refs == nil {
		refs = PDGReference()
	}

	src := rand.NewSource(cfg.Seed)
	draws := make([]engine.Params, cfg.Trials)
	for i := range draws {
		draws[i] = cfg.Space.draw(src, cfg.Base)
	}

	ctx, span := tracer.Start(ctx, "explore.search")
	span.SetAttributes(
		attribute.Int("search.trials", cfg.Trials),
		attribute.Int("search.scales", len(cfg.Scales)),
	)
	defer span.End()

	limit := cfg.Concurrency
	if limit < 1 {
		limit = runtime.NumCPU()
	}

	start := time.Now()
	var (
		mu  sync.Mutex
		res SearchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range draws {
		g.Go(func() error {
			tr, err := runTrial(gctx, cfg, i, draws[i], refs)
			if err != nil {
				return err
			}
			if cfg.Store != nil {
				if err := cfg.Store.PutTrial(gctx, tr); err != nil {
					return fmt.Errorf("store trial %s: %w", tr.ID, err)
				}
			}
			recordTrial(gctx, tr)

			mu.Lock()
			res.Trials++
			if tr.Scored {
				res.Scored++
				if !res.Found || betterTrial(tr, res.Best) {
					res.Best, res.Found = tr, true
				}
			}
			mu.Unlock()

			if cfg.OnTrial != nil {
				cfg.OnTrial(tr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return SearchResult{}, err
	}

	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("search.scored", res.Scored))
	return res, nil
}

// runTrial sweeps the scale ladder at one coupling point.
func runTrial(ctx context.Context, cfg SearchConfig, idx int, params engine.Params, refs []Reference) (Trial, error) {
	ctx, span := tracer.Start(ctx, "explore.trial")
	span.SetAttributes(attribute.Int("trial.index", idx))
	defer span.End()

	start := time.Now()
	tr := Trial{ID: uuid.New().String(), Index: idx, Params: params}

	sweep, err := RunScales(ctx, ScaleConfig{
		Model:       cfg.Model,
		Dims:        cfg.Dims,
		Scales:      cfg.Scales,
		Params:      params,
		Evolve:      cfg.Evolve,
		Options:     cfg.Options,
		Concurrency: 1,
	})
	if err != nil {
		span.RecordError(err)
		return Trial{}, err
	}

	tr.Masses = finestMasses(sweep)
	if fit, err := FitContinuum(sweep); err == nil {
		tr.Continuum = &fit
	}
	if score, err := ScoreRatios(tr.Masses, refs); err == nil && !math.IsInf(score, 0) && !math.IsNaN(score) {
		tr.Score, tr.Scored = score, true
	}
	if !tr.Scored {
		tr.Note = trialNote(sweep)
	}
	tr.Elapsed = time.Since(start)
	return tr, nil
}

// finestMasses returns the mass ladder of the largest side that
// completed with spectral lines.
func finestMasses(sweep []ScaleResult) []float64 {
	var best *ScaleResult
	for i := range sweep {
		r := &sweep[i]
		if !r.Run.Outcome.Success() || len(r.Peaks) == 0 {
			continue
		}
		if best == nil || r.Side > best.Side {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	masses := make([]float64, len(best.Peaks))
	for i, p := range best.Peaks {
		masses[i] = p.Mass
	}
	return masses
}

// trialNote summarizes why a trial produced no score.
func trialNote(sweep []ScaleResult) string {
	for _, r := range sweep {
		if !r.Run.Outcome.Success() {
			return fmt.Sprintf("%s at L=%d", r.Run.Outcome, r.Side)
		}
	}
	return "no mass ladder above the noise floor"
}

// betterTrial reports whether a should replace b as the running best.
// Lower score wins; ties go to the earlier trial so completion order
// cannot change the winner.
func betterTrial(a, b Trial) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Index < b.Index
}
