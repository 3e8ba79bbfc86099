// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives multivector field simulations on periodic
// lattices. It owns the run lifecycle: reserve tracked state, sequence
// fused kernel passes, consult the stability monitor, and release every
// buffer on every exit path. Relax performs damped descent to a steady
// state; Evolve performs fixed-step time integration with trajectory
// sampling. Divergence and collapse are reported as run outcomes, not
// errors.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/kernel"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/state"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/telemetry"
)

// Progress describes run progress at the stability-check cadence.
type Progress struct {
	// Mode is "relax" or "evolve".
	Mode string

	// Iteration is the most recently completed iteration or step.
	Iteration int

	// Total is the iteration budget (MaxIterations or Steps).
	Total int

	// Norm is the global field norm after the iteration.
	Norm float64

	// Residual is the maximum per-component force magnitude.
	Residual float64
}

// ProgressFunc receives progress updates during a run. Callbacks fire on
// the run's goroutine, so they must be fast and must not call back into
// the engine.
type ProgressFunc func(Progress)

// Options configures an Engine.
type Options struct {
	// Allocator tracks every field, velocity, force and tile buffer.
	// Default: state.NewHostAllocator().
	Allocator state.Allocator

	// Precision selects the width trajectory samples are stored at.
	// Default: state.Float64.
	Precision state.Precision

	// Workers is the number of slab workers per kernel pass.
	// Set to 0 to use runtime.NumCPU().
	Workers int

	// Logger receives run lifecycle events.
	// Default: slog.Default().
	Logger *slog.Logger

	// Progress, when non-nil, is invoked at every stability check.
	Progress ProgressFunc
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Precision: state.Float64,
		Workers:   runtime.NumCPU(),
	}
}

// Option is a functional option for configuring an Engine.
type Option func(*Options)

// WithAllocator sets the tracked allocator runs draw from.
func WithAllocator(alloc state.Allocator) Option {
	return func(o *Options) { o.Allocator = alloc }
}

// WithPrecision sets the trajectory-sample storage width.
func WithPrecision(prec state.Precision) Option {
	return func(o *Options) { o.Precision = prec }
}

// WithWorkers sets the number of slab workers per kernel pass.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithLogger sets the logger for run lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Options) { o.Progress = fn }
}

// Engine runs field simulations for one algebra signature.
//
// # Description
//
//	An Engine holds the immutable pieces shared by runs: the algebra
//	model, the tracked allocator, the worker count and the sample
//	precision. Each Relax or Evolve call reserves its own FieldState,
//	kernel tiles and force buffer, and returns them to the allocator
//	before the call completes, whatever the outcome. Parameters travel
//	with the call, so one Engine serves every lattice size of a
//	multi-scale sweep.
//
// # Thread Safety
//
//	An Engine is safe for concurrent use. Concurrent runs share only
//	the model's read-only tables and the allocator's atomic ledger;
//	every mutable buffer is private to its run. The progress callback
//	may fire from several runs at once and must tolerate that.
type Engine struct {
	model    *algebra.Model
	alloc    state.Allocator
	prec     state.Precision
	workers  int
	log      *slog.Logger
	progress ProgressFunc
}

// New creates an Engine for the given algebra model.
//
// # Inputs
//
//   - model: the Clifford algebra the field takes values in.
//   - opts: functional options; see Options for defaults.
//
// # Outputs
//
//   - *Engine: ready to run. Engines hold no buffers of their own and
//     need no release.
//   - error: ErrNilModel when model is nil.
//
// # Example
//
//	eng, err := engine.New(algebra.Cl18(), engine.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	res, err := eng.Relax(ctx, lat, nil, engine.DefaultParams())
func New(model *algebra.Model, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, ErrNilModel
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Allocator == nil {
		options.Allocator = state.NewHostAllocator()
	}
	if options.Workers < 1 {
		options.Workers = runtime.NumCPU()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Engine{
		model:    model,
		alloc:    options.Allocator,
		prec:     options.Precision,
		workers:  options.Workers,
		log:      options.Logger,
		progress: options.Progress,
	}, nil
}

// Model returns the algebra model runs are evaluated in.
func (e *Engine) Model() *algebra.Model { return e.model }

// Allocator returns the tracked allocator runs draw from.
func (e *Engine) Allocator() state.Allocator { return e.alloc }

// Precision returns the trajectory-sample storage width.
func (e *Engine) Precision() state.Precision { return e.prec }

// Workers returns the slab worker bound for kernel passes.
func (e *Engine) Workers() int { return e.workers }

// Relax runs damped descent until the force residual drops below
// Tolerance or the iteration budget runs out.
//
// # Description
//
//	Each iteration computes the fused force field, tests convergence on
//	the maximum per-component force magnitude, then advances velocity
//	and field by one explicit step. The stability monitor inspects the
//	field norm every CheckEvery iterations and can end the run early
//	with outcome diverged or collapsed; those are reported in the
//	result with a nil error. The context is checked once per iteration,
//	after the pass and stability check complete, never mid-pass.
//
// # Inputs
//
//   - ctx: cancels the run at the next iteration boundary. A nil ctx is
//     treated as context.Background().
//   - lat: the periodic lattice to relax on.
//   - initial: optional field values, laid out site-major with one
//     block of model.BladeCount() components per site. When nil the
//     engine seeds a uniform random field from params.Seed and
//     params.Amplitude.
//   - params: run parameters; validated before any buffer is reserved.
//
// # Outputs
//
//   - RunResult: outcome, iteration count, norm history and the run's
//     allocation ledger. The final field is included for outcomes
//     converged and iteration_limit.
//   - error: nil for every terminal outcome except configuration
//     errors (wrapping ErrInvalidParams or ErrFieldSize), resource
//     errors (a *RunError wrapping the allocator failure) and
//     cancellation (ctx.Err()).
func (e *Engine) Relax(ctx context.Context, lat lattice.Lattice, initial []float64, params Params) (res RunResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err = e.checkRun(lat, initial, params); err != nil {
		return res, err
	}

	start := time.Now()
	ctx, span := startRunSpan(ctx, "relax", lat, e.model)
	defer func() {
		res.Elapsed = time.Since(start)
		res.Ledger = e.alloc.Stats()
		finishRunSpan(span, res.Outcome, err)
		recordRun(ctx, "relax", res)
	}()

	sess, err := e.begin(lat, initial, params)
	if err != nil {
		res.Outcome = OutcomeResourceError
		return res, err
	}
	defer sess.close()

	log := telemetry.LoggerWithTrace(ctx, e.log)
	log.Debug("relaxation started",
		"d", lat.D(), "l", lat.L(), "points", lat.Points(),
		"max_iterations", params.MaxIterations, "tolerance", params.Tolerance)

	mon := params.monitor()
	cpl := params.coupling()
	norm := fieldNorm(sess.fs.Field())

	for iter := 1; iter <= params.MaxIterations; iter++ {
		residual := sess.kern.Forces(sess.force, sess.fs.Field(), sess.fs.Vel(), cpl)
		res.Residual = residual

		if residual <= params.Tolerance {
			res.Outcome = OutcomeConverged
			res.Iterations = iter
			res.FinalNorm = norm
			res.Field = copyField(sess.fs.Field())
			log.Info("relaxation converged", "iterations", iter, "residual", residual, "norm", norm)
			return res, nil
		}

		norm = math.Sqrt(sess.kern.Integrate(sess.fs.Field(), sess.fs.Vel(), sess.force, params.Step))
		res.Iterations = iter

		if mon.Due(iter) {
			res.NormSeries = append(res.NormSeries, NormPoint{Iteration: iter, Norm: norm})
			e.report(Progress{Mode: "relax", Iteration: iter, Total: params.MaxIterations, Norm: norm, Residual: residual})
			switch mon.Check(iter, norm) {
			case VerdictDiverged:
				res.Outcome = OutcomeDiverged
				res.FinalNorm = norm
				log.Warn("relaxation diverged", "iteration", iter, "norm", norm)
				return res, nil
			case VerdictCollapsed:
				res.Outcome = OutcomeCollapsed
				res.FinalNorm = norm
				log.Warn("relaxation collapsed", "iteration", iter, "norm", norm)
				return res, nil
			}
		}

		if err = ctx.Err(); err != nil {
			res.Outcome = OutcomeCanceled
			res.FinalNorm = norm
			log.Info("relaxation canceled", "iteration", iter)
			return res, err
		}
	}

	res.Outcome = OutcomeIterationLimit
	res.FinalNorm = norm
	res.Field = copyField(sess.fs.Field())
	log.Info("relaxation hit iteration limit", "iterations", res.Iterations, "residual", res.Residual, "norm", norm)
	return res, nil
}

// Evolve integrates the field forward for a fixed number of steps,
// recording trajectory samples at the configured cadence.
//
// # Description
//
//	Evolution shares the relaxation force law and integrator but never
//	tests convergence; it runs exactly spec.Steps steps unless the
//	stability monitor ends it early or the context is canceled. Samples
//	are appended after the stability check, so a step that trips the
//	monitor produces no sample. Under Float32 precision sample values
//	are narrowed to float32 range before storage; the final field in
//	the result always keeps full width.
//
// # Inputs
//
//   - ctx: cancels the run at the next step boundary.
//   - lat: the periodic lattice to integrate on.
//   - initial: optional field values as for Relax.
//   - params: run parameters; Tolerance and MaxIterations are unused.
//   - spec: step count, sample cadence and sample mode.
//
// # Outputs
//
//   - RunResult: outcome completed on a full run, with samples and the
//     final field; diverged or collapsed when the monitor trips.
//   - error: as for Relax.
func (e *Engine) Evolve(ctx context.Context, lat lattice.Lattice, initial []float64, params Params, spec EvolveSpec) (res RunResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err = e.checkRun(lat, initial, params); err != nil {
		return res, err
	}
	if err = spec.Validate(); err != nil {
		return res, err
	}

	start := time.Now()
	ctx, span := startRunSpan(ctx, "evolve", lat, e.model)
	defer func() {
		res.Elapsed = time.Since(start)
		res.Ledger = e.alloc.Stats()
		finishRunSpan(span, res.Outcome, err)
		recordRun(ctx, "evolve", res)
	}()

	sess, err := e.begin(lat, initial, params)
	if err != nil {
		res.Outcome = OutcomeResourceError
		return res, err
	}
	defer sess.close()

	log := telemetry.LoggerWithTrace(ctx, e.log)
	log.Debug("evolution started",
		"d", lat.D(), "l", lat.L(), "points", lat.Points(),
		"steps", spec.Steps, "sample_every", spec.SampleEvery, "mode", spec.Mode.String())

	mon := params.monitor()
	cpl := params.coupling()
	norm := fieldNorm(sess.fs.Field())

	for step := 1; step <= spec.Steps; step++ {
		residual := sess.kern.Forces(sess.force, sess.fs.Field(), sess.fs.Vel(), cpl)
		res.Residual = residual

		norm = math.Sqrt(sess.kern.Integrate(sess.fs.Field(), sess.fs.Vel(), sess.force, params.Step))
		res.Iterations = step

		if mon.Due(step) {
			res.NormSeries = append(res.NormSeries, NormPoint{Iteration: step, Norm: norm})
			e.report(Progress{Mode: "evolve", Iteration: step, Total: spec.Steps, Norm: norm, Residual: residual})
			switch mon.Check(step, norm) {
			case VerdictDiverged:
				res.Outcome = OutcomeDiverged
				res.FinalNorm = norm
				log.Warn("evolution diverged", "step", step, "norm", norm)
				return res, nil
			case VerdictCollapsed:
				res.Outcome = OutcomeCollapsed
				res.FinalNorm = norm
				log.Warn("evolution collapsed", "step", step, "norm", norm)
				return res, nil
			}
		}

		if spec.SampleEvery > 0 && step%spec.SampleEvery == 0 {
			res.Samples = append(res.Samples, e.takeSample(spec.Mode, step, params.Step, norm, sess.fs.Field(), sess.comps))
		}

		if err = ctx.Err(); err != nil {
			res.Outcome = OutcomeCanceled
			res.FinalNorm = norm
			log.Info("evolution canceled", "step", step)
			return res, err
		}
	}

	res.Outcome = OutcomeCompleted
	res.FinalNorm = norm
	res.Field = copyField(sess.fs.Field())
	log.Info("evolution completed", "steps", spec.Steps, "samples", len(res.Samples), "norm", norm)
	return res, nil
}

// checkRun validates everything that must hold before any buffer is
// reserved.
func (e *Engine) checkRun(lat lattice.Lattice, initial []float64, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if lat.Points() < 1 {
		return fmt.Errorf("%w: lattice has no sites", ErrInvalidParams)
	}
	if want := lat.Points() * e.model.BladeCount(); initial != nil && len(initial) != want {
		return fmt.Errorf("%w: got %d values, lattice needs %d", ErrFieldSize, len(initial), want)
	}
	return nil
}

// session holds one run's tracked buffers.
type session struct {
	eng    *Engine
	fs     *state.FieldState
	kern   *kernel.Kernel
	force  []float64
	comps  int
	closed bool
}

// begin reserves the run's state, kernel tiles and force buffer in that
// order. On failure everything reserved so far is returned to the
// allocator and the error is wrapped in a *RunError naming the phase.
func (e *Engine) begin(lat lattice.Lattice, initial []float64, params Params) (*session, error) {
	comps := e.model.BladeCount()

	fs, err := state.Allocate(e.alloc, lat, comps, e.prec)
	if err != nil {
		return nil, &RunError{Phase: "state", Err: err}
	}

	kern, err := kernel.New(e.model, lat, e.alloc, e.workers)
	if err != nil {
		fs.Release()
		return nil, &RunError{Phase: "kernel", Err: err}
	}

	force, err := e.alloc.Alloc(lat.Points() * comps)
	if err != nil {
		kern.Release()
		fs.Release()
		return nil, &RunError{Phase: "force", Err: err}
	}

	if initial != nil {
		if err := fs.SetField(initial); err != nil {
			e.alloc.Free(force)
			kern.Release()
			fs.Release()
			return nil, err
		}
	} else {
		fs.Seed(params.Seed, params.Amplitude)
	}

	return &session{eng: e, fs: fs, kern: kern, force: force, comps: comps}, nil
}

// close returns the run's buffers in reverse reservation order. Safe to
// call twice.
func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.eng.alloc.Free(s.force)
	s.force = nil
	s.kern.Release()
	s.fs.Release()
}

// report forwards progress to the configured callback, if any.
func (e *Engine) report(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

// takeSample records one trajectory sample in the requested mode.
func (e *Engine) takeSample(mode SampleMode, step int, dt, norm float64, field []float64, comps int) Sample {
	s := Sample{
		Step: step,
		Time: float64(step) * dt,
		Norm: e.narrow(norm),
	}
	switch mode {
	case SampleScalar:
		s.Scalar = e.scalarChannel(field, comps)
	case SampleField:
		s.Field = e.sampleField(field)
	}
	return s
}

// scalarChannel copies the grade-0 coefficient of every site, narrowing
// each value under Float32 precision.
func (e *Engine) scalarChannel(field []float64, comps int) []float64 {
	sites := len(field) / comps
	out := make([]float64, sites)
	for site := 0; site < sites; site++ {
		out[site] = e.narrow(field[site*comps])
	}
	return out
}

// narrow quantizes a sample value to float32 range under Float32
// precision and passes it through unchanged otherwise.
func (e *Engine) narrow(v float64) float64 {
	if e.prec == state.Float32 {
		return float64(float32(v))
	}
	return v
}

// sampleField copies the field for a trajectory sample, narrowing each
// component under Float32 precision.
func (e *Engine) sampleField(field []float64) []float64 {
	out := make([]float64, len(field))
	if e.prec == state.Float32 {
		for i, v := range field {
			out[i] = float64(float32(v))
		}
		return out
	}
	copy(out, field)
	return out
}

// copyField copies the field at full width for the final result.
func copyField(field []float64) []float64 {
	out := make([]float64, len(field))
	copy(out, field)
	return out
}

// fieldNorm computes the global L2 norm over every component in a
// single fixed order.
func fieldNorm(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x * x
	}
	return math.Sqrt(sum)
}
