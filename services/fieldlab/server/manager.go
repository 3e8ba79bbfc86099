// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/CliffordLab/pkg/validation"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/state"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/influx"
)

// ManagerConfig bounds the run manager.
type ManagerConfig struct {
	// MaxConcurrent is the number of runs allowed to execute at once.
	// A full manager rejects submissions with ErrBusy instead of
	// queueing; a lattice run holds real memory, so the bound is hard.
	MaxConcurrent int64

	// MaxFinished is how many finished runs stay queryable by ID.
	// Older ones are evicted; their records remain in the store.
	MaxFinished int

	// StoreTimeout caps persistence of a finished run.
	StoreTimeout time.Duration

	// EventBuffer sizes the per-run progress channel. Progress beyond
	// the buffer is dropped, never blocked on.
	EventBuffer int
}

// DefaultManagerConfig returns the service defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent: 2,
		MaxFinished:   128,
		StoreTimeout:  10 * time.Second,
		EventBuffer:   64,
	}
}

// Manager owns the lifecycle of field runs: admission, execution,
// progress fan-out, persistence, cancellation.
//
// # Description
//
//	Submissions are validated and their model and lattice built before
//	a run slot is taken, so config errors never consume capacity. Each
//	admitted run executes on its own goroutine with a detached context;
//	it outlives the HTTP request that started it. Progress flows from
//	the engine callback through a buffered channel to subscribers and
//	the optional Influx sink. Finished runs are reduced and written to
//	the store, then stay queryable by ID until evicted.
//
// # Thread Safety
//
//	Safe for concurrent use.
type Manager struct {
	cfg    ManagerConfig
	store  *badger.RunStore
	sink   *influx.SeriesSink
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu        sync.RWMutex
	runs      map[string]*runEntry
	doneOrder []string
}

// NewManager creates a run manager over an open store.
//
// # Inputs
//
//   - cfg: bounds; zero fields fall back to DefaultManagerConfig.
//   - store: required; finished runs are persisted here.
//   - sink: optional live telemetry sink, may be nil.
//   - logger: optional; defaults to slog.Default().
func NewManager(cfg ManagerConfig, store *badger.RunStore, sink *influx.SeriesSink, logger *slog.Logger) *Manager {
	def := DefaultManagerConfig()
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxFinished < 1 {
		cfg.MaxFinished = def.MaxFinished
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = def.EventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		sink:   sink,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		runs:   make(map[string]*runEntry),
	}
}

// runEntry is the manager's handle on one run.
type runEntry struct {
	id        string
	name      string
	mode      string
	startedAt time.Time
	cancel    context.CancelFunc
	events    chan engine.Progress
	done      chan struct{}

	mu         sync.RWMutex
	last       engine.Progress
	finishedAt time.Time
	outcome    engine.Outcome
	runErr     error
	subs       map[chan ProgressEvent]struct{}
}

func (e *runEntry) status() RunStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := RunStatus{
		ID:        e.id,
		Name:      e.name,
		Mode:      e.mode,
		State:     StateRunning,
		StartedAt: e.startedAt,
		Iteration: e.last.Iteration,
		Total:     e.last.Total,
		Norm:      finiteOrZero(e.last.Norm),
		Residual:  finiteOrZero(e.last.Residual),
	}
	if !e.finishedAt.IsZero() {
		st.State = StateFinished
		at := e.finishedAt
		st.FinishedAt = &at
		st.Outcome = e.outcome
		if e.runErr != nil {
			st.Error = e.runErr.Error()
		}
	}
	return st
}

// publish records the latest progress and fans it out. Slow
// subscribers lose events rather than slowing the run.
func (e *runEntry) publish(p engine.Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = p
	ev := newProgressEvent(e.id, p)
	for sub := range e.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

func (e *runEntry) subscribe(buffer int) (chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, buffer)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		delete(e.subs, ch)
		e.mu.Unlock()
	}
	return ch, unsubscribe
}

// runJob carries everything execute needs, built before admission.
type runJob struct {
	model    *algebra.Model
	lat      lattice.Lattice
	prec     state.Precision
	spec     config.RunSpec
	params   engine.Params
	evolve   engine.EvolveSpec
	isEvolve bool
}

// Submit validates, admits and starts one run.
//
// # Outputs
//
//   - RunStatus: the running handle; its ID also keys the stored
//     record.
//   - error: validation errors, or ErrBusy when no slot is free.
func (m *Manager) Submit(name, mode string, spec config.RunSpec) (RunStatus, error) {
	st, err := m.submit(name, mode, spec)
	switch {
	case err == nil:
		recordSubmission(context.Background(), "accepted")
		recordRunActive(context.Background(), 1)
	case errors.Is(err, ErrBusy):
		recordSubmission(context.Background(), "busy")
	default:
		recordSubmission(context.Background(), "invalid")
	}
	return st, err
}

func (m *Manager) submit(name, mode string, spec config.RunSpec) (RunStatus, error) {
	if err := validation.ValidateRunName(name); err != nil {
		return RunStatus{}, err
	}
	switch mode {
	case ModeRelax, ModeEvolve:
	default:
		return RunStatus{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err := spec.Validate(); err != nil {
		return RunStatus{}, err
	}
	if len(spec.Lattice.Scales) > 0 {
		return RunStatus{}, fmt.Errorf("%w: multi-scale specs run through the explorer, not single runs", config.ErrInvalidSpec)
	}

	evolve, hasEvolve, err := spec.EngineEvolve()
	if err != nil {
		return RunStatus{}, err
	}
	if mode == ModeEvolve && !hasEvolve {
		return RunStatus{}, fmt.Errorf("%w: evolve mode needs an evolution block", config.ErrInvalidSpec)
	}

	job := runJob{
		spec:     spec,
		params:   spec.EngineParams(),
		evolve:   evolve,
		isEvolve: mode == ModeEvolve,
	}
	if job.model, err = spec.Model(); err != nil {
		return RunStatus{}, err
	}
	lats, err := spec.Lattices()
	if err != nil {
		return RunStatus{}, err
	}
	job.lat = lats[0]
	if job.prec, err = spec.StatePrecision(); err != nil {
		return RunStatus{}, err
	}

	if !m.sem.TryAcquire(1) {
		return RunStatus{}, ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &runEntry{
		id:        uuid.NewString(),
		name:      name,
		mode:      mode,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		events:    make(chan engine.Progress, m.cfg.EventBuffer),
		done:      make(chan struct{}),
		subs:      make(map[chan ProgressEvent]struct{}),
	}

	m.mu.Lock()
	m.runs[entry.id] = entry
	m.mu.Unlock()

	go m.execute(ctx, entry, job)
	return entry.status(), nil
}

// execute runs the job to completion and persists the result.
func (m *Manager) execute(ctx context.Context, e *runEntry, job runJob) {
	defer m.sem.Release(1)
	defer e.cancel()

	logger := m.logger.With(
		slog.String("run_id", e.id),
		slog.String("run", e.name),
		slog.String("mode", e.mode),
	)

	pumpDone := make(chan struct{})
	go m.pump(e, pumpDone)

	var (
		res    engine.RunResult
		runErr error
	)
	eng, err := engine.New(job.model,
		engine.WithWorkers(job.spec.Workers),
		engine.WithPrecision(job.prec),
		engine.WithLogger(logger),
		engine.WithProgress(func(p engine.Progress) {
			// Never block the run goroutine on a slow consumer.
			select {
			case e.events <- p:
			default:
			}
		}),
	)
	if err != nil {
		runErr = err
	} else if job.isEvolve {
		res, runErr = eng.Evolve(ctx, job.lat, nil, job.params, job.evolve)
	} else {
		res, runErr = eng.Relax(ctx, job.lat, nil, job.params)
	}

	close(e.events)
	<-pumpDone

	// An empty outcome means the run never started (config or setup
	// error); there is nothing worth a record.
	if res.Outcome != "" {
		rec := badger.NewRecord(e.name, e.mode, job.spec, res, job.model.BladeCount())
		rec.ID = e.id
		sctx, scancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
		if _, serr := m.store.PutRun(sctx, rec); serr != nil {
			logger.Error("Failed to store run record", slog.String("error", serr.Error()))
		}
		scancel()

		if m.sink != nil {
			wctx, wcancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
			if werr := m.sink.WriteResult(wctx, e.name, e.mode, res); werr != nil {
				logger.Warn("Failed to write run summary point", slog.String("error", werr.Error()))
			}
			wcancel()
		}
	}

	m.finishEntry(e, res.Outcome, runErr)
	recordRunActive(context.Background(), -1)

	if runErr != nil {
		logger.Warn("Run finished with error",
			slog.String("outcome", string(res.Outcome)),
			slog.String("error", runErr.Error()))
	} else {
		logger.Info("Run finished",
			slog.String("outcome", string(res.Outcome)),
			slog.Int("iterations", res.Iterations),
			slog.Duration("elapsed", res.Elapsed))
	}
}

// pump forwards progress to subscribers and the Influx sink. It runs
// apart from the engine goroutine so sink latency never stalls a run.
func (m *Manager) pump(e *runEntry, done chan struct{}) {
	defer close(done)
	for p := range e.events {
		e.publish(p)
		if m.sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := m.sink.WriteProgress(ctx, e.name, p); err != nil {
			m.logger.Debug("Progress point dropped", slog.String("error", err.Error()))
		}
		cancel()
	}
}

// finishEntry marks the entry terminal and evicts the oldest finished
// runs beyond the retention bound.
func (m *Manager) finishEntry(e *runEntry, outcome engine.Outcome, runErr error) {
	e.mu.Lock()
	e.finishedAt = time.Now().UTC()
	e.outcome = outcome
	e.runErr = runErr
	e.mu.Unlock()
	close(e.done)

	m.mu.Lock()
	m.doneOrder = append(m.doneOrder, e.id)
	for len(m.doneOrder) > m.cfg.MaxFinished {
		evict := m.doneOrder[0]
		m.doneOrder = m.doneOrder[1:]
		delete(m.runs, evict)
	}
	m.mu.Unlock()
}

// Status returns the current view of one run.
func (m *Manager) Status(id string) (RunStatus, error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return RunStatus{}, fmt.Errorf("run %s: %w", id, ErrUnknownRun)
	}
	return e.status(), nil
}

// Runs lists every tracked run, oldest first.
func (m *Manager) Runs() []RunStatus {
	m.mu.RLock()
	statuses := make([]RunStatus, 0, len(m.runs))
	for _, e := range m.runs {
		statuses = append(statuses, e.status())
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].StartedAt.Equal(statuses[j].StartedAt) {
			return statuses[i].ID < statuses[j].ID
		}
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})
	return statuses
}

// Cancel asks a running run to stop. The run still terminates through
// its normal path and is recorded with a canceled outcome.
func (m *Manager) Cancel(id string) (RunStatus, error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return RunStatus{}, fmt.Errorf("run %s: %w", id, ErrUnknownRun)
	}

	select {
	case <-e.done:
		return e.status(), fmt.Errorf("run %s: %w", id, ErrRunFinished)
	default:
	}
	e.cancel()
	return e.status(), nil
}

// Subscribe attaches a progress listener to a run.
//
// # Outputs
//
//   - events: buffered progress stream; slow readers lose events.
//   - done: closed when the run terminates.
//   - unsubscribe: must be called to detach the listener.
//   - error: ErrUnknownRun when the ID is not tracked.
func (m *Manager) Subscribe(id string) (<-chan ProgressEvent, <-chan struct{}, func(), error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("run %s: %w", id, ErrUnknownRun)
	}
	ch, unsubscribe := e.subscribe(m.cfg.EventBuffer)
	return ch, e.done, unsubscribe, nil
}

// Shutdown cancels every active run and waits for them to finish or
// the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	entries := make([]*runEntry, 0, len(m.runs))
	for _, e := range m.runs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
