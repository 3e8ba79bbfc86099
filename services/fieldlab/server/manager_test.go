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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *badger.RunStore) {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := badger.NewRunStore(db)
	return NewManager(cfg, store, nil, quietLogger()), store
}

// quickRelaxSpec converges on the first iteration: a zero-amplitude
// seed leaves nothing to relax.
func quickRelaxSpec() config.RunSpec {
	spec := config.Defaults()
	spec.Algebra = config.AlgebraSpec{P: 1, Q: 2}
	spec.Lattice = config.LatticeSpec{D: 1, L: 4}
	spec.Params.Amplitude = 0
	spec.Workers = 1
	return spec
}

// quickEvolveSpec completes in a handful of steps on a zero field.
func quickEvolveSpec() config.RunSpec {
	spec := quickRelaxSpec()
	spec.Evolution = &config.EvolutionSpec{Steps: 20, SampleEvery: 5, Mode: "scalar"}
	return spec
}

// longEvolveSpec runs long enough to observe and cancel. Evolution
// never tests convergence, so only cancellation ends it early.
func longEvolveSpec() config.RunSpec {
	spec := quickRelaxSpec()
	spec.Params.CheckEvery = 1000
	spec.Evolution = &config.EvolutionSpec{Steps: 50_000_000}
	return spec
}


// waitDone blocks until a run terminates and returns its final status.
func waitDone(t *testing.T, mgr *Manager, id string) RunStatus {
	t.Helper()
	_, done, unsubscribe, err := mgr.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", id, err)
	}
	defer unsubscribe()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("run %s did not finish", id)
	}

	st, err := mgr.Status(id)
	if err != nil {
		t.Fatalf("Status(%s): %v", id, err)
	}
	return st
}

func TestManager_SubmitRelax(t *testing.T) {
	mgr, store := newTestManager(t, ManagerConfig{})

	st, err := mgr.Submit("relax-a", ModeRelax, quickRelaxSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st.ID == "" {
		t.Fatal("Submit returned an empty run ID")
	}
	if st.Name != "relax-a" || st.Mode != ModeRelax {
		t.Errorf("status = %q/%q, want relax-a/relax", st.Name, st.Mode)
	}

	final := waitDone(t, mgr, st.ID)
	if final.State != StateFinished {
		t.Fatalf("State = %q, want finished", final.State)
	}
	if final.Outcome != engine.OutcomeConverged {
		t.Errorf("Outcome = %v, want converged", final.Outcome)
	}
	if final.FinishedAt == nil {
		t.Error("FinishedAt is nil for a finished run")
	}
	if final.Error != "" {
		t.Errorf("Error = %q, want empty", final.Error)
	}

	// The record is persisted before the run is marked done.
	rec, err := store.GetRun(context.Background(), "relax-a", st.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Outcome != engine.OutcomeConverged || rec.Mode != ModeRelax {
		t.Errorf("record = %v/%q, want converged/relax", rec.Outcome, rec.Mode)
	}
	if rec.Spec.Lattice.L != 4 {
		t.Errorf("record spec L = %d, want 4", rec.Spec.Lattice.L)
	}
}

func TestManager_SubmitEvolve(t *testing.T) {
	mgr, store := newTestManager(t, ManagerConfig{})

	st, err := mgr.Submit("evolve-a", ModeEvolve, quickEvolveSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitDone(t, mgr, st.ID)
	if final.Outcome != engine.OutcomeCompleted {
		t.Fatalf("Outcome = %v, want completed", final.Outcome)
	}

	rec, err := store.GetRun(context.Background(), "evolve-a", st.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Iterations != 20 {
		t.Errorf("Iterations = %d, want 20", rec.Iterations)
	}
	// Steps 20 sampled every 5: steps 5, 10, 15, 20.
	if len(rec.Samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(rec.Samples))
	}
	for i, s := range rec.Samples {
		if want := (i + 1) * 5; s.Step != want {
			t.Errorf("Samples[%d].Step = %d, want %d", i, s.Step, want)
		}
		if s.Norm != 0 || s.ScalarMean != 0 {
			t.Errorf("Samples[%d] nonzero for a zero field: %+v", i, s)
		}
	}
}

func TestManager_RejectsInvalid(t *testing.T) {
	mgr, store := newTestManager(t, ManagerConfig{})

	multi := quickRelaxSpec()
	multi.Lattice = config.LatticeSpec{D: 2, Scales: []int{4, 8}}

	badLattice := quickRelaxSpec()
	badLattice.Lattice.D = 0

	evolveNoBlock := quickRelaxSpec()

	tests := []struct {
		name string
		run  string
		mode string
		spec config.RunSpec
	}{
		{"invalid run name", "Bad Name", ModeRelax, quickRelaxSpec()},
		{"invalid mode", "ok-name", "anneal", quickRelaxSpec()},
		{"evolve without evolution block", "ok-name", ModeEvolve, evolveNoBlock},
		{"multi-scale spec", "ok-name", ModeRelax, multi},
		{"invalid lattice", "ok-name", ModeRelax, badLattice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mgr.Submit(tt.run, tt.mode, tt.spec); err == nil {
				t.Fatal("Submit accepted an invalid submission")
			}
		})
	}

	if got := mgr.Runs(); len(got) != 0 {
		t.Errorf("invalid submissions left %d tracked runs", len(got))
	}
	names, err := store.Names(context.Background())
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("invalid submissions stored records under %v", names)
	}
}

func TestManager_BusyRejection(t *testing.T) {
	mgr, _ := newTestManager(t, ManagerConfig{MaxConcurrent: 1})

	st, err := mgr.Submit("hog", ModeEvolve, longEvolveSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := mgr.Submit("waiter", ModeRelax, quickRelaxSpec()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Submit error = %v, want ErrBusy", err)
	}

	if _, err := mgr.Cancel(st.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitDone(t, mgr, st.ID)

	// The slot is free again once the run terminates.
	st2, err := mgr.Submit("waiter", ModeRelax, quickRelaxSpec())
	if err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
	waitDone(t, mgr, st2.ID)
}

func TestManager_Cancel(t *testing.T) {
	mgr, store := newTestManager(t, ManagerConfig{})

	st, err := mgr.Submit("long-run", ModeEvolve, longEvolveSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := mgr.Cancel(st.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitDone(t, mgr, st.ID)
	if final.Outcome != engine.OutcomeCanceled {
		t.Errorf("Outcome = %v, want canceled", final.Outcome)
	}
	if final.Error == "" {
		t.Error("canceled run carries no error")
	}

	// Canceling a finished run is a conflict, not a repeat.
	if _, err := mgr.Cancel(st.ID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("second Cancel error = %v, want ErrRunFinished", err)
	}

	// A canceled run still leaves a record.
	rec, err := store.GetRun(context.Background(), "long-run", st.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Outcome != engine.OutcomeCanceled {
		t.Errorf("record outcome = %v, want canceled", rec.Outcome)
	}
}

func TestManager_UnknownRun(t *testing.T) {
	mgr, _ := newTestManager(t, ManagerConfig{})

	if _, err := mgr.Status("no-such-id"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("Status error = %v, want ErrUnknownRun", err)
	}
	if _, err := mgr.Cancel("no-such-id"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("Cancel error = %v, want ErrUnknownRun", err)
	}
	if _, _, _, err := mgr.Subscribe("no-such-id"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("Subscribe error = %v, want ErrUnknownRun", err)
	}
}

func TestManager_SubscribeReceivesProgress(t *testing.T) {
	mgr, _ := newTestManager(t, ManagerConfig{})

	// A long evolution emits progress on every stability check, so the
	// subscriber sees a steady stream until the run is canceled.
	st, err := mgr.Submit("progress-run", ModeEvolve, longEvolveSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events, done, unsubscribe, err := mgr.Subscribe(st.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	var received []ProgressEvent
	deadline := time.After(30 * time.Second)
	for len(received) < 3 {
		select {
		case ev := <-events:
			received = append(received, ev)
		case <-done:
			t.Fatal("run finished before any progress was observed")
		case <-deadline:
			t.Fatal("no progress events within the deadline")
		}
	}

	for _, ev := range received {
		if ev.RunID != st.ID {
			t.Errorf("event RunID = %q, want %q", ev.RunID, st.ID)
		}
		if ev.Mode != "evolve" {
			t.Errorf("event Mode = %q, want evolve", ev.Mode)
		}
		if ev.Iteration < 1 || ev.Iteration > ev.Total {
			t.Errorf("event iteration %d out of range 1..%d", ev.Iteration, ev.Total)
		}
	}

	if _, err := mgr.Cancel(st.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	final := waitDone(t, mgr, st.ID)
	if final.Outcome != engine.OutcomeCanceled {
		t.Errorf("Outcome = %v, want canceled", final.Outcome)
	}

	// A live status snapshot carries the latest observed progress.
	if final.Iteration < 1 {
		t.Errorf("final Iteration = %d, want at least 1", final.Iteration)
	}
}

func TestManager_FinishedEviction(t *testing.T) {
	mgr, store := newTestManager(t, ManagerConfig{MaxFinished: 2})

	ids := make([]string, 3)
	for i := range ids {
		st, err := mgr.Submit("evicted", ModeRelax, quickRelaxSpec())
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		ids[i] = st.ID
		waitDone(t, mgr, st.ID)
	}

	if _, err := mgr.Status(ids[0]); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("oldest run still tracked, Status error = %v", err)
	}
	for _, id := range ids[1:] {
		if _, err := mgr.Status(id); err != nil {
			t.Errorf("Status(%s): %v", id, err)
		}
	}
	if got := len(mgr.Runs()); got != 2 {
		t.Errorf("Runs() = %d entries, want 2", got)
	}

	// Eviction only drops the in-memory handle; records stay stored.
	recs, err := store.ListRuns(context.Background(), "evicted")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("store has %d records, want 3", len(recs))
	}
}

func TestManager_Shutdown(t *testing.T) {
	mgr, _ := newTestManager(t, ManagerConfig{})

	st, err := mgr.Submit("draining", ModeEvolve, longEvolveSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	final, err := mgr.Status(st.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if final.State != StateFinished {
		t.Errorf("State = %q after Shutdown, want finished", final.State)
	}
	if final.Outcome != engine.OutcomeCanceled {
		t.Errorf("Outcome = %v, want canceled", final.Outcome)
	}
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	if cfg.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.MaxConcurrent)
	}
	if cfg.MaxFinished != 128 {
		t.Errorf("MaxFinished = %d, want 128", cfg.MaxFinished)
	}
	if cfg.StoreTimeout != 10*time.Second {
		t.Errorf("StoreTimeout = %v, want 10s", cfg.StoreTimeout)
	}
	if cfg.EventBuffer != 64 {
		t.Errorf("EventBuffer = %d, want 64", cfg.EventBuffer)
	}
}

func TestNewManager_NormalizesConfig(t *testing.T) {
	mgr, _ := newTestManager(t, ManagerConfig{MaxConcurrent: -3})
	if mgr.cfg.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want default 2", mgr.cfg.MaxConcurrent)
	}
	if mgr.cfg.EventBuffer != 64 {
		t.Errorf("EventBuffer = %d, want default 64", mgr.cfg.EventBuffer)
	}
}
