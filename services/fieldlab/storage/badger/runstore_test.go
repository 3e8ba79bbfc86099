// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/explore"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRunStore(db)
}

func testResult() engine.RunResult {
	return engine.RunResult{
		Outcome:    engine.OutcomeCompleted,
		Iterations: 20,
		FinalNorm:  1.25,
		Residual:   0.003,
		Elapsed:    15 * time.Millisecond,
		NormSeries: []engine.NormPoint{
			{Iteration: 10, Norm: 1.3},
			{Iteration: 20, Norm: 1.25},
		},
		Samples: []engine.Sample{
			{Step: 10, Time: 0.1, Norm: 1.3, Scalar: []float64{1, 2, 3, 2}},
			{Step: 20, Time: 0.2, Norm: 1.25, Scalar: []float64{2, 2, 2, 2}},
		},
		Field: []float64{0.5, 0.25},
	}
}

// TestNewRecord verifies result reduction into a storable record.
func TestNewRecord(t *testing.T) {
	spec := config.Defaults()
	rec := NewRecord("ground", "evolve", spec, testResult(), 4)

	assert.Equal(t, "ground", rec.Name)
	assert.Equal(t, "evolve", rec.Mode)
	assert.Equal(t, engine.OutcomeCompleted, rec.Outcome)
	assert.Equal(t, 20, rec.Iterations)
	assert.Equal(t, 1.25, rec.FinalNorm)
	assert.Equal(t, spec.Lattice.L, rec.Spec.Lattice.L)

	// Samples keep norm and mean scalar, never per-site payloads
	require.Len(t, rec.Samples, 2)
	assert.Equal(t, 10, rec.Samples[0].Step)
	assert.InDelta(t, 2.0, rec.Samples[0].ScalarMean, 1e-12)
	assert.InDelta(t, 2.0, rec.Samples[1].ScalarMean, 1e-12)
	require.Len(t, rec.NormSeries, 2)

	// Store-assigned fields stay empty until PutRun
	assert.Empty(t, rec.ID)
	assert.True(t, rec.CreatedAt.IsZero())
}

// TestNewRecord_FieldSamples verifies the scalar channel is read out of
// full-field payloads.
func TestNewRecord_FieldSamples(t *testing.T) {
	res := engine.RunResult{
		Outcome: engine.OutcomeCompleted,
		Samples: []engine.Sample{
			// Two sites, three coefficients each; scalar channel 2 and 4
			{Step: 1, Time: 0.01, Norm: 1, Field: []float64{2, 9, 9, 4, 9, 9}},
		},
	}
	rec := NewRecord("field-run", "evolve", config.Defaults(), res, 3)
	require.Len(t, rec.Samples, 1)
	assert.InDelta(t, 3.0, rec.Samples[0].ScalarMean, 1e-12)
}

// TestNewRecord_SanitizesNonFinite verifies diverged results stay
// JSON-encodable.
func TestNewRecord_SanitizesNonFinite(t *testing.T) {
	res := engine.RunResult{
		Outcome:    engine.OutcomeDiverged,
		Iterations: 12,
		FinalNorm:  math.Inf(1),
		Residual:   math.NaN(),
		NormSeries: []engine.NormPoint{
			{Iteration: 10, Norm: 1e8},
			{Iteration: 12, Norm: math.Inf(1)},
		},
		Samples: []engine.Sample{
			{Step: 12, Time: 0.12, Norm: math.NaN()},
		},
	}
	rec := NewRecord("blowup", "evolve", config.Defaults(), res, 0)

	assert.Zero(t, rec.FinalNorm)
	assert.Zero(t, rec.Residual)
	assert.Equal(t, 1e8, rec.NormSeries[0].Norm)
	assert.Zero(t, rec.NormSeries[1].Norm)
	assert.Zero(t, rec.Samples[0].Norm)

	_, err := json.Marshal(rec)
	require.NoError(t, err)
}

// TestRunStore_PutGet verifies the round trip through the store.
func TestRunStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stored, err := store.PutRun(ctx, NewRecord("ground", "relax", config.Defaults(), testResult(), 4))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	got, err := store.GetRun(ctx, "ground", stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, stored.Outcome, got.Outcome)
	assert.Equal(t, stored.FinalNorm, got.FinalNorm)
	require.Len(t, got.Samples, 2)
	assert.Equal(t, stored.Samples[1].ScalarMean, got.Samples[1].ScalarMean)
}

// TestRunStore_RejectsInvalidName verifies names are checked before
// they reach a key.
func TestRunStore_RejectsInvalidName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.PutRun(ctx, RunRecord{Name: "Bad:Name"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run name")

	_, err = store.ListRuns(ctx, "")
	assert.Error(t, err)

	_, err = store.TrialSink("no spaces")
	assert.Error(t, err)
}

// TestRunStore_GetNotFound verifies the not-found sentinel.
func TestRunStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "ground", "no-such-id")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestRunStore_ListChronological verifies records come back oldest
// first regardless of insertion order.
func TestRunStore_ListChronological(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)

	// Insert out of order with explicit timestamps
	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		rec := NewRecord("sweep", "evolve", config.Defaults(), testResult(), 4)
		rec.CreatedAt = base.Add(offset)
		_, err := store.PutRun(ctx, rec)
		require.NoError(t, err)
	}

	recs, err := store.ListRuns(ctx, "sweep")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, base, recs[0].CreatedAt)
	assert.Equal(t, base.Add(time.Hour), recs[1].CreatedAt)
	assert.Equal(t, base.Add(2*time.Hour), recs[2].CreatedAt)
}

// TestRunStore_NamesAndDelete verifies name listing and bulk deletion.
func TestRunStore_NamesAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "alpha"} {
		_, err := store.PutRun(ctx, NewRecord(name, "relax", config.Defaults(), testResult(), 4))
		require.NoError(t, err)
	}

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	deleted, err := store.DeleteRuns(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// Other names are untouched
	names, err = store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta"}, names)

	recs, err := store.ListRuns(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// TestRunStore_TrialSink verifies trial storage through the explore
// store interface.
func TestRunStore_TrialSink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sink, err := store.TrialSink("coupling-scan")
	require.NoError(t, err)

	// Store out of index order; listing restores sampling order
	trials := []explore.Trial{
		{ID: "t2", Index: 2, Scored: true, Score: 0.08},
		{ID: "t0", Index: 0, Scored: true, Score: 0.12},
		{ID: "t1", Index: 1, Note: "diverged at L=8"},
	}
	for _, tr := range trials {
		require.NoError(t, sink.PutTrial(ctx, tr))
	}

	listed, err := store.ListTrials(ctx, "coupling-scan")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "t0", listed[0].ID)
	assert.Equal(t, "t1", listed[1].ID)
	assert.Equal(t, "t2", listed[2].ID)
	assert.Equal(t, "diverged at L=8", listed[1].Note)

	best, err := store.BestTrial(ctx, "coupling-scan")
	require.NoError(t, err)
	assert.Equal(t, "t2", best.ID)

	// Unknown search has nothing scored
	_, err = store.BestTrial(ctx, "untouched")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestRunStore_Persistence verifies records survive a reopen.
func TestRunStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	stored, err := NewRunStore(db).PutRun(ctx, NewRecord("durable", "relax", config.Defaults(), testResult(), 4))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := OpenDB(cfg)
	require.NoError(t, err)
	defer db2.Close()

	got, err := NewRunStore(db2).GetRun(ctx, "durable", stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, stored.FinalNorm, got.FinalNorm)
}
