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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/CliffordLab/pkg/validation"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/explore"
)

// ErrNotFound is returned when no record matches the requested key.
var ErrNotFound = errors.New("record not found")

const (
	runPrefix   = "run:"
	trialPrefix = "trial:"
)

// Keys embed the creation time (runs) or sampling index (trials), so a
// prefix scan comes back in chronological or sampling order. Run names
// are validated before they enter a key, which keeps the separator out
// of the name segment.
func runKey(name string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", runPrefix, name, at.UnixNano(), id))
}

func runNamePrefix(name string) []byte {
	return []byte(runPrefix + name + ":")
}

func trialKey(search string, index int, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%06d:%s", trialPrefix, search, index, id))
}

func trialSearchPrefix(search string) []byte {
	return []byte(trialPrefix + search + ":")
}

// SamplePoint is the reduced form of one trajectory sample: global norm
// and volume-averaged scalar channel, without per-site payloads.
type SamplePoint struct {
	Step       int     `json:"step"`
	Time       float64 `json:"time"`
	Norm       float64 `json:"norm"`
	ScalarMean float64 `json:"scalar_mean"`
}

// RunRecord is what the store keeps of a finished run.
type RunRecord struct {
	// ID identifies the record; assigned on first store when empty.
	ID string `json:"id"`

	// Name is the validated run name records are grouped under.
	Name string `json:"name"`

	// Mode is the run mode, "relax" or "evolve".
	Mode string `json:"mode"`

	// Spec is the full run spec, kept for reproduction.
	Spec config.RunSpec `json:"spec"`

	// Outcome through Elapsed summarize the run result.
	Outcome    engine.Outcome `json:"outcome"`
	Iterations int            `json:"iterations"`
	FinalNorm  float64        `json:"final_norm"`
	Residual   float64        `json:"residual"`
	Elapsed    time.Duration  `json:"elapsed"`

	// NormSeries is the stability trajectory of the run.
	NormSeries []engine.NormPoint `json:"norm_series,omitempty"`

	// Samples is the reduced trajectory, enough to re-run spectra.
	Samples []SamplePoint `json:"samples,omitempty"`

	// CreatedAt orders records within a name; assigned on first store
	// when zero.
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord reduces a run result to its storable record.
//
// # Description
//
//	Field payloads are dropped and trajectory samples are reduced to
//	their norm plus the volume-averaged scalar channel; comps is the
//	per-site coefficient count, used to read the scalar channel out of
//	full-field samples. Non-finite values are stored as zero so the
//	record stays JSON-encodable; the outcome already says why they were
//	non-finite.
func NewRecord(name, mode string, spec config.RunSpec, res engine.RunResult, comps int) RunRecord {
	rec := RunRecord{
		Name:       name,
		Mode:       mode,
		Spec:       spec,
		Outcome:    res.Outcome,
		Iterations: res.Iterations,
		FinalNorm:  finiteOrZero(res.FinalNorm),
		Residual:   finiteOrZero(res.Residual),
		Elapsed:    res.Elapsed,
	}
	if len(res.NormSeries) > 0 {
		rec.NormSeries = make([]engine.NormPoint, len(res.NormSeries))
		for i, p := range res.NormSeries {
			rec.NormSeries[i] = engine.NormPoint{Iteration: p.Iteration, Norm: finiteOrZero(p.Norm)}
		}
	}
	if len(res.Samples) > 0 {
		rec.Samples = make([]SamplePoint, len(res.Samples))
		for i, s := range res.Samples {
			rec.Samples[i] = SamplePoint{
				Step:       s.Step,
				Time:       s.Time,
				Norm:       finiteOrZero(s.Norm),
				ScalarMean: finiteOrZero(scalarMean(s, comps)),
			}
		}
	}
	return rec
}

// scalarMean averages the grade-0 channel of one sample, whichever
// payload it carries.
func scalarMean(s engine.Sample, comps int) float64 {
	if len(s.Scalar) > 0 {
		var sum float64
		for _, v := range s.Scalar {
			sum += v
		}
		return sum / float64(len(s.Scalar))
	}
	if comps > 0 && len(s.Field) >= comps {
		sites := len(s.Field) / comps
		var sum float64
		for site := 0; site < sites; site++ {
			sum += s.Field[site*comps]
		}
		return sum / float64(sites)
	}
	return 0
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// RunStore keeps run records and search trials as JSON values under
// validated, prefix-scannable keys.
//
// # Thread Safety
//
//	Safe for concurrent use.
type RunStore struct {
	db *DB
}

// NewRunStore wraps an open database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// PutRun stores one run record.
//
// # Description
//
//	Assigns ID and CreatedAt when they are empty and returns the
//	completed record. The name must pass run-name validation; it
//	becomes a key segment.
func (s *RunStore) PutRun(ctx context.Context, rec RunRecord) (RunRecord, error) {
	if err := validation.ValidateRunName(rec.Name); err != nil {
		return RunRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode run record: %w", err)
	}
	key := runKey(rec.Name, rec.CreatedAt, rec.ID)
	if err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return RunRecord{}, fmt.Errorf("store run %s: %w", rec.Name, err)
	}
	return rec, nil
}

// GetRun returns one record by name and ID.
func (s *RunStore) GetRun(ctx context.Context, name, id string) (RunRecord, error) {
	if err := validation.ValidateRunName(name); err != nil {
		return RunRecord{}, err
	}

	var (
		rec   RunRecord
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runNamePrefix(name)
		it := txn.NewIterator(opts)
		defer it.Close()

		suffix := []byte(":" + id)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !bytes.HasSuffix(item.Key(), suffix) {
				continue
			}
			found = true
			return item.Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
		}
		return nil
	})
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s/%s: %w", name, id, err)
	}
	if !found {
		return RunRecord{}, fmt.Errorf("run %s/%s: %w", name, id, ErrNotFound)
	}
	return rec, nil
}

// ListRuns returns a name's records, oldest first.
func (s *RunStore) ListRuns(ctx context.Context, name string) ([]RunRecord, error) {
	if err := validation.ValidateRunName(name); err != nil {
		return nil, err
	}

	var recs []RunRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runNamePrefix(name)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", name, err)
	}
	return recs, nil
}

// Names returns the distinct run names in the store, sorted.
func (s *RunStore) Names(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			parts := strings.SplitN(key, ":", 3)
			if len(parts) >= 2 {
				seen[parts[1]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list run names: %w", err)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteRuns removes every record under a name and reports how many
// were deleted.
func (s *RunStore) DeleteRuns(ctx context.Context, name string) (int, error) {
	if err := validation.ValidateRunName(name); err != nil {
		return 0, err
	}

	deleted := 0
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		// Collect first: the iterator must be closed before writes.
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = runNamePrefix(name)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete runs %s: %w", name, err)
	}
	return deleted, nil
}

// TrialSink files search trials under a search name, satisfying
// explore's TrialStore.
type TrialSink struct {
	store  *RunStore
	search string
}

var _ explore.TrialStore = (*TrialSink)(nil)

// TrialSink returns a sink bound to a validated search name.
func (s *RunStore) TrialSink(search string) (*TrialSink, error) {
	if err := validation.ValidateRunName(search); err != nil {
		return nil, err
	}
	return &TrialSink{store: s, search: search}, nil
}

// PutTrial stores one finished trial.
//
// Thread Safety: Safe for concurrent use.
func (ts *TrialSink) PutTrial(ctx context.Context, t explore.Trial) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trial: %w", err)
	}
	key := trialKey(ts.search, t.Index, t.ID)
	if err := ts.store.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return fmt.Errorf("store trial %s: %w", t.ID, err)
	}
	return nil
}

// ListTrials returns a search's stored trials in sampling order.
func (s *RunStore) ListTrials(ctx context.Context, search string) ([]explore.Trial, error) {
	if err := validation.ValidateRunName(search); err != nil {
		return nil, err
	}

	var trials []explore.Trial
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = trialSearchPrefix(search)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var tr explore.Trial
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &tr)
			}); err != nil {
				return err
			}
			trials = append(trials, tr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list trials %s: %w", search, err)
	}
	return trials, nil
}

// BestTrial returns the lowest-scoring stored trial of a search. Ties
// go to the lower index, matching the search's own selection.
func (s *RunStore) BestTrial(ctx context.Context, search string) (explore.Trial, error) {
	trials, err := s.ListTrials(ctx, search)
	if err != nil {
		return explore.Trial{}, err
	}

	var (
		best  explore.Trial
		found bool
	)
	for _, tr := range trials {
		if !tr.Scored {
			continue
		}
		if !found || tr.Score < best.Score || (tr.Score == best.Score && tr.Index < best.Index) {
			best, found = tr, true
		}
	}
	if !found {
		return explore.Trial{}, fmt.Errorf("search %s has no scored trials: %w", search, ErrNotFound)
	}
	return best, nil
}
