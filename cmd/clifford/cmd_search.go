// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/explore"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	sweepConfigPath  string // YAML run spec to load
	sweepName        string // Store name for the per-scale records
	sweepScales      []int  // Lattice sides to sweep
	sweepSteps       int    // Evolution steps per scale
	sweepSampleEvery int    // Sample cadence in steps
	sweepConcurrency int    // Scales run at once
	sweepNoStore     bool   // Skip persisting the per-scale records

	searchConfigPath  string // YAML run spec supplying the base parameters
	searchName        string // Store name for the trial records
	searchScales      []int  // Lattice sides each trial sweeps
	searchSteps       int    // Evolution steps per scale
	searchSampleEvery int    // Sample cadence in steps
	searchTrials      int    // Sampling budget
	searchSeed        uint64 // Coupling stream seed
	searchLambdaD     string // LambdaD range, "min:max" or a pinned value
	searchLambdaPG0   string // LambdaPG0 range
	searchDamping     string // Damping range
	searchConcurrency int    // Trials run at once
	searchNoStore     bool   // Skip persisting the trials
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// sweepCmd evolves one configuration across a ladder of lattice sides.
//
// # Description
//
// Runs the same couplings on every side in the ladder, extracts the
// spectral peaks of each sampled trajectory, and fits the leading mass
// to m(L) = m + c/L² for the infinite-volume estimate. Per-scale runs
// are stored under one name so the ladder can be inspected later.
//
// # Examples
//
//	clifford sweep                          # Defaults on L = 8, 12, 16
//	clifford sweep --scales 8,16,32
//	clifford sweep -c sweep.yaml --steps 8192
//
// # Exit Codes
//
//	0 - sweep completed and at least one scale stayed stable
//	1 - sweep aborted, or every scale diverged or collapsed
//	2 - flags or config file did not make a valid sweep
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evolve one configuration across several lattice scales",
	Long: `Evolves the same field configuration on a ladder of lattice sides and
extrapolates the leading spectral mass to infinite volume.

Each scale is an independent evolution run; scales run concurrently up
to --concurrency. The per-scale spectra and the continuum fit are
printed, and each scale's run record is stored under the sweep name.

Examples:
  clifford sweep
  clifford sweep --scales 8,16,32 --steps 8192
  clifford sweep -c couplings.yaml --no-store`,
	Run: runSweepCommand,
}

// searchCmd samples coupling space for spectra matching a mass ladder.
//
// # Description
//
// Draws random couplings from the given ranges, sweeps each draw across
// the scale ladder, and scores the resulting mass ratios against the
// built-in reference table. Trials persist as they finish, so a search
// can be watched from another terminal and survives interruption with
// its completed trials intact.
//
// # Examples
//
//	clifford search --trials 64
//	clifford search --lambda-d 0.2:0.8 --damping 0.1:0.3
//	clifford search --search-seed 7 --trials 128 --concurrency 4
//
// # Exit Codes
//
//	0 - at least one trial produced a scored spectrum
//	1 - search aborted, or no trial could be scored
//	2 - flags or config file did not make a valid search
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search coupling space for spectra matching the reference ladder",
	Long: `Randomly samples the coupling ranges, runs a scale sweep per draw, and
scores each mass spectrum against the reference table by ratio match.

Draws come from a single seeded stream, so a search with the same seed
and budget visits the same points whatever the concurrency. Ranges are
"min:max"; a single value pins that coupling. Finished trials are
stored under the search name for later inspection with results trials.

Examples:
  clifford search --trials 64
  clifford search --lambda-d 0.2:0.8 --lambda-pg0 0.1 --trials 128
  clifford search --search-seed 7 --scales 8,12`,
	Run: runSearchCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	sweepCmd.Flags().StringVarP(&sweepConfigPath, "config", "c", "", "YAML run spec to load")
	sweepCmd.Flags().StringVar(&sweepName, "name", "", "Store name for the sweep records")
	sweepCmd.Flags().IntSliceVar(&sweepScales, "scales", []int{8, 12, 16}, "Lattice sides to sweep")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 2048, "Evolution steps per scale")
	sweepCmd.Flags().IntVar(&sweepSampleEvery, "sample-every", 1, "Record a sample every N steps")
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 0, "Scales run at once (0 = one per core)")
	sweepCmd.Flags().BoolVar(&sweepNoStore, "no-store", false, "Do not persist the per-scale records")

	searchCmd.Flags().StringVarP(&searchConfigPath, "config", "c", "", "YAML run spec supplying the base parameters")
	searchCmd.Flags().StringVar(&searchName, "name", "", "Store name for the trials (default search-<seed>)")
	searchCmd.Flags().IntSliceVar(&searchScales, "scales", []int{8, 12, 16}, "Lattice sides each trial sweeps")
	searchCmd.Flags().IntVar(&searchSteps, "steps", 2048, "Evolution steps per scale")
	searchCmd.Flags().IntVar(&searchSampleEvery, "sample-every", 1, "Record a sample every N steps")
	searchCmd.Flags().IntVar(&searchTrials, "trials", 32, "Number of coupling draws")
	searchCmd.Flags().Uint64Var(&searchSeed, "search-seed", 1, "Seed for the coupling sampling stream")
	searchCmd.Flags().StringVar(&searchLambdaD, "lambda-d", "0.1:1.0", "Derivative coupling range")
	searchCmd.Flags().StringVar(&searchLambdaPG0, "lambda-pg0", "0.05:0.5", "Potential coupling range")
	searchCmd.Flags().StringVar(&searchDamping, "damping", "0.05:0.5", "Damping range")
	searchCmd.Flags().IntVar(&searchConcurrency, "concurrency", 0, "Trials run at once (0 = one per core)")
	searchCmd.Flags().BoolVar(&searchNoStore, "no-store", false, "Do not persist the trials")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runSweepCommand(cmd *cobra.Command, args []string) {
	spec, sides, err := loadLadderSpec(cmd, sweepConfigPath, sweepScales, sweepSteps, sweepSampleEvery)
	if err != nil {
		fatal(exitBadArgs, "invalid sweep configuration", err)
	}

	model, err := spec.Model()
	if err != nil {
		fatal(exitBadArgs, "build algebra", err)
	}
	opts, err := baseEngineOptions(spec)
	if err != nil {
		fatal(exitBadArgs, "invalid engine settings", err)
	}
	evolve, _, err := spec.EngineEvolve()
	if err != nil {
		fatal(exitBadArgs, "invalid evolution settings", err)
	}

	ctx, stop := signalContext()
	defer stop()

	ux.Title(fmt.Sprintf("sweep  Cl(%d,%d)  %dD  scales %v  %d steps",
		spec.Algebra.P, spec.Algebra.Q, spec.Lattice.D, sides, evolve.Steps))

	// One aggregate counter across all scales drives the spinner.
	spin := ux.NewProgressSpinner("Sweeping scales", evolve.Steps*len(sides))
	spin.Start()
	var mu sync.Mutex
	seen := make(map[int]int, len(sides))

	results, err := explore.RunScales(ctx, explore.ScaleConfig{
		Model:       model,
		Dims:        spec.Lattice.D,
		Scales:      sides,
		Params:      spec.EngineParams(),
		Evolve:      evolve,
		Options:     opts,
		Concurrency: sweepConcurrency,
		Progress: func(side int, p engine.Progress) {
			mu.Lock()
			seen[side] = p.Iteration
			sum := 0
			for _, n := range seen {
				sum += n
			}
			mu.Unlock()
			spin.SetProgress(sum)
		},
	})
	if err != nil {
		spin.StopWithError("Sweep failed")
		fatal(exitFailure, "sweep failed", err)
	}
	spin.StopWithSuccess("Sweep finished")

	printSweepTable(results)

	fit, fitErr := explore.FitContinuum(results)
	if fitErr != nil {
		ux.Muted(fmt.Sprintf("no continuum fit: %v", fitErr))
	} else {
		fmt.Println()
		ux.KeyValue("Continuum", fmt.Sprintf("%.6f", fit.Mass), keyWidth)
		ux.KeyValue("Slope", fmt.Sprintf("%.4f", fit.Slope), keyWidth)
		ux.KeyValue("Fit", fmt.Sprintf("R²=%.4f over %d scales", fit.R2, fit.Points), keyWidth)
	}

	if !sweepNoStore {
		storeSweep(spec, results, model.BladeCount())
	}

	stable := 0
	for _, r := range results {
		if r.Run.Outcome.Success() {
			stable++
		}
	}
	if stable == 0 {
		os.Exit(exitFailure)
	}
}

func runSearchCommand(cmd *cobra.Command, args []string) {
	spec, sides, err := loadLadderSpec(cmd, searchConfigPath, searchScales, searchSteps, searchSampleEvery)
	if err != nil {
		fatal(exitBadArgs, "invalid search configuration", err)
	}

	space, err := parseSpace(searchLambdaD, searchLambdaPG0, searchDamping)
	if err != nil {
		fatal(exitBadArgs, "invalid coupling range", err)
	}

	model, err := spec.Model()
	if err != nil {
		fatal(exitBadArgs, "build algebra", err)
	}
	opts, err := baseEngineOptions(spec)
	if err != nil {
		fatal(exitBadArgs, "invalid engine settings", err)
	}
	evolve, _, err := spec.EngineEvolve()
	if err != nil {
		fatal(exitBadArgs, "invalid evolution settings", err)
	}

	name := searchName
	if name == "" {
		name = fmt.Sprintf("search-%d", searchSeed)
	}

	cfg := explore.SearchConfig{
		Model:       model,
		Dims:        spec.Lattice.D,
		Scales:      sides,
		Base:        spec.EngineParams(),
		Evolve:      evolve,
		Space:       space,
		Trials:      searchTrials,
		Seed:        searchSeed,
		Concurrency: searchConcurrency,
		Options:     opts,
	}

	if !searchNoStore {
		store, closeStore, serr := openStore()
		if serr != nil {
			fatal(exitFailure, "open trial store", serr)
		}
		defer closeStore()
		sink, serr := store.TrialSink(name)
		if serr != nil {
			fatal(exitBadArgs, "invalid search name", serr)
		}
		cfg.Store = sink
	}

	ctx, stop := signalContext()
	defer stop()

	ux.Title(fmt.Sprintf("search  %d trials  scales %v  seed %d", searchTrials, sides, searchSeed))

	spin := ux.NewProgressSpinner("Running trials", searchTrials)
	spin.Start()
	cfg.OnTrial = func(t explore.Trial) {
		spin.Increment()
	}

	res, err := explore.Search(ctx, cfg)
	if err != nil {
		spin.StopWithError("Search failed")
		fatal(exitFailure, "search failed", err)
	}
	spin.StopWithSuccess("Search finished")

	printSearchSummary(name, res)

	if !res.Found {
		os.Exit(exitFailure)
	}
}

// loadLadderSpec resolves the spec for the multi-scale commands: config
// file or defaults, the scale ladder, and a guaranteed evolution block.
// Flag defaults yield to the config file unless the flag was set.
func loadLadderSpec(cmd *cobra.Command, path string, scales []int, steps, sampleEvery int) (config.RunSpec, []int, error) {
	spec := config.Defaults()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return config.RunSpec{}, nil, err
		}
		spec = loaded
	}

	flags := cmd.Flags()
	sides := scales
	if !flags.Changed("scales") && len(spec.Lattice.Scales) > 0 {
		sides = spec.Lattice.Scales
	}
	spec.Lattice.Scales = sides
	spec.Lattice.L = 0

	if spec.Evolution == nil {
		spec.Evolution = &config.EvolutionSpec{Steps: steps, SampleEvery: sampleEvery, Mode: "norm"}
	} else {
		if flags.Changed("steps") {
			spec.Evolution.Steps = steps
		}
		if flags.Changed("sample-every") {
			spec.Evolution.SampleEvery = sampleEvery
		}
	}
	if spec.Evolution.SampleEvery < 1 {
		// Without a sampled trajectory there is nothing to analyze.
		spec.Evolution.SampleEvery = 1
	}

	if err := spec.Validate(); err != nil {
		return config.RunSpec{}, nil, err
	}
	return spec, sides, nil
}

// baseEngineOptions builds the engine options every ladder run shares.
func baseEngineOptions(spec config.RunSpec) ([]engine.Option, error) {
	prec, err := spec.StatePrecision()
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithPrecision(prec),
		engine.WithWorkers(spec.Workers),
		engine.WithLogger(cliLogger()),
	}, nil
}

// parseInterval reads "min:max" or a single pinned value.
func parseInterval(s string) (explore.Interval, error) {
	lo, hi, found := strings.Cut(s, ":")
	if !found {
		hi = lo
	}
	minVal, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return explore.Interval{}, fmt.Errorf("bad interval %q: %v", s, err)
	}
	maxVal, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return explore.Interval{}, fmt.Errorf("bad interval %q: %v", s, err)
	}
	return explore.Interval{Min: minVal, Max: maxVal}, nil
}

// parseSpace builds the sampling space from the three range flags.
func parseSpace(lambdaD, lambdaPG0, damping string) (explore.Space, error) {
	var space explore.Space
	var err error
	if space.LambdaD, err = parseInterval(lambdaD); err != nil {
		return explore.Space{}, fmt.Errorf("--lambda-d: %w", err)
	}
	if space.LambdaPG0, err = parseInterval(lambdaPG0); err != nil {
		return explore.Space{}, fmt.Errorf("--lambda-pg0: %w", err)
	}
	if space.Damping, err = parseInterval(damping); err != nil {
		return explore.Space{}, fmt.Errorf("--damping: %w", err)
	}
	return space, space.Validate()
}

// printSweepTable prints one row per scale.
func printSweepTable(results []explore.ScaleResult) {
	headers := []string{"L", "OUTCOME", "MASS", "PEAKS", "FINAL NORM"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		mass := "-"
		if r.Mass > 0 {
			mass = fmt.Sprintf("%.5f", r.Mass)
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Side),
			string(r.Run.Outcome),
			mass,
			strconv.Itoa(len(r.Peaks)),
			fmt.Sprintf("%.3e", r.Run.FinalNorm),
		})
	}
	fmt.Println()
	ux.Table(headers, rows)
}

// printSearchSummary reports the best trial, or why there is none.
func printSearchSummary(name string, res explore.SearchResult) {
	fmt.Println()
	ux.KeyValue("Trials", fmt.Sprintf("%d", res.Trials), keyWidth)
	ux.KeyValue("Scored", fmt.Sprintf("%d", res.Scored), keyWidth)
	ux.KeyValue("Elapsed", formatDuration(res.Elapsed), keyWidth)
	if !searchNoStore {
		ux.KeyValue("Stored", name, keyWidth)
	}

	if !res.Found {
		ux.Warning("no trial produced a scored spectrum; widen the ranges or lengthen the evolution")
		return
	}

	best := res.Best
	detail := fmt.Sprintf("score %.4f  trial %d\nlambda_d %.4f  lambda_pg0 %.4f  damping %.4f",
		best.Score, best.Index, best.Params.LambdaD, best.Params.LambdaPG0, best.Params.Damping)
	if best.Continuum != nil {
		detail += fmt.Sprintf("\ncontinuum mass %.5f (R²=%.3f)", best.Continuum.Mass, best.Continuum.R2)
	}
	if len(best.Masses) > 0 {
		parts := make([]string, 0, len(best.Masses))
		for _, m := range best.Masses {
			parts = append(parts, fmt.Sprintf("%.4f", m))
		}
		detail += "\nmasses " + strings.Join(parts, "  ")
	}
	fmt.Println()
	ux.Box("Best Trial", detail)
}

// storeSweep persists one record per scale under the sweep name.
func storeSweep(spec config.RunSpec, results []explore.ScaleResult, comps int) {
	name := sweepName
	if name == "" {
		if spec.Name != "" {
			name = spec.Name
		} else {
			name = fmt.Sprintf("sweep-%dd", spec.Lattice.D)
		}
	}

	store, closeStore, err := openStore()
	if err != nil {
		ux.Warning(fmt.Sprintf("sweep not stored: %v", err))
		return
	}
	defer closeStore()

	stored := 0
	for _, r := range results {
		sideSpec := spec
		sideSpec.Lattice.L = r.Side
		sideSpec.Lattice.Scales = nil
		if _, err := store.PutRun(context.Background(), badger.NewRecord(name, "sweep", sideSpec, r.Run, comps)); err != nil {
			ux.Warning(fmt.Sprintf("scale L=%d not stored: %v", r.Side, err))
			continue
		}
		stored++
	}
	if stored > 0 {
		ux.KeyValue("Stored", fmt.Sprintf("%s (%d scales)", name, stored), keyWidth)
	}
}
