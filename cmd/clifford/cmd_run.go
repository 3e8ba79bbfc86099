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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runConfigPath  string  // YAML run spec to load
	runName        string  // Run name override
	runDim         int     // Lattice dimension override
	runSide        int     // Lattice side override
	runLambdaD     float64 // Derivative coupling override
	runLambdaPG0   float64 // Potential coupling override
	runDamping     float64 // Damping coefficient override
	runStep        float64 // Integration step override
	runIterations  int     // Relaxation iteration cap override
	runTolerance   float64 // Convergence tolerance override
	runSeed        uint64  // RNG seed override
	runAmplitude   float64 // Seed amplitude override
	runPrecision   string  // State precision override (float64/float32)
	runWorkers     int     // Worker count override (0 = all cores)
	runNoStore     bool    // Skip persisting the run record
	runSteps       int     // Evolution step count (evolve only)
	runSampleEvery int     // Sample cadence in steps (evolve only)
	runSampleMode  string  // Sample payload: norm, scalar, field (evolve only)
)

// keyWidth aligns the run summary key column.
const keyWidth = 12

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// relaxCmd drives a field toward a vacuum configuration.
//
// # Description
//
// Seeds a multivector field on a periodic lattice and applies damped
// gradient descent until the force residual drops below the tolerance,
// the stability monitor trips, or the iteration budget runs out. The
// finished run is stored under its name so spectrum and results can
// find it later.
//
// # Examples
//
//	clifford relax                      # Defaults: Cl(1,8) on an 8x8 grid
//	clifford relax -c vacuum.yaml       # Load a run spec
//	clifford relax -L 16 --seed 7       # Override pieces of the spec
//	clifford relax --no-store           # Throwaway run, nothing persisted
//
// # Exit Codes
//
//	0 - run converged or hit the iteration limit with a finite field
//	1 - run diverged, collapsed, was canceled, or failed outright
//	2 - flags or config file did not make a valid run spec
var relaxCmd = &cobra.Command{
	Use:   "relax",
	Short: "Relax a field to a vacuum configuration",
	Long: `Seeds a multivector field and relaxes it by damped gradient descent.

The run spec comes from --config when given, otherwise from built-in
defaults. Individual flags override whichever source supplied the spec.
Progress is drawn live; pass --personality machine for line-oriented
output a script can parse.

Examples:
  clifford relax                    # Built-in defaults
  clifford relax -c vacuum.yaml     # Spec from a file
  clifford relax -L 16 --damping 0.3
  clifford relax --no-store`,
	Run: runRelaxCommand,
}

// evolveCmd integrates a field through time and samples the trajectory.
//
// # Description
//
// Runs fixed-step time integration for a set number of steps, sampling
// the trajectory at the requested cadence. The sampled series is what
// the spectrum command feeds its periodogram, so --sample-every controls
// the usable frequency range.
//
// # Examples
//
//	clifford evolve --steps 4096                # Norm trajectory
//	clifford evolve -c osc.yaml                 # Spec with an evolution block
//	clifford evolve --steps 4096 --sample-every 4 --sample-mode scalar
//
// # Exit Codes
//
//	0 - evolution completed its step budget
//	1 - run diverged, collapsed, was canceled, or failed outright
//	2 - flags or config file did not make a valid run spec
var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Evolve a field through time and record its trajectory",
	Long: `Integrates a field with fixed-step dynamics and samples the trajectory.

A config file with an evolution block sets the step budget and sample
cadence; --steps, --sample-every, and --sample-mode override it or
stand in for it. Relaxation specs become evolution specs by passing
--steps.

Examples:
  clifford evolve --steps 4096
  clifford evolve -c oscillation.yaml
  clifford evolve --steps 8192 --sample-mode scalar`,
	Run: runEvolveCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	addRunFlags(relaxCmd)
	addRunFlags(evolveCmd)

	evolveCmd.Flags().IntVar(&runSteps, "steps", 0,
		"Number of integration steps (required unless the config has an evolution block)")
	evolveCmd.Flags().IntVar(&runSampleEvery, "sample-every", 0,
		"Record a sample every N steps (0 samples only the final state)")
	evolveCmd.Flags().StringVar(&runSampleMode, "sample-mode", "norm",
		"Sample payload: norm, scalar, or field")
}

// addRunFlags registers the spec-override flags shared by relax and
// evolve. Both commands write through the same variables; only one of
// them runs per invocation.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "YAML run spec to load")
	cmd.Flags().StringVar(&runName, "name", "", "Run name for the record store")
	cmd.Flags().IntVar(&runDim, "dim", 0, "Lattice dimension")
	cmd.Flags().IntVarP(&runSide, "side", "L", 0, "Lattice side length")
	cmd.Flags().Float64Var(&runLambdaD, "lambda-d", 0, "Derivative coupling")
	cmd.Flags().Float64Var(&runLambdaPG0, "lambda-pg0", 0, "Potential coupling")
	cmd.Flags().Float64Var(&runDamping, "damping", 0, "Damping coefficient")
	cmd.Flags().Float64Var(&runStep, "step", 0, "Integration step size")
	cmd.Flags().IntVar(&runIterations, "iterations", 0, "Relaxation iteration cap")
	cmd.Flags().Float64Var(&runTolerance, "tolerance", 0, "Convergence tolerance on the force residual")
	cmd.Flags().Uint64Var(&runSeed, "seed", 0, "RNG seed for the initial field")
	cmd.Flags().Float64Var(&runAmplitude, "amplitude", 0, "Initial field amplitude")
	cmd.Flags().StringVar(&runPrecision, "precision", "", "State precision: float64 or float32")
	cmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker goroutines (0 = one per core)")
	cmd.Flags().BoolVar(&runNoStore, "no-store", false, "Do not persist the run record")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRelaxCommand(cmd *cobra.Command, args []string) {
	executeRun(cmd, "relax")
}

func runEvolveCommand(cmd *cobra.Command, args []string) {
	executeRun(cmd, "evolve")
}

// executeRun is the shared driver behind relax and evolve: resolve the
// spec, run the engine with live progress, store the record, and pick
// the exit code from the outcome.
func executeRun(cmd *cobra.Command, mode string) {
	spec, err := loadRunSpec(cmd)
	if err != nil {
		fatal(exitBadArgs, "invalid run configuration", err)
	}
	if mode == "evolve" {
		if err := applyEvolutionFlags(cmd, &spec); err != nil {
			fatal(exitBadArgs, "invalid evolution settings", err)
		}
	}

	model, err := spec.Model()
	if err != nil {
		fatal(exitBadArgs, "build algebra", err)
	}
	lats, err := spec.Lattices()
	if err != nil {
		fatal(exitBadArgs, "build lattice", err)
	}
	lat := lats[0]
	if len(lats) > 1 {
		ux.Warning(fmt.Sprintf("config lists %d scales; running the smallest (L=%d), use sweep for all of them", len(lats), lat.L()))
	}
	prec, err := spec.StatePrecision()
	if err != nil {
		fatal(exitBadArgs, "invalid precision", err)
	}

	renderer := ux.NewProgressRenderer(os.Stdout)

	eng, err := engine.New(model,
		engine.WithPrecision(prec),
		engine.WithWorkers(spec.Workers),
		engine.WithLogger(cliLogger()),
		engine.WithProgress(func(p engine.Progress) {
			renderer.OnCheck(ux.ProgressUpdate{
				Mode:      p.Mode,
				Iteration: p.Iteration,
				Total:     p.Total,
				Norm:      p.Norm,
				Residual:  p.Residual,
			})
		}),
	)
	if err != nil {
		fatal(exitFailure, "build engine", err)
	}

	params := spec.EngineParams()

	ctx, stop := signalContext()
	defer stop()

	ux.Title(fmt.Sprintf("%s  Cl(%d,%d)  %dD lattice  L=%d  %d components",
		mode, spec.Algebra.P, spec.Algebra.Q, lat.D(), lat.L(), model.BladeCount()))

	var res engine.RunResult
	switch mode {
	case "relax":
		renderer.OnStart(mode, params.MaxIterations)
		res, err = eng.Relax(ctx, lat, nil, params)
	case "evolve":
		evolve, _, verr := spec.EngineEvolve()
		if verr != nil {
			fatal(exitBadArgs, "invalid evolution settings", verr)
		}
		renderer.OnStart(mode, evolve.Steps)
		res, err = eng.Evolve(ctx, lat, nil, params, evolve)
	}
	if err != nil {
		// fatal exits without running defers, so clear the progress
		// line by hand.
		renderer.Finalize()
		fatal(exitFailure, mode+" run failed", err)
	}

	renderer.OnDone(ux.RunOutcome{
		Outcome:    string(res.Outcome),
		Iterations: res.Iterations,
		FinalNorm:  res.FinalNorm,
		Elapsed:    res.Elapsed,
	})

	name := runRecordName(spec, mode, lat.L())
	printRunSummary(name, res)

	if !runNoStore {
		storeRun(name, mode, spec, res, model.BladeCount())
	}

	if !res.Outcome.Success() {
		os.Exit(exitFailure)
	}
}

// loadRunSpec resolves the effective run spec: built-in defaults or a
// config file, then whatever flags the user actually set on top.
func loadRunSpec(cmd *cobra.Command) (config.RunSpec, error) {
	spec := config.Defaults()
	if runConfigPath != "" {
		loaded, err := config.LoadFile(runConfigPath)
		if err != nil {
			return config.RunSpec{}, err
		}
		spec = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		spec.Name = runName
	}
	if flags.Changed("dim") {
		spec.Lattice.D = runDim
	}
	if flags.Changed("side") {
		// A side override collapses a multi-scale spec to one grid.
		spec.Lattice.L = runSide
		spec.Lattice.Scales = nil
	}
	if flags.Changed("lambda-d") {
		spec.Params.LambdaD = runLambdaD
	}
	if flags.Changed("lambda-pg0") {
		spec.Params.LambdaPG0 = runLambdaPG0
	}
	if flags.Changed("damping") {
		spec.Params.Damping = runDamping
	}
	if flags.Changed("step") {
		spec.Params.Step = runStep
	}
	if flags.Changed("iterations") {
		spec.Params.MaxIterations = runIterations
	}
	if flags.Changed("tolerance") {
		spec.Params.Tolerance = runTolerance
	}
	if flags.Changed("seed") {
		spec.Params.Seed = runSeed
	}
	if flags.Changed("amplitude") {
		spec.Params.Amplitude = runAmplitude
	}
	if flags.Changed("precision") {
		spec.Precision = runPrecision
	}
	if flags.Changed("workers") {
		spec.Workers = runWorkers
	}

	// Overrides can break a spec the file validated, so check again.
	if err := spec.Validate(); err != nil {
		return config.RunSpec{}, err
	}
	return spec, nil
}

// applyEvolutionFlags folds the evolve-only flags into the spec. A spec
// without an evolution block needs --steps; one with a block takes the
// flags as overrides.
func applyEvolutionFlags(cmd *cobra.Command, spec *config.RunSpec) error {
	flags := cmd.Flags()
	if spec.Evolution == nil {
		if runSteps <= 0 {
			return fmt.Errorf("evolve needs --steps or an evolution block in the config")
		}
		spec.Evolution = &config.EvolutionSpec{
			Steps:       runSteps,
			SampleEvery: runSampleEvery,
			Mode:        runSampleMode,
		}
	} else {
		if flags.Changed("steps") {
			spec.Evolution.Steps = runSteps
		}
		if flags.Changed("sample-every") {
			spec.Evolution.SampleEvery = runSampleEvery
		}
		if flags.Changed("sample-mode") {
			spec.Evolution.Mode = runSampleMode
		}
	}
	return spec.Validate()
}

// runRecordName picks the name a run is stored under: the spec name if
// the file set one, otherwise mode and side ("relax-8").
func runRecordName(spec config.RunSpec, mode string, side int) string {
	if runName != "" {
		return runName
	}
	if spec.Name != "" {
		return spec.Name
	}
	return fmt.Sprintf("%s-%d", mode, side)
}

// printRunSummary prints the post-run key/value block. Machine mode
// already said everything in its DONE line.
func printRunSummary(name string, res engine.RunResult) {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		return
	}
	fmt.Println()
	ux.KeyValue("Run", name, keyWidth)
	ux.KeyValue("Outcome", string(res.Outcome), keyWidth)
	ux.KeyValue("Iterations", fmt.Sprintf("%d", res.Iterations), keyWidth)
	ux.KeyValue("Final norm", fmt.Sprintf("%.6e", res.FinalNorm), keyWidth)
	if res.Residual > 0 {
		ux.KeyValue("Residual", fmt.Sprintf("%.3e", res.Residual), keyWidth)
	}
	if len(res.Samples) > 0 {
		ux.KeyValue("Samples", fmt.Sprintf("%d", len(res.Samples)), keyWidth)
	}
	ux.KeyValue("Elapsed", formatDuration(res.Elapsed), keyWidth)
	if len(res.NormSeries) >= 2 {
		norms := make([]float64, len(res.NormSeries))
		for i, p := range res.NormSeries {
			norms[i] = p.Norm
		}
		ux.KeyValue("Norm trend", ux.Sparkline(norms, 32), keyWidth)
	}
}

// storeRun persists the finished run. A store failure warns instead of
// failing the command: the physics already happened.
func storeRun(name, mode string, spec config.RunSpec, res engine.RunResult, comps int) {
	store, closeStore, err := openStore()
	if err != nil {
		ux.Warning(fmt.Sprintf("run not stored: %v", err))
		return
	}
	defer closeStore()

	// The run context may be canceled by the ctrl-C that ended the run;
	// the record should survive anyway.
	rec, err := store.PutRun(context.Background(), badger.NewRecord(name, mode, spec, res, comps))
	if err != nil {
		ux.Warning(fmt.Sprintf("run not stored: %v", err))
		return
	}
	ux.KeyValue("Stored", fmt.Sprintf("%s/%s", rec.Name, shortID(rec.ID)), keyWidth)
}
