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
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/pkg/validation"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	initOutputPath string // Where the spec file is written
	initDefaults   bool   // Skip the wizard, write the defaults
	initForce      bool   // Overwrite an existing file
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// initCmd scaffolds a run spec file.
//
// # Description
//
// Walks through the choices a run spec needs and writes the result as
// YAML. On a terminal this is an interactive form; in a pipe, or with
// --defaults, it writes the built-in default spec unchanged so the
// command stays usable from scripts.
//
// # Examples
//
//	clifford init                      # Interactive form -> clifford.yaml
//	clifford init -o vacuum.yaml
//	clifford init --defaults           # No questions asked
//	clifford init --defaults --force   # Overwrite an existing file
//
// # Exit Codes
//
//	0 - spec file written
//	1 - form canceled or the file could not be written
//	2 - output file exists and --force was not given
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a run spec file, interactively or from defaults",
	Long: `Creates a YAML run spec for the other commands to load with --config.

On a terminal an interactive form walks through the algebra signature,
lattice shape, couplings, and evolution schedule. With --defaults, or
when stdin is not a terminal, the built-in default spec is written
as-is.

Examples:
  clifford init
  clifford init -o vacuum.yaml
  clifford init --defaults`,
	Run: runInitCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	initCmd.Flags().StringVarP(&initOutputPath, "output", "o", "clifford.yaml",
		"Path of the spec file to write")
	initCmd.Flags().BoolVar(&initDefaults, "defaults", false,
		"Write the default spec without asking anything")
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"Overwrite the output file if it exists")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runInitCommand(cmd *cobra.Command, args []string) {
	if _, err := os.Stat(initOutputPath); err == nil && !initForce {
		fatal(exitBadArgs, fmt.Sprintf("%s exists; pass --force to overwrite", initOutputPath), nil)
	}

	if initDefaults || !ux.IsInteractive() {
		if err := config.WriteDefault(initOutputPath); err != nil {
			fatal(exitFailure, "write spec", err)
		}
		ux.Success(fmt.Sprintf("wrote default spec to %s", initOutputPath))
		ux.Muted(fmt.Sprintf("run it with: clifford relax -c %s", initOutputPath))
		return
	}

	spec, err := specForm()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			ux.Muted("init canceled, nothing written")
			os.Exit(exitFailure)
		}
		fatal(exitFailure, "form failed", err)
	}

	if err := writeSpec(initOutputPath, spec); err != nil {
		fatal(exitFailure, "write spec", err)
	}
	ux.Success(fmt.Sprintf("wrote %s", initOutputPath))
	ux.Muted(fmt.Sprintf("run it with: clifford relax -c %s", initOutputPath))
}

// specForm walks the interactive form and builds the spec from its
// answers. Every numeric field is validated in the form, so the parses
// below cannot fail on accepted input.
func specForm() (config.RunSpec, error) {
	defaults := config.Defaults()

	var (
		name      string
		signature = "1,8"
		dim       = strconv.Itoa(defaults.Lattice.D)
		side      = strconv.Itoa(defaults.Lattice.L)
		lambdaD   = formatFloat(defaults.Params.LambdaD)
		lambdaPG0 = formatFloat(defaults.Params.LambdaPG0)
		damping   = formatFloat(defaults.Params.Damping)
		precision = defaults.Precision
		evolve    bool
		steps     = "2048"
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Run name").
				Description("Groups records in the store; empty for an automatic name").
				Placeholder("vacuum-search").
				Value(&name).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return validation.ValidateRunName(s)
				}),
			huh.NewSelect[string]().
				Title("Algebra signature").
				Description("Generators squaring to +1 and -1").
				Options(
					huh.NewOption("Cl(1,8)  512 components, the reference algebra", "1,8"),
					huh.NewOption("Cl(1,3)  16 components, spacetime algebra", "1,3"),
					huh.NewOption("Cl(0,3)  8 components, quaternion-like", "0,3"),
					huh.NewOption("Cl(3,0)  8 components, Euclidean 3-space", "3,0"),
				).
				Value(&signature),
			huh.NewSelect[string]().
				Title("Lattice dimension").
				Options(
					huh.NewOption("1D  chain", "1"),
					huh.NewOption("2D  grid", "2"),
					huh.NewOption("3D  volume", "3"),
					huh.NewOption("4D  spacetime volume", "4"),
				).
				Value(&dim),
			huh.NewInput().
				Title("Lattice side").
				Description("Sites per axis, periodic in every direction").
				Value(&side).
				Validate(validateIntIn(2, 1024)),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Derivative coupling lambda_d").
				Value(&lambdaD).
				Validate(validateFloatIn),
			huh.NewInput().
				Title("Potential coupling lambda_pg0").
				Value(&lambdaPG0).
				Validate(validateFloatIn),
			huh.NewInput().
				Title("Damping").
				Value(&damping).
				Validate(validateFloatIn),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Add an evolution schedule?").
				Description("Needed for trajectory sampling and spectra").
				Value(&evolve),
			huh.NewSelect[string]().
				Title("State precision").
				Options(
					huh.NewOption("float64  full precision", "float64"),
					huh.NewOption("float32  half the memory", "float32"),
				).
				Value(&precision),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Evolution steps").
				Value(&steps).
				Validate(validateIntIn(1, 1<<20)),
		).WithHideFunc(func() bool { return !evolve }),
	)

	if err := form.Run(); err != nil {
		return config.RunSpec{}, err
	}

	spec := defaults
	spec.Name = name
	fmt.Sscanf(signature, "%d,%d", &spec.Algebra.P, &spec.Algebra.Q)
	spec.Lattice.D, _ = strconv.Atoi(dim)
	spec.Lattice.L, _ = strconv.Atoi(side)
	spec.Params.LambdaD, _ = strconv.ParseFloat(lambdaD, 64)
	spec.Params.LambdaPG0, _ = strconv.ParseFloat(lambdaPG0, 64)
	spec.Params.Damping, _ = strconv.ParseFloat(damping, 64)
	spec.Precision = precision
	if evolve {
		n, _ := strconv.Atoi(steps)
		spec.Evolution = &config.EvolutionSpec{Steps: n, SampleEvery: 1, Mode: "norm"}
	}

	if err := spec.Validate(); err != nil {
		return config.RunSpec{}, err
	}
	return spec, nil
}

// writeSpec writes the spec the same way config.WriteDefault does.
func writeSpec(path string, spec config.RunSpec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create spec directory: %w", err)
	}
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// validateIntIn builds a form validator for a whole number in a range.
func validateIntIn(min, max int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("enter a whole number")
		}
		if n < min || n > max {
			return fmt.Errorf("enter %d to %d", min, max)
		}
		return nil
	}
}

// validateFloatIn accepts any finite number.
func validateFloatIn(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Errorf("enter a finite number")
	}
	return nil
}

// formatFloat trims a default value for prefilling a form field.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
