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
	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	storeDir         string // Run record store directory
	verboseOutput    bool   // Engine debug logging

	spectrumMaxPeaks int     // Maximum peaks the spectrum command reports
	spectrumNoise    float64 // Peak threshold as a multiple of median power
	spectrumChannel  string  // Observable to analyze (norm or scalar)

	algebraP      int  // Generators squaring to +1
	algebraQ      int  // Generators squaring to -1
	algebraBlades bool // Print the full blade table

	resultsJSONOutput bool // Dump the record as JSON

	rootCmd = &cobra.Command{
		Use:   "clifford",
		Short: "A cli to run and explore Clifford field simulations",
		Long: `Clifford drives multivector field simulations on periodic lattices:
relax a field to a vacuum, evolve it through time, sweep lattice scales,
and search coupling space for spectra that match a reference mass ladder.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Results ---
	resultsCmd = &cobra.Command{
		Use:   "results",
		Short: "Inspect and manage stored run records",
	}
	resultsListCmd = &cobra.Command{
		Use:   "list [name]",
		Short: "List stored run names, or the records under one name",
		Args:  cobra.MaximumNArgs(1),
		Run:   runResultsList, // Defined in cmd_results.go
	}
	resultsShowCmd = &cobra.Command{
		Use:   "show [name] [id]",
		Short: "Show one run record in full",
		Args:  cobra.ExactArgs(2),
		Run:   runResultsShow, // Defined in cmd_results.go
	}
	resultsDeleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete every record stored under a run name",
		Args:  cobra.ExactArgs(1),
		Run:   runResultsDelete, // Defined in cmd_results.go
	}
	resultsTrialsCmd = &cobra.Command{
		Use:   "trials [search]",
		Short: "List the trials a coupling search recorded",
		Args:  cobra.ExactArgs(1),
		Run:   runResultsTrials, // Defined in cmd_results.go
	}

	// --- Analysis ---
	spectrumCmd = &cobra.Command{
		Use:   "spectrum [name] [id]",
		Short: "Extract mass candidates from a stored run's trajectory",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runSpectrumCommand, // Defined in cmd_spectrum.go
	}

	// --- Algebra ---
	algebraCmd = &cobra.Command{
		Use:   "algebra",
		Short: "Inspect the Clifford algebra a signature generates",
		Run:   runAlgebraCommand, // Defined in cmd_algebra.go
	}
)

// init runs when the Go program starts
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "",
		"Run record store directory (default ~/.cliffordlab/runs)")
	rootCmd.PersistentFlags().BoolVarP(&verboseOutput, "verbose", "v", false,
		"Enable engine debug logging on stderr")

	// Simulation runs
	rootCmd.AddCommand(relaxCmd)
	rootCmd.AddCommand(evolveCmd)

	// Exploration
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(searchCmd)

	// Results
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	resultsShowCmd.Flags().BoolVar(&resultsJSONOutput, "json", false, "Output the record as JSON")
	resultsCmd.AddCommand(resultsDeleteCmd)
	resultsDeleteCmd.Flags().Bool("force", false, "Required to confirm the deletion of stored records.")
	resultsCmd.AddCommand(resultsTrialsCmd)

	// Analysis
	rootCmd.AddCommand(spectrumCmd)
	spectrumCmd.Flags().IntVar(&spectrumMaxPeaks, "peaks", 5, "Maximum number of spectral peaks to report")
	spectrumCmd.Flags().Float64Var(&spectrumNoise, "noise", 4.0, "Peak threshold as a multiple of the median power")
	spectrumCmd.Flags().StringVar(&spectrumChannel, "channel", "norm", "Observable to analyze: norm or scalar")

	// Algebra
	rootCmd.AddCommand(algebraCmd)
	algebraCmd.Flags().IntVarP(&algebraP, "positive", "p", 1, "Number of generators squaring to +1")
	algebraCmd.Flags().IntVarP(&algebraQ, "negative", "q", 8, "Number of generators squaring to -1")
	algebraCmd.Flags().BoolVar(&algebraBlades, "blades", false, "Print the full blade table")

	// Scaffolding and live status
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(watchCmd)
}
