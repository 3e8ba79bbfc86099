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
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

// runResultsList lists stored names, or the records under one name.
func runResultsList(cmd *cobra.Command, args []string) {
	store, closeStore, err := openStore()
	if err != nil {
		fatal(exitFailure, "open store", err)
	}
	defer closeStore()

	ctx, stop := signalContext()
	defer stop()

	if len(args) == 0 {
		names, err := store.Names(ctx)
		if err != nil {
			fatal(exitFailure, "list names", err)
		}
		if len(names) == 0 {
			ux.Muted("store is empty")
			return
		}
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			recs, err := store.ListRuns(ctx, name)
			if err != nil {
				fatal(exitFailure, "list runs", err)
			}
			latest := "-"
			if len(recs) > 0 {
				last := recs[len(recs)-1]
				latest = fmt.Sprintf("%s %s", last.Mode, last.Outcome)
			}
			rows = append(rows, []string{name, strconv.Itoa(len(recs)), latest})
		}
		ux.Table([]string{"NAME", "RUNS", "LATEST"}, rows)
		return
	}

	recs, err := store.ListRuns(ctx, args[0])
	if err != nil {
		fatal(exitFailure, "list runs", err)
	}
	if len(recs) == 0 {
		ux.Muted(fmt.Sprintf("no runs stored under %q", args[0]))
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			shortID(rec.ID),
			rec.Mode,
			string(rec.Outcome),
			strconv.Itoa(rec.Iterations),
			fmt.Sprintf("%.3e", rec.FinalNorm),
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	ux.Table([]string{"ID", "MODE", "OUTCOME", "ITER", "NORM", "CREATED"}, rows)
}

// runResultsShow prints one record in full, --json for the raw record.
func runResultsShow(cmd *cobra.Command, args []string) {
	store, closeStore, err := openStore()
	if err != nil {
		fatal(exitFailure, "open store", err)
	}
	defer closeStore()

	ctx, stop := signalContext()
	defer stop()

	rec, err := resolveRecord(ctx, store, args[0], args[1])
	if err != nil {
		fatal(exitFailure, "load run", err)
	}

	if resultsJSONOutput {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			fatal(exitFailure, "encode record", err)
		}
		fmt.Println(string(data))
		return
	}

	ux.Title(fmt.Sprintf("%s/%s", rec.Name, shortID(rec.ID)))
	ux.KeyValue("Mode", rec.Mode, keyWidth)
	ux.KeyValue("Outcome", string(rec.Outcome), keyWidth)
	ux.KeyValue("Iterations", strconv.Itoa(rec.Iterations), keyWidth)
	ux.KeyValue("Final norm", fmt.Sprintf("%.6e", rec.FinalNorm), keyWidth)
	if rec.Residual > 0 {
		ux.KeyValue("Residual", fmt.Sprintf("%.3e", rec.Residual), keyWidth)
	}
	ux.KeyValue("Elapsed", formatDuration(rec.Elapsed), keyWidth)
	ux.KeyValue("Created", rec.CreatedAt.Format("2006-01-02 15:04:05"), keyWidth)
	ux.KeyValue("Algebra", fmt.Sprintf("Cl(%d,%d)", rec.Spec.Algebra.P, rec.Spec.Algebra.Q), keyWidth)
	ux.KeyValue("Lattice", latticeLabel(rec), keyWidth)
	ux.KeyValue("Couplings", fmt.Sprintf("lambda_d %.4f  lambda_pg0 %.4f  damping %.4f",
		rec.Spec.Params.LambdaD, rec.Spec.Params.LambdaPG0, rec.Spec.Params.Damping), keyWidth)
	if len(rec.Samples) > 0 {
		ux.KeyValue("Samples", strconv.Itoa(len(rec.Samples)), keyWidth)
	}
	if len(rec.NormSeries) >= 2 {
		norms := make([]float64, len(rec.NormSeries))
		for i, p := range rec.NormSeries {
			norms[i] = p.Norm
		}
		ux.KeyValue("Norm trend", ux.Sparkline(norms, 48), keyWidth)
	}
}

// runResultsDelete wipes every record under a name. Destructive, so it
// refuses to run without --force.
func runResultsDelete(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		ux.Warning(fmt.Sprintf("this deletes every record under %q; re-run with --force to confirm", args[0]))
		os.Exit(exitBadArgs)
	}

	store, closeStore, err := openStore()
	if err != nil {
		fatal(exitFailure, "open store", err)
	}
	defer closeStore()

	ctx, stop := signalContext()
	defer stop()

	n, err := store.DeleteRuns(ctx, args[0])
	if err != nil {
		fatal(exitFailure, "delete runs", err)
	}
	ux.Success(fmt.Sprintf("deleted %d records under %q", n, args[0]))
}

// runResultsTrials lists a search's stored trials in sampling order.
func runResultsTrials(cmd *cobra.Command, args []string) {
	store, closeStore, err := openStore()
	if err != nil {
		fatal(exitFailure, "open store", err)
	}
	defer closeStore()

	ctx, stop := signalContext()
	defer stop()

	trials, err := store.ListTrials(ctx, args[0])
	if err != nil {
		fatal(exitFailure, "list trials", err)
	}
	if len(trials) == 0 {
		ux.Muted(fmt.Sprintf("no trials stored under %q", args[0]))
		return
	}

	rows := make([][]string, 0, len(trials))
	for _, t := range trials {
		score := "-"
		if t.Scored {
			score = fmt.Sprintf("%.4f", t.Score)
		}
		mass := "-"
		if t.Continuum != nil {
			mass = fmt.Sprintf("%.5f", t.Continuum.Mass)
		} else if len(t.Masses) > 0 {
			mass = fmt.Sprintf("%.5f", t.Masses[0])
		}
		rows = append(rows, []string{
			strconv.Itoa(t.Index),
			score,
			fmt.Sprintf("%.4f", t.Params.LambdaD),
			fmt.Sprintf("%.4f", t.Params.LambdaPG0),
			fmt.Sprintf("%.4f", t.Params.Damping),
			mass,
			t.Note,
		})
	}
	ux.Table([]string{"#", "SCORE", "LAMBDA_D", "LAMBDA_PG0", "DAMPING", "MASS", "NOTE"}, rows)

	if best, err := store.BestTrial(ctx, args[0]); err == nil {
		fmt.Println()
		ux.Box("Best Trial", fmt.Sprintf("score %.4f  trial %d", best.Score, best.Index))
	}
}

// latticeLabel formats the record's grid, single side or sweep ladder.
func latticeLabel(rec badger.RunRecord) string {
	if rec.Spec.Lattice.L > 0 {
		return fmt.Sprintf("%dD L=%d", rec.Spec.Lattice.D, rec.Spec.Lattice.L)
	}
	return fmt.Sprintf("%dD scales %v", rec.Spec.Lattice.D, rec.Spec.Lattice.Scales)
}
