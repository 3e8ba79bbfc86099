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
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/analysis"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

// runSpectrumCommand recomputes the spectrum of a stored trajectory and
// prints its mass candidates. The record keeps enough of the trajectory
// that the spectrum can be re-run with different peak settings without
// re-running the field.
func runSpectrumCommand(cmd *cobra.Command, args []string) {
	if spectrumChannel != "norm" && spectrumChannel != "scalar" {
		fatal(exitBadArgs, fmt.Sprintf("unknown channel %q, want norm or scalar", spectrumChannel), nil)
	}

	store, closeStore, err := openStore()
	if err != nil {
		fatal(exitFailure, "open store", err)
	}
	defer closeStore()

	ctx, stop := signalContext()
	defer stop()

	id := ""
	if len(args) > 1 {
		id = args[1]
	}
	rec, err := resolveRecord(ctx, store, args[0], id)
	if err != nil {
		fatal(exitFailure, "load run", err)
	}

	if len(rec.Samples) < analysis.MinSamples {
		fatal(exitFailure, fmt.Sprintf(
			"run %s/%s carries %d samples and spectra need %d; evolve with sampling enabled first",
			rec.Name, shortID(rec.ID), len(rec.Samples), analysis.MinSamples), nil)
	}

	series := sampleSeries(rec, spectrumChannel)
	dt := sampleInterval(rec)

	spectrum, err := analysis.Periodogram(series, dt)
	if err != nil {
		fatal(exitFailure, "periodogram", err)
	}
	peaks := spectrum.Peaks(spectrumNoise, spectrumMaxPeaks)

	ux.Title(fmt.Sprintf("spectrum  %s/%s  %s channel", rec.Name, shortID(rec.ID), spectrumChannel))
	ux.KeyValue("Samples", strconv.Itoa(len(series)), keyWidth)
	ux.KeyValue("Interval", fmt.Sprintf("%.4g", dt), keyWidth)
	ux.KeyValue("Nyquist", fmt.Sprintf("%.4g", 1/(2*dt)), keyWidth)

	if len(peaks) == 0 {
		ux.Warning("no spectral line rose above the noise floor")
		os.Exit(exitFailure)
	}

	rows := make([][]string, 0, len(peaks))
	for i, p := range peaks {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%.6f", p.Freq),
			fmt.Sprintf("%.3e", p.Power),
			fmt.Sprintf("%.6f", p.Mass),
		})
	}
	fmt.Println()
	ux.Table([]string{"#", "FREQ", "POWER", "MASS"}, rows)
}

// sampleSeries pulls the requested observable out of the record.
func sampleSeries(rec badger.RunRecord, channel string) []float64 {
	out := make([]float64, len(rec.Samples))
	for i, s := range rec.Samples {
		if channel == "scalar" {
			out[i] = s.ScalarMean
		} else {
			out[i] = s.Norm
		}
	}
	return out
}

// sampleInterval recovers the sample spacing, preferring the recorded
// timestamps over the spec the run was started from.
func sampleInterval(rec badger.RunRecord) float64 {
	if len(rec.Samples) >= 2 {
		if dt := rec.Samples[1].Time - rec.Samples[0].Time; dt > 0 {
			return dt
		}
	}
	dt := rec.Spec.Params.Step
	if rec.Spec.Evolution != nil && rec.Spec.Evolution.SampleEvery > 1 {
		dt *= float64(rec.Spec.Evolution.SampleEvery)
	}
	return dt
}
