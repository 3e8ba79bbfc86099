// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis extracts oscillation frequencies from evolution
// trajectories and converts them to mass candidates.
//
// The pipeline is periodogram → peak extraction → mass. A free field
// mode of mass m oscillates at angular frequency ω = m in lattice
// units, so a spectral line at frequency f maps to a mass candidate
// m = 2π·f. The mapping assumes a signed probe such as the grade-0
// scalar channel; magnitude-type series (field norms) rectify the
// oscillation and show their lines at twice the physical frequency.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
)

const (
	// MinSamples is the shortest series a periodogram accepts.
	MinSamples = 8

	// DefaultNoiseRatio is the default peak threshold as a multiple of
	// the median spectral power.
	DefaultNoiseRatio = 4.0

	// DefaultMaxPeaks is the default cap on returned peaks.
	DefaultMaxPeaks = 8
)

// Spectrum is a one-sided periodogram of a sample series.
type Spectrum struct {
	// Freqs holds the bin frequencies in cycles per unit time, from DC
	// up to the Nyquist frequency 1/(2·Dt).
	Freqs []float64

	// Power holds the relative spectral power per bin. Only ratios
	// between bins are meaningful.
	Power []float64

	// Dt is the sample interval the series was recorded at.
	Dt float64
}

// Peak is one spectral line candidate.
type Peak struct {
	// Index is the bin the peak was found at.
	Index int `json:"index"`

	// Freq is the refined peak frequency in cycles per unit time.
	Freq float64 `json:"freq"`

	// Power is the spectral power at the peak bin.
	Power float64 `json:"power"`

	// Mass is the angular frequency 2π·Freq, the mass candidate in
	// lattice units.
	Mass float64 `json:"mass"`
}

// Periodogram computes the one-sided power spectrum of a series.
//
// # Description
//
//	The series is mean-detrended, Hann-windowed and transformed with a
//	real FFT. Detrending keeps a constant offset from burying nearby
//	bins under the DC line; the Hann window bounds leakage from
//	frequencies that fall between bins.
//
// # Inputs
//
//   - series: the sampled observable, at least MinSamples values.
//   - dt: the sample interval; for evolution samples this is
//     Step × SampleEvery.
//
// # Outputs
//
//   - Spectrum: bins from DC to Nyquist.
//   - error: ErrSeriesTooShort or ErrInvalidInterval.
func Periodogram(series []float64, dt float64) (Spectrum, error) {
	if len(series) < MinSamples {
		return Spectrum{}, fmt.Errorf("%w: %d samples (want at least %d)", ErrSeriesTooShort, len(series), MinSamples)
	}
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return Spectrum{}, fmt.Errorf("%w: %g", ErrInvalidInterval, dt)
	}

	n := len(series)
	buf := make([]float64, n)
	copy(buf, series)

	mean := stat.Mean(buf, nil)
	floats.AddConst(-mean, buf)
	window.Apply(buf, window.Hann)

	coeffs := fft.FFTReal(buf)

	bins := n/2 + 1
	spec := Spectrum{
		Freqs: make([]float64, bins),
		Power: make([]float64, bins),
		Dt:    dt,
	}
	norm := float64(n) * float64(n)
	for k := 0; k < bins; k++ {
		re, im := real(coeffs[k]), imag(coeffs[k])
		spec.Freqs[k] = float64(k) / (float64(n) * dt)
		spec.Power[k] = (re*re + im*im) / norm
	}
	return spec, nil
}

// Peaks extracts local spectral maxima above the noise floor.
//
// # Description
//
//	A bin is a peak when it exceeds both neighbors and noiseRatio times
//	the median power of the non-DC bins. Peak frequencies are refined by
//	parabolic interpolation through the three bins around the maximum,
//	so an oscillation that falls between bins is still located to a
//	fraction of the bin width. Results are ordered by power, strongest
//	first, and capped at maxPeaks.
//
// # Inputs
//
//   - noiseRatio: threshold multiple of the median power; values at or
//     below zero use DefaultNoiseRatio.
//   - maxPeaks: cap on returned peaks; values at or below zero use
//     DefaultMaxPeaks.
func (s Spectrum) Peaks(noiseRatio float64, maxPeaks int) []Peak {
	if noiseRatio <= 0 {
		noiseRatio = DefaultNoiseRatio
	}
	if maxPeaks <= 0 {
		maxPeaks = DefaultMaxPeaks
	}
	if len(s.Power) < 3 {
		return nil
	}

	floor := noiseRatio * medianPower(s.Power[1:])

	var peaks []Peak
	for k := 1; k < len(s.Power)-1; k++ {
		p := s.Power[k]
		if p <= floor {
			continue
		}
		if p <= s.Power[k-1] || p < s.Power[k+1] {
			continue
		}
		peaks = append(peaks, Peak{
			Index: k,
			Freq:  s.refineFreq(k),
			Power: p,
		})
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Power > peaks[j].Power })
	if len(peaks) > maxPeaks {
		peaks = peaks[:maxPeaks]
	}
	for i := range peaks {
		peaks[i].Mass = 2 * math.Pi * peaks[i].Freq
	}
	return peaks
}

// refineFreq interpolates the vertex of the parabola through the bins
// around k. Falls back to the bin center when the three powers are
// degenerate.
func (s Spectrum) refineFreq(k int) float64 {
	binWidth := s.Freqs[1] - s.Freqs[0]
	a, b, c := s.Power[k-1], s.Power[k], s.Power[k+1]
	denom := a - 2*b + c
	if denom == 0 {
		return s.Freqs[k]
	}
	delta := 0.5 * (a - c) / denom
	if delta > 0.5 || delta < -0.5 {
		return s.Freqs[k]
	}
	return s.Freqs[k] + delta*binWidth
}

// medianPower returns the median of a power slice without mutating it.
func medianPower(power []float64) float64 {
	sorted := make([]float64, len(power))
	copy(sorted, power)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// MassCandidates runs the full pipeline on a sample series with default
// thresholds.
//
// # Example
//
//	series := analysis.ScalarMeans(res.Samples)
//	peaks, err := analysis.MassCandidates(series, params.Step*float64(spec.SampleEvery), 0)
func MassCandidates(series []float64, dt float64, maxPeaks int) ([]Peak, error) {
	spec, err := Periodogram(series, dt)
	if err != nil {
		return nil, err
	}
	return spec.Peaks(0, maxPeaks), nil
}

// SampleNorms extracts the norm trajectory from evolution samples.
func SampleNorms(samples []engine.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Norm
	}
	return out
}

// ScalarMeans extracts the volume-averaged grade-0 channel from
// evolution samples recorded in scalar mode. Samples without scalar
// data contribute zero.
func ScalarMeans(samples []engine.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		if len(s.Scalar) == 0 {
			continue
		}
		out[i] = floats.Sum(s.Scalar) / float64(len(s.Scalar))
	}
	return out
}

// FieldScalarMeans extracts the volume-averaged grade-0 channel from
// evolution samples recorded in field mode, where each sample carries
// the full coefficient block of comps values per site.
func FieldScalarMeans(samples []engine.Sample, comps int) []float64 {
	out := make([]float64, len(samples))
	if comps < 1 {
		return out
	}
	for i, s := range samples {
		sites := len(s.Field) / comps
		if sites == 0 {
			continue
		}
		var sum float64
		for site := 0; site < sites; site++ {
			sum += s.Field[site*comps]
		}
		out[i] = sum / float64(sites)
	}
	return out
}
