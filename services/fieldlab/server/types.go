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
	"math"
	"time"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
)

// ServiceVersion is the field lab service version.
const ServiceVersion = "0.1.0"

// Run modes accepted by the manager.
const (
	ModeRelax  = "relax"
	ModeEvolve = "evolve"
)

// Run states reported in a RunStatus.
const (
	StateRunning  = "running"
	StateFinished = "finished"
)

// SubmitRunRequest asks the service to start one run.
type SubmitRunRequest struct {
	// Name groups the run's records in the store. Falls back to
	// Spec.Name when empty; one of the two is required.
	Name string `json:"name,omitempty"`

	// Mode is "relax" or "evolve".
	Mode string `json:"mode"`

	// Spec is the full run configuration.
	Spec config.RunSpec `json:"spec"`
}

// RunStatus is the manager's view of one run.
type RunStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`

	// Iteration through Residual mirror the latest progress report.
	Iteration int     `json:"iteration"`
	Total     int     `json:"total"`
	Norm      float64 `json:"norm"`
	Residual  float64 `json:"residual"`

	// FinishedAt, Outcome and Error are set once the run terminates.
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Outcome    engine.Outcome `json:"outcome,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ProgressEvent is one progress observation on the stream.
type ProgressEvent struct {
	RunID     string  `json:"run_id"`
	Mode      string  `json:"mode"`
	Iteration int     `json:"iteration"`
	Total     int     `json:"total"`
	Norm      float64 `json:"norm"`
	Residual  float64 `json:"residual"`
}

// newProgressEvent clamps non-finite norms so the event always
// serializes; a diverging run ends with its outcome, not a broken
// stream.
func newProgressEvent(runID string, p engine.Progress) ProgressEvent {
	return ProgressEvent{
		RunID:     runID,
		Mode:      p.Mode,
		Iteration: p.Iteration,
		Total:     p.Total,
		Norm:      finiteOrZero(p.Norm),
		Residual:  finiteOrZero(p.Residual),
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// NamesResponse lists stored run names.
type NamesResponse struct {
	Names []string `json:"names"`
}

// DeleteResponse reports how many records a delete removed.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}
