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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/analysis"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

// Handlers contains the HTTP handlers for the field lab service.
type Handlers struct {
	mgr   *Manager
	store *badger.RunStore
}

// NewHandlers creates handlers over a run manager and its store.
func NewHandlers(mgr *Manager, store *badger.RunStore) *Handlers {
	return &Handlers{mgr: mgr, store: store}
}

// HandleSubmitRun handles POST /v1/fieldlab/runs.
//
// Description:
//
//	Validates the submitted spec, admits the run if a slot is free and
//	returns its handle. The run executes in the background; progress is
//	available on the stream endpoint and the record lands in the store
//	when the run terminates.
//
// Response:
//
//	202 Accepted: RunStatus
//	400 Bad Request: Validation error
//	503 Service Unavailable: All run slots busy
func (h *Handlers) HandleSubmitRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitRun")

	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	name := req.Name
	if name == "" {
		name = req.Spec.Name
	}

	st, err := h.mgr.Submit(name, req.Mode, req.Spec)
	if err != nil {
		statusCode := http.StatusBadRequest
		errCode := "INVALID_SPEC"

		if errors.Is(err, ErrBusy) {
			statusCode = http.StatusServiceUnavailable
			errCode = "SERVICE_BUSY"
		} else if errors.Is(err, ErrInvalidMode) {
			errCode = "INVALID_MODE"
		} else if errors.Is(err, engine.ErrInvalidParams) {
			errCode = "INVALID_PARAMS"
		}

		logger.Warn("Run rejected", "error", err, "name", name, "mode", req.Mode)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Run admitted", "run_id", st.ID, "run", st.Name, "mode", st.Mode)
	c.JSON(http.StatusAccepted, st)
}

// HandleListActive handles GET /v1/fieldlab/runs.
func (h *Handlers) HandleListActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.mgr.Runs()})
}

// HandleRunStatus handles GET /v1/fieldlab/runs/:id.
func (h *Handlers) HandleRunStatus(c *gin.Context) {
	st, err := h.mgr.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_RUN"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleCancelRun handles POST /v1/fieldlab/runs/:id/cancel.
//
// Response:
//
//	202 Accepted: RunStatus (cancellation requested)
//	404 Not Found: Unknown run ID
//	409 Conflict: Run already finished
func (h *Handlers) HandleCancelRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCancelRun")

	st, err := h.mgr.Cancel(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRunFinished) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "RUN_FINISHED"})
			return
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_RUN"})
		return
	}

	logger.Info("Cancellation requested", "run_id", st.ID, "run", st.Name)
	c.JSON(http.StatusAccepted, st)
}

// HandleListNames handles GET /v1/fieldlab/results.
func (h *Handlers) HandleListNames(c *gin.Context) {
	names, err := h.store.Names(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_ERROR"})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, NamesResponse{Names: names})
}

// HandleListRuns handles GET /v1/fieldlab/results/:name.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	recs, err := h.store.ListRuns(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_NAME"})
		return
	}
	if recs == nil {
		recs = []badger.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": recs})
}

// HandleGetRun handles GET /v1/fieldlab/results/:name/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	rec, err := h.store.GetRun(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "RECORD_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_NAME"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleDeleteRuns handles DELETE /v1/fieldlab/results/:name.
func (h *Handlers) HandleDeleteRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteRuns")

	deleted, err := h.store.DeleteRuns(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_NAME"})
		return
	}

	logger.Info("Deleted run records", "name", c.Param("name"), "deleted", deleted)
	c.JSON(http.StatusOK, DeleteResponse{Deleted: deleted})
}

// SpectrumResponse is the body of the spectrum endpoint.
type SpectrumResponse struct {
	Name    string          `json:"name"`
	ID      string          `json:"id"`
	Samples int             `json:"samples"`
	Dt      float64         `json:"dt"`
	Series  string          `json:"series"`
	Peaks   []analysis.Peak `json:"peaks"`
}

// HandleSpectrum handles GET /v1/fieldlab/results/:name/:id/spectrum.
//
// Description:
//
//	Recomputes the mass spectrum of a stored evolution run from its
//	reduced trajectory. The scalar-mean series is used when the run
//	sampled the scalar channel or full fields; norm-only runs fall back
//	to the rectified norm series (frequencies doubled).
//
// Query Parameters:
//
//	peaks - maximum peaks to return (optional)
//
// Response:
//
//	200 OK: SpectrumResponse
//	400 Bad Request: Invalid name, or the record has no usable samples
//	404 Not Found: Record not found
func (h *Handlers) HandleSpectrum(c *gin.Context) {
	rec, err := h.store.GetRun(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "RECORD_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_NAME"})
		return
	}

	maxPeaks := 0
	if v := c.Query("peaks"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "peaks must be a positive integer", Code: "INVALID_REQUEST"})
			return
		}
		maxPeaks = n
	}

	series, seriesName, dt, err := recordSeries(rec)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "NO_SAMPLES"})
		return
	}

	peaks, err := analysis.MassCandidates(series, dt, maxPeaks)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "NO_SAMPLES"})
		return
	}
	if peaks == nil {
		peaks = []analysis.Peak{}
	}

	c.JSON(http.StatusOK, SpectrumResponse{
		Name:    rec.Name,
		ID:      rec.ID,
		Samples: len(series),
		Dt:      dt,
		Series:  seriesName,
		Peaks:   peaks,
	})
}

// recordSeries extracts the spectral input series from a stored record.
func recordSeries(rec badger.RunRecord) ([]float64, string, float64, error) {
	if rec.Spec.Evolution == nil || rec.Spec.Evolution.SampleEvery < 1 {
		return nil, "", 0, errors.New("record has no sampled trajectory")
	}
	if len(rec.Samples) < analysis.MinSamples {
		return nil, "", 0, analysis.ErrSeriesTooShort
	}

	dt := rec.Spec.Params.Step * float64(rec.Spec.Evolution.SampleEvery)
	series := make([]float64, len(rec.Samples))

	if rec.Spec.Evolution.Mode == "" || rec.Spec.Evolution.Mode == "norm" {
		for i, s := range rec.Samples {
			series[i] = s.Norm
		}
		return series, "norm", dt, nil
	}
	for i, s := range rec.Samples {
		series[i] = s.ScalarMean
	}
	return series, "scalar_mean", dt, nil
}

// HandleListTrials handles GET /v1/fieldlab/searches/:name/trials.
func (h *Handlers) HandleListTrials(c *gin.Context) {
	trials, err := h.store.ListTrials(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_NAME"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trials": trials, "count": len(trials)})
}

// HandleBestTrial handles GET /v1/fieldlab/searches/:name/best.
func (h *Handlers) HandleBestTrial(c *gin.Context) {
	best, err := h.store.BestTrial(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, badger.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_SCORED_TRIALS"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_NAME"})
		return
	}
	c.JSON(http.StatusOK, best)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "fieldlab",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /readyz. Ready means the store answers.
func (h *Handlers) HandleReady(c *gin.Context) {
	if _, err := h.store.Names(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "STORE_NOT_READY"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ready",
		Service: "fieldlab",
		Version: ServiceVersion,
	})
}

// getOrCreateRequestID returns the request's ID, minting one when the
// client did not send X-Request-ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
