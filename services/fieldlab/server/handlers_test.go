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
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/explore"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestServer(t *testing.T, cfg ManagerConfig) (*gin.Engine, *Manager, *badger.RunStore) {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := badger.NewRunStore(db)
	mgr := NewManager(cfg, store, nil, quietLogger())

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(mgr, store))
	return router, mgr, store
}

func submitBody(t *testing.T, name, mode string, spec config.RunSpec) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(SubmitRunRequest{Name: name, Mode: mode, Spec: spec})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewBuffer(body)
}

func doJSON(t *testing.T, router *gin.Engine, method, url string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req, _ = http.NewRequest(method, url, nil)
	} else {
		req, _ = http.NewRequest(method, url, body)
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_SubmitRun(t *testing.T) {
	router, mgr, _ := setupTestServer(t, ManagerConfig{})

	w := doJSON(t, router, "POST", "/v1/fieldlab/runs",
		submitBody(t, "http-run", ModeRelax, quickRelaxSpec()))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	var st RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if st.ID == "" {
		t.Fatal("response carries no run ID")
	}
	if st.Name != "http-run" || st.Mode != ModeRelax {
		t.Errorf("status = %q/%q, want http-run/relax", st.Name, st.Mode)
	}

	waitDone(t, mgr, st.ID)

	// The status endpoint reflects termination.
	w = doJSON(t, router, "GET", "/v1/fieldlab/runs/"+st.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint returned %d", w.Code)
	}
	var final RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &final); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}
	if final.State != StateFinished {
		t.Errorf("State = %q, want finished", final.State)
	}
	if final.Outcome != engine.OutcomeConverged {
		t.Errorf("Outcome = %v, want converged", final.Outcome)
	}

	// And the record is retrievable through the results API.
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/http-run/"+st.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("results endpoint returned %d: %s", w.Code, w.Body.String())
	}
	var rec badger.RunRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to unmarshal record: %v", err)
	}
	if rec.ID != st.ID {
		t.Errorf("record ID = %q, want %q", rec.ID, st.ID)
	}
}

func TestHandlers_SubmitRun_Invalid(t *testing.T) {
	router, _, _ := setupTestServer(t, ManagerConfig{})

	badLattice := quickRelaxSpec()
	badLattice.Lattice.D = 0
	badLatticeBody := submitBody(t, "ok-name", ModeRelax, badLattice).String()

	badModeBody := submitBody(t, "ok-name", "anneal", quickRelaxSpec()).String()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "invalid mode",
			body:       badModeBody,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_MODE",
		},
		{
			name:       "invalid lattice",
			body:       badLatticeBody,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SPEC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/v1/fieldlab/runs", bytes.NewBufferString(tt.body))
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, errResp.Code)
			}
		})
	}
}

func TestHandlers_SubmitRun_Busy(t *testing.T) {
	router, mgr, _ := setupTestServer(t, ManagerConfig{MaxConcurrent: 1})

	w := doJSON(t, router, "POST", "/v1/fieldlab/runs",
		submitBody(t, "hog", ModeEvolve, longEvolveSpec()))
	if w.Code != http.StatusAccepted {
		t.Fatalf("first submit returned %d", w.Code)
	}
	var st RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	w = doJSON(t, router, "POST", "/v1/fieldlab/runs",
		submitBody(t, "waiter", ModeRelax, quickRelaxSpec()))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SERVICE_BUSY" {
		t.Errorf("expected code 'SERVICE_BUSY', got %q", errResp.Code)
	}

	// Cancel over HTTP frees the slot.
	w = doJSON(t, router, "POST", "/v1/fieldlab/runs/"+st.ID+"/cancel", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("cancel returned %d", w.Code)
	}
	waitDone(t, mgr, st.ID)

	// A finished run cannot be canceled again.
	w = doJSON(t, router, "POST", "/v1/fieldlab/runs/"+st.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestHandlers_RunStatus_Unknown(t *testing.T) {
	router, _, _ := setupTestServer(t, ManagerConfig{})

	for _, url := range []string{
		"/v1/fieldlab/runs/no-such-id",
	} {
		w := doJSON(t, router, "GET", url, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s returned %d, want 404", url, w.Code)
		}
		var errResp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if errResp.Code != "UNKNOWN_RUN" {
			t.Errorf("expected code 'UNKNOWN_RUN', got %q", errResp.Code)
		}
	}

	w := doJSON(t, router, "POST", "/v1/fieldlab/runs/no-such-id/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cancel of unknown run returned %d, want 404", w.Code)
	}
}

func TestHandlers_ListActive(t *testing.T) {
	router, mgr, _ := setupTestServer(t, ManagerConfig{})

	st, err := mgr.Submit("listed", ModeRelax, quickRelaxSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, mgr, st.ID)

	w := doJSON(t, router, "GET", "/v1/fieldlab/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Runs []RunStatus `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(resp.Runs))
	}
	if resp.Runs[0].ID != st.ID {
		t.Errorf("listed ID = %q, want %q", resp.Runs[0].ID, st.ID)
	}
}

func TestHandlers_Results(t *testing.T) {
	router, _, store := setupTestServer(t, ManagerConfig{})
	ctx := context.Background()

	var firstID string
	for i, name := range []string{"stored-a", "stored-a", "stored-b"} {
		rec, err := store.PutRun(ctx, badger.RunRecord{
			Name:    name,
			Mode:    ModeRelax,
			Spec:    quickRelaxSpec(),
			Outcome: engine.OutcomeConverged,
		})
		if err != nil {
			t.Fatalf("PutRun %d: %v", i, err)
		}
		if i == 0 {
			firstID = rec.ID
		}
	}

	// Names are listed sorted.
	w := doJSON(t, router, "GET", "/v1/fieldlab/results", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var names NamesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(names.Names) != 2 || names.Names[0] != "stored-a" || names.Names[1] != "stored-b" {
		t.Errorf("Names = %v, want [stored-a stored-b]", names.Names)
	}

	// Listing one name returns its records.
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/stored-a", nil)
	var listResp struct {
		Runs []badger.RunRecord `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(listResp.Runs) != 2 {
		t.Fatalf("got %d records for stored-a, want 2", len(listResp.Runs))
	}

	// A single record by ID.
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/stored-a/"+firstID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get record returned %d", w.Code)
	}

	// Unknown ID and invalid name map to distinct errors.
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/stored-a/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown ID returned %d, want 404", w.Code)
	}
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/Bad!Name", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid name returned %d, want 400", w.Code)
	}

	// Deleting a name removes only its records.
	w = doJSON(t, router, "DELETE", "/v1/fieldlab/results/stored-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d", w.Code)
	}
	var del DeleteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &del); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if del.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", del.Deleted)
	}

	w = doJSON(t, router, "GET", "/v1/fieldlab/results", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(names.Names) != 1 || names.Names[0] != "stored-b" {
		t.Errorf("Names after delete = %v, want [stored-b]", names.Names)
	}
}

// sineRecord builds a stored evolution whose scalar trajectory is a
// pure sine, so its spectrum has a single unambiguous line.
func sineRecord(name string) badger.RunRecord {
	spec := quickRelaxSpec()
	spec.Params.Step = 0.1
	spec.Evolution = &config.EvolutionSpec{Steps: 640, SampleEvery: 10, Mode: "scalar"}

	// dt = Step * SampleEvery = 1.0; 64 samples of a 0.125-cycle sine
	// land exactly on bin 8.
	samples := make([]badger.SamplePoint, 64)
	for i := range samples {
		at := float64(i + 1)
		samples[i] = badger.SamplePoint{
			Step:       (i + 1) * 10,
			Time:       at * 0.1 * 10,
			ScalarMean: math.Sin(2 * math.Pi * 0.125 * at),
		}
	}
	return badger.RunRecord{
		Name:       name,
		Mode:       ModeEvolve,
		Spec:       spec,
		Outcome:    engine.OutcomeCompleted,
		Iterations: 640,
		Samples:    samples,
	}
}

func TestHandlers_Spectrum(t *testing.T) {
	router, _, store := setupTestServer(t, ManagerConfig{})
	ctx := context.Background()

	rec, err := store.PutRun(ctx, sineRecord("sine-run"))
	if err != nil {
		t.Fatalf("PutRun: %v", err)
	}

	w := doJSON(t, router, "GET", "/v1/fieldlab/results/sine-run/"+rec.ID+"/spectrum", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp SpectrumResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Samples != 64 {
		t.Errorf("Samples = %d, want 64", resp.Samples)
	}
	if resp.Dt != 1.0 {
		t.Errorf("Dt = %g, want 1.0", resp.Dt)
	}
	if resp.Series != "scalar_mean" {
		t.Errorf("Series = %q, want scalar_mean", resp.Series)
	}
	if len(resp.Peaks) == 0 {
		t.Fatal("no peaks found in a pure sine")
	}
	if got := resp.Peaks[0].Freq; math.Abs(got-0.125) > 0.01 {
		t.Errorf("leading peak at %g cycles, want 0.125", got)
	}

	// The peaks parameter caps the list.
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/sine-run/"+rec.ID+"/spectrum?peaks=1", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Peaks) != 1 {
		t.Errorf("got %d peaks with peaks=1, want 1", len(resp.Peaks))
	}

	// A non-positive cap is rejected.
	w = doJSON(t, router, "GET", "/v1/fieldlab/results/sine-run/"+rec.ID+"/spectrum?peaks=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("peaks=0 returned %d, want 400", w.Code)
	}
}

func TestHandlers_Spectrum_NoTrajectory(t *testing.T) {
	router, _, store := setupTestServer(t, ManagerConfig{})

	rec, err := store.PutRun(context.Background(), badger.RunRecord{
		Name:    "norm-only",
		Mode:    ModeRelax,
		Spec:    quickRelaxSpec(),
		Outcome: engine.OutcomeConverged,
	})
	if err != nil {
		t.Fatalf("PutRun: %v", err)
	}

	w := doJSON(t, router, "GET", "/v1/fieldlab/results/norm-only/"+rec.ID+"/spectrum", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "NO_SAMPLES" {
		t.Errorf("expected code 'NO_SAMPLES', got %q", errResp.Code)
	}
}

func TestHandlers_Trials(t *testing.T) {
	router, _, store := setupTestServer(t, ManagerConfig{})
	ctx := context.Background()

	sink, err := store.TrialSink("grid-a")
	if err != nil {
		t.Fatalf("TrialSink: %v", err)
	}
	trials := []explore.Trial{
		{ID: "t0", Index: 0, Scored: true, Score: 0.4},
		{ID: "t1", Index: 1, Scored: false, Note: "diverged"},
		{ID: "t2", Index: 2, Scored: true, Score: 0.1},
	}
	for _, tr := range trials {
		if err := sink.PutTrial(ctx, tr); err != nil {
			t.Fatalf("PutTrial %d: %v", tr.Index, err)
		}
	}

	w := doJSON(t, router, "GET", "/v1/fieldlab/searches/grid-a/trials", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var listResp struct {
		Trials []explore.Trial `json:"trials"`
		Count  int             `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if listResp.Count != 3 || len(listResp.Trials) != 3 {
		t.Fatalf("got %d trials, want 3", listResp.Count)
	}

	w = doJSON(t, router, "GET", "/v1/fieldlab/searches/grid-a/best", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("best returned %d", w.Code)
	}
	var best explore.Trial
	if err := json.Unmarshal(w.Body.Bytes(), &best); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if best.ID != "t2" {
		t.Errorf("best trial = %q, want t2", best.ID)
	}

	w = doJSON(t, router, "GET", "/v1/fieldlab/searches/no-such-search/best", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("best of unknown search returned %d, want 404", w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "NO_SCORED_TRIALS" {
		t.Errorf("expected code 'NO_SCORED_TRIALS', got %q", errResp.Code)
	}
}

func TestHandlers_HealthAndReady(t *testing.T) {
	router, _, _ := setupTestServer(t, ManagerConfig{})

	w := doJSON(t, router, "GET", "/v1/fieldlab/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health returned %d", w.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if health.Status != "ok" || health.Service != "fieldlab" {
		t.Errorf("health = %+v", health)
	}
	if health.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, health.Version)
	}

	w = doJSON(t, router, "GET", "/v1/fieldlab/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ready returned %d", w.Code)
	}
}

func TestHandlers_RequestIDEcho(t *testing.T) {
	router, _, _ := setupTestServer(t, ManagerConfig{})

	req, _ := http.NewRequest("POST", "/v1/fieldlab/runs", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want fixed-id", got)
	}

	// Without a client ID the server mints one.
	req, _ = http.NewRequest("POST", "/v1/fieldlab/runs", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("server did not mint a request ID")
	}
}

func TestNewRouter_RootProbes(t *testing.T) {
	_, mgr, store := setupTestServer(t, ManagerConfig{})
	router := NewRouter(RouterConfig{}, NewHandlers(mgr, store))

	for _, url := range []string{"/healthz", "/readyz"} {
		req, _ := http.NewRequest("GET", url, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s returned %d, want 200", url, w.Code)
		}
	}

	// The API group is mounted alongside the probes.
	req, _ := http.NewRequest("GET", "/v1/fieldlab/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("API group not mounted, /v1/fieldlab/results returned %d", w.Code)
	}
}
