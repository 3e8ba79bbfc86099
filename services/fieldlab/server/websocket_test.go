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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
)

func dialStream(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/fieldlab/runs/" + id + "/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	if err := ws.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) StreamMessage {
	t.Helper()
	var msg StreamMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestRunStream_LiveRun(t *testing.T) {
	router, mgr, _ := setupTestServer(t, ManagerConfig{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	st, err := mgr.Submit("streamed", ModeEvolve, longEvolveSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ws := dialStream(t, srv, st.ID)

	// The first frame is always the current status.
	first := readFrame(t, ws)
	if first.Type != "status" {
		t.Fatalf("first frame type = %q, want status", first.Type)
	}
	if first.Status == nil || first.Status.ID != st.ID {
		t.Fatalf("status frame = %+v, want run %s", first.Status, st.ID)
	}

	// Progress frames follow on the check cadence.
	progressSeen := 0
	for progressSeen < 2 {
		msg := readFrame(t, ws)
		if msg.Type != "progress" {
			t.Fatalf("frame type = %q before cancellation, want progress", msg.Type)
		}
		if msg.Progress == nil || msg.Progress.RunID != st.ID {
			t.Fatalf("progress frame = %+v, want run %s", msg.Progress, st.ID)
		}
		progressSeen++
	}

	if _, err := mgr.Cancel(st.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Buffered progress may still arrive; the stream ends with a done
	// frame carrying the terminal status.
	for {
		msg := readFrame(t, ws)
		if msg.Type == "progress" {
			continue
		}
		if msg.Type != "done" {
			t.Fatalf("frame type = %q, want done", msg.Type)
		}
		if msg.Status == nil {
			t.Fatal("done frame carries no status")
		}
		if msg.Status.State != StateFinished {
			t.Errorf("done State = %q, want finished", msg.Status.State)
		}
		if msg.Status.Outcome != engine.OutcomeCanceled {
			t.Errorf("done Outcome = %v, want canceled", msg.Status.Outcome)
		}
		return
	}
}

func TestRunStream_FinishedRun(t *testing.T) {
	router, mgr, _ := setupTestServer(t, ManagerConfig{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	st, err := mgr.Submit("already-done", ModeRelax, quickRelaxSpec())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, mgr, st.ID)

	// Streaming a finished run yields its status and closes cleanly.
	ws := dialStream(t, srv, st.ID)

	first := readFrame(t, ws)
	if first.Type != "status" {
		t.Fatalf("first frame type = %q, want status", first.Type)
	}
	if first.Status.State != StateFinished {
		t.Errorf("status State = %q, want finished", first.Status.State)
	}

	last := readFrame(t, ws)
	if last.Type != "done" {
		t.Fatalf("second frame type = %q, want done", last.Type)
	}
	if last.Status.Outcome != engine.OutcomeConverged {
		t.Errorf("done Outcome = %v, want converged", last.Status.Outcome)
	}
}

func TestRunStream_UnknownRun(t *testing.T) {
	router, _, _ := setupTestServer(t, ManagerConfig{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/fieldlab/runs/no-such-id/stream"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		ws.Close()
		t.Fatal("dial of an unknown run succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %+v, want 404", resp)
	}
}
