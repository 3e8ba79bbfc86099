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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamMessage is one frame on the run progress stream.
type StreamMessage struct {
	// Type is "status" on connect, "progress" per observation, and
	// "done" as the final frame before the server closes.
	Type     string         `json:"type"`
	Status   *RunStatus     `json:"status,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleRunStream handles GET /v1/fieldlab/runs/:id/stream.
//
// Description:
//
//	Upgrades to a WebSocket and streams the run's progress. The first
//	frame is the current status, then one progress frame per stability
//	check, then a final done frame with the terminal status. Slow
//	clients miss progress frames rather than slowing the run.
func (h *Handlers) HandleRunStream(c *gin.Context) {
	id := c.Param("id")

	events, done, unsubscribe, err := h.mgr.Subscribe(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_RUN"})
		return
	}
	defer unsubscribe()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("Run stream client connected", "run_id", id)

	if st, stErr := h.mgr.Status(id); stErr == nil {
		if sendJSON(ws, StreamMessage{Type: "status", Status: &st}) != nil {
			return
		}
	}

	// The reader's only job is noticing the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, readErr := ws.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			slog.Info("Run stream client disconnected", "run_id", id)
			return
		case ev := <-events:
			if sendJSON(ws, StreamMessage{Type: "progress", Progress: &ev}) != nil {
				return
			}
		case <-done:
			// Flush progress buffered before termination
			for {
				select {
				case ev := <-events:
					if sendJSON(ws, StreamMessage{Type: "progress", Progress: &ev}) != nil {
						return
					}
					continue
				default:
				}
				break
			}

			final, stErr := h.mgr.Status(id)
			if stErr != nil {
				return
			}
			sendJSON(ws, StreamMessage{Type: "done", Status: &final})
			return
		}
	}
}
