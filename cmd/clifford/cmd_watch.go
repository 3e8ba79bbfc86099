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
	"net/url"
	"os"
	"path"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/server"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	watchServerURL string // fieldlab server base URL
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// watchCmd follows a run on a fieldlab server live.
//
// # Description
//
// Connects to the server's progress stream for one run and shows it
// live: a status header with a progress bar over a scrolling event
// log. The stream carries the same observations the server's own
// progress tracking sees, so a search running on a big machine can be
// watched from a laptop.
//
// # Examples
//
//	clifford watch 9f3c2a7e-...             # Run ID from the submit response
//	clifford watch --server http://lab:8080 9f3c2a7e-...
//	clifford --personality machine watch 9f3c2a7e-...   # Line output, no TUI
//
// # Exit Codes
//
//	0 - run finished well, or the watch was quit before it finished
//	1 - run diverged, collapsed, or the stream could not be opened
//	2 - the server URL could not be parsed
var watchCmd = &cobra.Command{
	Use:   "watch [run-id]",
	Short: "Follow a run on a fieldlab server live",
	Long: `Streams a run's progress from a fieldlab server into a live view.

The view keeps a scrolling log of progress observations under a status
header. Quit with q; the run keeps going on the server. In machine
personality the stream is printed as plain progress lines instead.

Examples:
  clifford watch 9f3c2a7e-8b21-4f6e-9d4c-1a2b3c4d5e6f
  clifford watch --server http://lab:8080 9f3c2a7e-8b21-4f6e-9d4c-1a2b3c4d5e6f`,
	Args: cobra.ExactArgs(1),
	Run:  runWatchCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	watchCmd.Flags().StringVar(&watchServerURL, "server", "http://localhost:8080",
		"Base URL of the fieldlab server")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runWatchCommand(cmd *cobra.Command, args []string) {
	wsURL, err := streamURL(watchServerURL, args[0])
	if err != nil {
		fatal(exitBadArgs, "invalid server URL", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fatal(exitFailure, fmt.Sprintf("connect to %s", wsURL), err)
	}
	defer conn.Close()

	// Fall back to line output for non-TTY (piped output, CI/CD)
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if ux.GetPersonality().Level == ux.PersonalityMachine || !interactive {
		outcome := watchMachine(conn)
		if outcome != "" && !engine.Outcome(outcome).Success() {
			os.Exit(exitFailure)
		}
		return
	}

	p := tea.NewProgram(newWatchModel(args[0]), tea.WithAltScreen())
	go readFrames(conn, p)

	final, err := p.Run()
	if err != nil {
		fatal(exitFailure, "watch failed", err)
	}
	if m, ok := final.(watchModel); ok {
		if m.outcome != "" {
			ux.KeyValue("Outcome", m.outcome, keyWidth)
			if !engine.Outcome(m.outcome).Success() {
				os.Exit(exitFailure)
			}
		}
	}
}

// streamURL converts the server base URL into the run's websocket
// stream endpoint.
func streamURL(base, runID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path.Join(u.Path, "v1", "fieldlab", "runs", runID, "stream")
	return u.String(), nil
}

// readFrames pumps stream frames into the TUI until the stream ends.
// Sends to a finished program are dropped, so the goroutine drains
// cleanly whichever side ends first.
func readFrames(conn *websocket.Conn, p *tea.Program) {
	for {
		var msg server.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			p.Send(streamClosedMsg{err: err})
			return
		}
		p.Send(streamFrameMsg{frame: msg})
		if msg.Type == "done" {
			p.Send(streamClosedMsg{})
			return
		}
	}
}

// watchMachine follows the stream without a TUI, printing the same
// line-oriented progress a local run would, and returns the final
// outcome ("" when the stream broke first).
func watchMachine(conn *websocket.Conn) string {
	renderer := ux.NewProgressRenderer(os.Stdout)
	for {
		var msg server.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			renderer.Finalize()
			ux.Error(fmt.Sprintf("stream closed: %v", err))
			return ""
		}
		switch msg.Type {
		case "status":
			if msg.Status != nil {
				renderer.OnStart(msg.Status.Mode, msg.Status.Total)
			}
		case "progress":
			if msg.Progress != nil {
				renderer.OnCheck(ux.ProgressUpdate{
					Mode:      msg.Progress.Mode,
					Iteration: msg.Progress.Iteration,
					Total:     msg.Progress.Total,
					Norm:      msg.Progress.Norm,
					Residual:  msg.Progress.Residual,
				})
			}
		case "done":
			if msg.Status == nil {
				renderer.Finalize()
				return ""
			}
			var elapsed time.Duration
			if msg.Status.FinishedAt != nil {
				elapsed = msg.Status.FinishedAt.Sub(msg.Status.StartedAt)
			}
			renderer.OnDone(ux.RunOutcome{
				Outcome:    string(msg.Status.Outcome),
				Iterations: msg.Status.Iteration,
				FinalNorm:  msg.Status.Norm,
				Elapsed:    elapsed,
			})
			return string(msg.Status.Outcome)
		}
	}
}
