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
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/server"
)

// =============================================================================
// Messages
// =============================================================================

// streamFrameMsg carries one stream frame into the event loop.
type streamFrameMsg struct {
	frame server.StreamMessage
}

// streamClosedMsg signals the stream ended, cleanly after a done frame
// or with the error that broke it.
type streamClosedMsg struct {
	err error
}

// =============================================================================
// Model
// =============================================================================

const (
	// maxWatchEvents caps the scrollback kept in the event log.
	maxWatchEvents = 512

	watchHeaderHeight = 4
	watchFooterHeight = 2
)

// watchModel is the live run view: a status header with a progress bar
// over a scrolling event log.
//
// The model stays open once the run finishes so the outcome can be
// read; q closes it. Runs keep going on the server either way.
type watchModel struct {
	runID    string
	status   *server.RunStatus
	outcome  string
	closed   bool
	closeErr error

	events   []string
	viewport viewport.Model
	ready    bool
	width    int
}

func newWatchModel(runID string) watchModel {
	return watchModel{runID: runID}
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		vpHeight := msg.Height - watchHeaderHeight - watchFooterHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.viewport.YPosition = watchHeaderHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshLog()

	case streamFrameMsg:
		m = m.applyFrame(msg.frame)

	case streamClosedMsg:
		m.closed = true
		m.closeErr = msg.err
		if msg.err != nil && m.outcome == "" {
			m.events = append(m.events, fmt.Sprintf("%s  stream closed: %v",
				time.Now().Format("15:04:05"), msg.err))
			m.refreshLog()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// applyFrame folds one stream frame into the model.
func (m watchModel) applyFrame(frame server.StreamMessage) watchModel {
	stamp := time.Now().Format("15:04:05")
	switch frame.Type {
	case "status":
		m.status = frame.Status
		if frame.Status != nil {
			m.events = append(m.events, fmt.Sprintf("%s  %s %q  state %s",
				stamp, frame.Status.Mode, frame.Status.Name, frame.Status.State))
			if frame.Status.State == server.StateFinished {
				m.outcome = string(frame.Status.Outcome)
			}
		}

	case "progress":
		if frame.Progress != nil {
			ev := *frame.Progress
			if m.status != nil {
				st := *m.status
				st.Iteration, st.Total, st.Norm, st.Residual = ev.Iteration, ev.Total, ev.Norm, ev.Residual
				m.status = &st
			}
			line := fmt.Sprintf("%s  %6d/%d  norm %.4e", stamp, ev.Iteration, ev.Total, ev.Norm)
			if ev.Mode == "relax" {
				line += fmt.Sprintf("  residual %.2e", ev.Residual)
			}
			m.events = append(m.events, line)
		}

	case "done":
		if frame.Status != nil {
			m.status = frame.Status
			m.outcome = string(frame.Status.Outcome)
		}
		m.events = append(m.events, fmt.Sprintf("%s  run finished: %s", stamp, m.outcome))
	}

	if len(m.events) > maxWatchEvents {
		m.events = m.events[len(m.events)-maxWatchEvents:]
	}
	m.refreshLog()
	return m
}

// refreshLog pushes the event lines into the viewport, keeping the tail
// in view unless the user scrolled away from it.
func (m *watchModel) refreshLog() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.events, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m watchModel) View() string {
	if !m.ready {
		return "connecting to run stream..."
	}

	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("clifford watch  " + m.runID))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.progressLine())
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(watchHelpStyle.Render("q quit   up/down scroll"))
	return b.String()
}

// statusLine summarizes the run's current state.
func (m watchModel) statusLine() string {
	if m.status == nil {
		return watchMutedStyle.Render("waiting for status frame")
	}
	st := m.status
	line := fmt.Sprintf("%s  %s  %s", st.Name, st.Mode, st.State)
	if m.outcome != "" {
		line += "  " + ux.OutcomeIcon(m.outcome).Render() + " " + m.outcome
	} else if m.closed {
		line += "  " + watchErrorStyle.Render("disconnected")
	}
	return line
}

// progressLine draws the bar for the latest observation.
func (m watchModel) progressLine() string {
	if m.status == nil || m.status.Total == 0 {
		return ""
	}
	st := m.status
	return fmt.Sprintf("%s %d/%d  norm %.4e",
		ux.ProgressBar(st.Iteration, st.Total, 30), st.Iteration, st.Total, st.Norm)
}

// =============================================================================
// Styles
// =============================================================================

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ux.ColorTealBright)

	watchMutedStyle = lipgloss.NewStyle().
			Foreground(ux.ColorSlate)

	watchErrorStyle = lipgloss.NewStyle().
			Foreground(ux.ColorError)

	watchHelpStyle = lipgloss.NewStyle().
			Foreground(ux.ColorSlate)
)
