// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"io"
	"math"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_Success(t *testing.T) {
	result := IconSuccess.Render()
	if result == "" {
		t.Error("expected non-empty result for IconSuccess")
	}
}

func TestIcon_Render_Warning(t *testing.T) {
	result := IconWarning.Render()
	if result == "" {
		t.Error("expected non-empty result for IconWarning")
	}
}

func TestIcon_Render_Error(t *testing.T) {
	result := IconError.Render()
	if result == "" {
		t.Error("expected non-empty result for IconError")
	}
}

func TestIcon_Render_Default(t *testing.T) {
	// Icons without specific styling render as themselves
	icons := []Icon{IconArrow, IconBullet, IconWave, IconDiamond}
	for _, icon := range icons {
		result := icon.Render()
		if result != string(icon) {
			t.Errorf("expected %q for %q, got %q", string(icon), icon, result)
		}
	}
}

func TestOutcomeIcon(t *testing.T) {
	tests := []struct {
		outcome string
		want    Icon
	}{
		{"converged", IconSuccess},
		{"completed", IconSuccess},
		{"iteration_limit", IconWarning},
		{"diverged", IconError},
		{"collapsed", IconError},
		{"canceled", IconError},
		{"", IconPending},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			if got := OutcomeIcon(tt.outcome); got != tt.want {
				t.Errorf("OutcomeIcon(%q) = %q, want %q", tt.outcome, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Title Tests
// =============================================================================

func TestTitle_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Title("Field Lab")
	})

	// In machine mode, Title should output nothing
	if output != "" {
		t.Errorf("expected no output in machine mode, got %q", output)
	}
}

func TestTitle_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Title("Field Lab")
	})

	if output == "" {
		t.Error("expected styled output in full mode")
	}
}

// =============================================================================
// Message Helper Tests
// =============================================================================

func TestSuccess_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Success("run converged")
	})

	if output != "OK: run converged\n" {
		t.Errorf("expected 'OK: run converged', got %q", output)
	}
}

func TestSuccess_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Success("run converged")
	})

	if output == "" {
		t.Error("expected styled output in full mode")
	}
}

func TestWarning_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStderr(func() {
		Warning("run diverged")
	})

	if output != "WARN: run diverged\n" {
		t.Errorf("expected 'WARN: run diverged', got %q", output)
	}
}

func TestError_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStderr(func() {
		Error("store unreachable")
	})

	if output != "ERROR: store unreachable\n" {
		t.Errorf("expected 'ERROR: store unreachable', got %q", output)
	}
}

func TestInfo_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Info("4 records")
	})

	if output != "4 records\n" {
		t.Errorf("expected plain text in machine mode, got %q", output)
	}
}

func TestMuted_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Muted("secondary text")
	})

	if output != "" {
		t.Errorf("expected no output in machine mode, got %q", output)
	}
}

// =============================================================================
// Box Tests
// =============================================================================

func TestBox_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Box("Best Trial", "score 0.0421")
	})

	if output != "Best Trial: score 0.0421\n" {
		t.Errorf("expected plain 'title: content' line, got %q", output)
	}
}

func TestBox_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Box("Best Trial", "score 0.0421")
	})

	if !strings.Contains(output, "score 0.0421") {
		t.Errorf("expected box content in output, got %q", output)
	}
}

// =============================================================================
// KeyValue Tests
// =============================================================================

func TestKeyValue_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		KeyValue("final norm", "1.25", 12)
	})

	if output != "final_norm=1.25\n" {
		t.Errorf("expected 'final_norm=1.25', got %q", output)
	}
}

func TestKeyValue_Alignment(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		KeyValue("mode", "evolve", 10)
	})

	if !strings.Contains(output, "evolve") {
		t.Errorf("expected value in output, got %q", output)
	}
}

// =============================================================================
// RunLine / RunSummary Tests
// =============================================================================

func TestRunLine_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		RunLine("vacuum-8", IconSuccess, "converged")
	})

	if output != "✓\tvacuum-8\tconverged\n" {
		t.Errorf("expected tab-separated line, got %q", output)
	}
}

func TestRunSummary_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		RunSummary(3, 1, 4)
	})

	if output != "SUMMARY: stable=3 unstable=1 total=4\n" {
		t.Errorf("expected summary line, got %q", output)
	}
}

// =============================================================================
// Table Tests
// =============================================================================

func TestTable_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Table([]string{"NAME", "OUTCOME"}, [][]string{
			{"vacuum-8", "converged"},
			{"sweep-16", "diverged"},
		})
	})

	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), output)
	}
	if lines[0] != "NAME\tOUTCOME" {
		t.Errorf("expected tab-separated header, got %q", lines[0])
	}
	if lines[1] != "vacuum-8\tconverged" {
		t.Errorf("expected tab-separated row, got %q", lines[1])
	}
}

func TestTable_FullMode_AlignsColumns(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Table([]string{"N", "OUTCOME"}, [][]string{
			{"a", "converged"},
			{"longer-name", "diverged"},
		})
	})

	if !strings.Contains(output, "longer-name") {
		t.Errorf("expected rows in output, got %q", output)
	}
	if !strings.Contains(output, "converged") {
		t.Errorf("expected cell content in output, got %q", output)
	}
}

// =============================================================================
// ProgressBar Tests
// =============================================================================

func TestProgressBar_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	result := ProgressBar(50, 100, 20)
	if result != "50/100" {
		t.Errorf("expected '50/100', got %q", result)
	}
}

func TestProgressBar_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	result := ProgressBar(50, 100, 20)
	if !strings.Contains(result, "50%") {
		t.Errorf("expected percentage in output, got %q", result)
	}
}

func TestProgressBar_OverBudget(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	// Iteration past the budget clamps to 100%
	result := ProgressBar(150, 100, 20)
	if !strings.Contains(result, "100%") {
		t.Errorf("expected clamped percentage, got %q", result)
	}
}

// =============================================================================
// Sparkline Tests
// =============================================================================

func TestSparkline_Empty(t *testing.T) {
	if got := Sparkline(nil, 10); got != "" {
		t.Errorf("expected empty string for empty series, got %q", got)
	}
	if got := Sparkline([]float64{1, 2}, 0); got != "" {
		t.Errorf("expected empty string for zero width, got %q", got)
	}
}

func TestSparkline_Monotonic(t *testing.T) {
	got := Sparkline([]float64{0, 1, 2, 3, 4, 5, 6, 7}, 8)
	if got != "▁▂▃▄▅▆▇█" {
		t.Errorf("expected full ramp, got %q", got)
	}
}

func TestSparkline_Flat(t *testing.T) {
	got := Sparkline([]float64{2, 2, 2}, 8)
	if len([]rune(got)) != 3 {
		t.Fatalf("expected 3 bars, got %q", got)
	}
	for _, r := range got {
		if r != '▅' {
			t.Errorf("expected mid-height bars for flat series, got %q", got)
			break
		}
	}
}

func TestSparkline_TruncatesToWidth(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	got := Sparkline(values, 10)
	if len([]rune(got)) != 10 {
		t.Errorf("expected 10 bars, got %d: %q", len([]rune(got)), got)
	}
	// The window keeps the most recent values, so it ends at maximum
	if []rune(got)[9] != '█' {
		t.Errorf("expected last bar at full height, got %q", got)
	}
}

func TestSparkline_NonFinite(t *testing.T) {
	got := Sparkline([]float64{1, math.NaN(), 3}, 8)
	if []rune(got)[1] != ' ' {
		t.Errorf("expected space for NaN, got %q", got)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestRepeatChar(t *testing.T) {
	if got := repeatChar('x', 3); got != "xxx" {
		t.Errorf("expected 'xxx', got %q", got)
	}
	if got := repeatChar('x', 0); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := repeatChar('x', -1); got != "" {
		t.Errorf("expected empty string for negative count, got %q", got)
	}
}

func TestPadRight(t *testing.T) {
	if got := padRight("ab", 4); got != "ab  " {
		t.Errorf("expected 'ab  ', got %q", got)
	}
	if got := padRight("abcd", 2); got != "abcd" {
		t.Errorf("expected unchanged string, got %q", got)
	}
}
