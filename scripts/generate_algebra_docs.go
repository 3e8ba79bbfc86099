// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_algebra_docs generates a markdown reference for a Clifford
// algebra basis from its signature.
//
// Usage:
//
//	go run scripts/generate_algebra_docs.go > docs/algebra_reference.md
//	go run scripts/generate_algebra_docs.go -p 1 -q 3
//
// The generated documentation includes:
//   - Generator metric table
//   - Grade structure with per-grade dimensions
//   - Full blade inventory with squares
//   - Summary statistics
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
)

// GradeSection groups the blades of one grade for the reference.
type GradeSection struct {
	Grade  int
	Name   string
	Blades []algebra.Blade
}

func main() {
	p := flag.Int("p", 1, "generators squaring to +1")
	q := flag.Int("q", 8, "generators squaring to -1")
	flag.Parse()

	model, err := algebra.New(*p, *q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building algebra: %v\n", err)
		os.Exit(1)
	}

	sections := groupByGrade(model)
	generateMarkdown(model, sections)
}

// groupByGrade splits the blade basis into per-grade sections.
func groupByGrade(model *algebra.Model) []GradeSection {
	sections := make([]GradeSection, model.Dimension()+1)
	for g := range sections {
		sections[g] = GradeSection{Grade: g, Name: gradeName(g, model.Dimension())}
	}
	for _, b := range model.Blades() {
		sections[b.Grade].Blades = append(sections[b.Grade].Blades, b)
	}
	return sections
}

// gradeName returns the conventional name of a grade.
func gradeName(grade, dim int) string {
	if grade == dim {
		return "Pseudoscalar"
	}
	switch grade {
	case 0:
		return "Scalar"
	case 1:
		return "Vectors"
	case 2:
		return "Bivectors"
	case 3:
		return "Trivectors"
	default:
		return fmt.Sprintf("%d-vectors", grade)
	}
}

// generateMarkdown outputs the full markdown reference.
func generateMarkdown(model *algebra.Model, sections []GradeSection) {
	p, q := model.Signature()

	fmt.Printf("# Clifford Algebra Reference: Cl(%d,%d)\n", p, q)
	fmt.Println()
	fmt.Println("## Overview")
	fmt.Println()
	fmt.Printf("This document is the generated basis reference for Cl(%d,%d): %d\n", p, q, model.Dimension())
	fmt.Printf("generators spanning %d basis blades. The structure constants are\n", model.BladeCount())
	fmt.Println("built at startup by `services/fieldlab/algebra` and shared read-only")
	fmt.Println("by every simulation run.")
	fmt.Println()
	fmt.Printf("**Generated:** %s\n", time.Now().Format("2006-01-02 15:04:05 UTC"))
	fmt.Println()

	// Statistics
	squarePlus := 0
	squareMinus := 0
	squareZero := 0
	for _, b := range model.Blades() {
		_, sign := model.Product(b.Index, b.Index)
		switch {
		case sign > 0:
			squarePlus++
		case sign < 0:
			squareMinus++
		default:
			squareZero++
		}
	}

	fmt.Println("## Summary Statistics")
	fmt.Println()
	fmt.Println("| Metric | Count |")
	fmt.Println("|--------|-------|")
	fmt.Printf("| Generators | %d |\n", model.Dimension())
	fmt.Printf("| Basis Blades | %d |\n", model.BladeCount())
	fmt.Printf("| Grades | %d |\n", model.Dimension()+1)
	fmt.Printf("| Blades Squaring to +1 | %d |\n", squarePlus)
	fmt.Printf("| Blades Squaring to -1 | %d |\n", squareMinus)
	if squareZero > 0 {
		fmt.Printf("| Null Blades | %d |\n", squareZero)
	}
	fmt.Println()

	// Generator metric
	fmt.Println("## Generator Metric")
	fmt.Println()
	fmt.Println("| Generator | Square |")
	fmt.Println("|-----------|--------|")
	for i := 0; i < model.Dimension(); i++ {
		fmt.Printf("| `e%d` | %+d |\n", i+1, model.Metric(i))
	}
	fmt.Println()

	// Grade structure
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Grade Structure")
	fmt.Println()
	fmt.Println("| Grade | Name | Dimension |")
	fmt.Println("|-------|------|-----------|")
	for _, sec := range sections {
		fmt.Printf("| %d | %s | %d |\n", sec.Grade, sec.Name, len(sec.Blades))
	}
	fmt.Println()

	// Detailed sections per grade
	fmt.Println("---")
	fmt.Println()
	for _, sec := range sections {
		fmt.Printf("## Grade %d: %s\n", sec.Grade, sec.Name)
		fmt.Println()
		fmt.Println("| Index | Blade | Square |")
		fmt.Println("|-------|-------|--------|")
		for _, b := range sec.Blades {
			_, sign := model.Product(b.Index, b.Index)
			fmt.Printf("| %d | `%s` | %+d |\n", b.Index, bladeName(b.Index), sign)
		}
		fmt.Println()
	}
}

// bladeName renders a basis blade from its generator bitmask.
func bladeName(index uint16) string {
	if index == 0 {
		return "1"
	}
	var sb strings.Builder
	for i := 0; index != 0; i++ {
		if index&1 != 0 {
			fmt.Fprintf(&sb, "e%d", i+1)
		}
		index >>= 1
	}
	return sb.String()
}
