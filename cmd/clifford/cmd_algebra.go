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
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
)

// runAlgebraCommand prints the structure of the algebra a signature
// generates, without touching any lattice or store.
func runAlgebraCommand(cmd *cobra.Command, args []string) {
	model, err := algebra.New(algebraP, algebraQ)
	if err != nil {
		fatal(exitBadArgs, "build algebra", err)
	}

	p, q := model.Signature()
	metric := make([]byte, model.Dimension())
	for i := range metric {
		if model.Metric(i) > 0 {
			metric[i] = '+'
		} else {
			metric[i] = '-'
		}
	}

	ux.Title(fmt.Sprintf("Cl(%d,%d)", p, q))
	ux.KeyValue("Generators", fmt.Sprintf("%d  [%s]", model.Dimension(), metric), keyWidth)
	ux.KeyValue("Blades", strconv.Itoa(model.BladeCount()), keyWidth)

	counts := make([]int, model.Dimension()+1)
	for _, b := range model.Blades() {
		counts[b.Grade]++
	}
	parts := make([]string, len(counts))
	for g, n := range counts {
		parts[g] = fmt.Sprintf("%d:%d", g, n)
	}
	ux.KeyValue("Grades", strings.Join(parts, "  "), keyWidth)

	if !algebraBlades {
		return
	}

	rows := make([][]string, 0, model.BladeCount())
	for _, b := range model.Blades() {
		_, sign := model.Product(b.Index, b.Index)
		rows = append(rows, []string{
			strconv.Itoa(int(b.Index)),
			bladeName(b.Index),
			strconv.Itoa(b.Grade),
			fmt.Sprintf("%+d", sign),
		})
	}
	fmt.Println()
	ux.Table([]string{"INDEX", "BLADE", "GRADE", "SQUARE"}, rows)
}

// bladeName renders a basis blade from its generator bitmask, "1" for
// the scalar and "e1e4" style otherwise.
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
