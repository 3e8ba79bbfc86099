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
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func TestRootCommandRegistration(t *testing.T) {
	for _, name := range []string{
		"relax", "evolve", "sweep", "search",
		"results", "spectrum", "algebra", "init", "watch",
	} {
		assert.NotNil(t, findCommand(rootCmd, name), "command %q not registered", name)
	}

	results := findCommand(rootCmd, "results")
	require.NotNil(t, results)
	for _, name := range []string{"list", "show", "delete", "trials"} {
		assert.NotNil(t, findCommand(results, name), "results %q not registered", name)
	}
}

func TestRootPersistentFlags(t *testing.T) {
	for _, name := range []string{"personality", "store", "verbose"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag --%s not registered", name)
	}
}

func TestRootHelpListsCommands(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--help"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	out := buf.String()
	for _, name := range []string{"relax", "evolve", "sweep", "search", "results", "spectrum", "watch"} {
		assert.Contains(t, out, name)
	}
}

func TestRunDeleteRequiresForceFlag(t *testing.T) {
	results := findCommand(rootCmd, "results")
	require.NotNil(t, results)
	del := findCommand(results, "delete")
	require.NotNil(t, del)
	assert.NotNil(t, del.Flags().Lookup("force"))
}
