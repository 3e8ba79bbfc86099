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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/CliffordLab/pkg/logging"
	"github.com/AleutianAI/CliffordLab/pkg/ux"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
)

// Exit codes shared by all commands.
const (
	exitSuccess = 0
	exitFailure = 1
	exitBadArgs = 2
)

// fatal prints the error and exits with the given code.
func fatal(code int, msg string, err error) {
	if err != nil {
		ux.Error(fmt.Sprintf("%s: %v", msg, err))
	} else {
		ux.Error(msg)
	}
	os.Exit(code)
}

// defaultStoreDir is where run records live unless --store overrides it.
func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cliffordlab", "runs")
	}
	return filepath.Join(home, ".cliffordlab", "runs")
}

// openStore opens the badger-backed run store. The caller must invoke
// the returned closer once it is done with the store.
func openStore() (*badger.RunStore, func(), error) {
	dir := storeDir
	if dir == "" {
		dir = defaultStoreDir()
	}
	cfg := badger.DefaultConfig()
	cfg.Path = dir

	db, err := badger.OpenDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store at %s: %w", dir, err)
	}
	return badger.NewRunStore(db), func() { _ = db.Close() }, nil
}

// cliLogger builds the logger engines and stores run under. Warnings
// and errors reach stderr; --verbose opens the debug firehose.
func cliLogger() *slog.Logger {
	level := logging.LevelWarn
	if verboseOutput {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "clifford",
	}).Slog()
}

// signalContext returns a context canceled on SIGINT or SIGTERM, so a
// ctrl-C lands as a canceled run instead of a killed process.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resolveRecord finds a stored run: the newest under the name when the
// prefix is empty, an exact ID match, or the newest record whose ID
// starts with the prefix. Tables print 8-character IDs, so pasting one
// back has to work.
func resolveRecord(ctx context.Context, store *badger.RunStore, name, idPrefix string) (badger.RunRecord, error) {
	if idPrefix == "" {
		recs, err := store.ListRuns(ctx, name)
		if err != nil {
			return badger.RunRecord{}, err
		}
		if len(recs) == 0 {
			return badger.RunRecord{}, fmt.Errorf("no runs stored under %q", name)
		}
		return recs[len(recs)-1], nil
	}

	rec, err := store.GetRun(ctx, name, idPrefix)
	if err == nil {
		return rec, nil
	}
	recs, lerr := store.ListRuns(ctx, name)
	if lerr != nil {
		return badger.RunRecord{}, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if strings.HasPrefix(recs[i].ID, idPrefix) {
			return recs[i], nil
		}
	}
	return badger.RunRecord{}, err
}

// shortID trims a UUID down to its leading group for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration rounds an elapsed time for display.
func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Microsecond).String()
}
