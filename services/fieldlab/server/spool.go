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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/CliffordLab/pkg/validation"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/config"
)

// Spool subdirectories for consumed files.
const (
	spoolArchiveDir = "archive"
	spoolFailedDir  = "failed"
)

// SpoolOptions configures the spool watcher.
type SpoolOptions struct {
	// DebounceWindow is how long a file must sit unchanged before it
	// is submitted. Default: 200ms.
	DebounceWindow time.Duration

	// RetryDelay is how long a file waits after a busy rejection
	// before it is retried. Default: 5s.
	RetryDelay time.Duration

	// BufferSize is the size of the pending-file channel. Default: 64.
	BufferSize int
}

// DefaultSpoolOptions returns sensible defaults.
func DefaultSpoolOptions() SpoolOptions {
	return SpoolOptions{
		DebounceWindow: 200 * time.Millisecond,
		RetryDelay:     5 * time.Second,
		BufferSize:     64,
	}
}

// Spool watches a directory for run specs and submits them.
//
// # Description
//
// Dropping a RunSpec YAML into the spool directory starts a run, which
// makes the service scriptable without HTTP: a sweep script writes
// files and the spool runs them as capacity allows. Accepted files move
// to archive/, broken ones to failed/, and busy rejections retry in
// place until a slot frees up. Writers should create specs atomically
// (write elsewhere, rename in); a file caught mid-write parses as
// broken and lands in failed/.
//
// # Debouncing
//
// Events are collected per file; a file is submitted once it has sat
// unchanged for the debounce window, so chunked writes do not trigger
// half-parsed submissions.
//
// # Thread Safety
//
// Safe for concurrent use. Files are submitted from a single goroutine.
type Spool struct {
	dir     string
	mgr     *Manager
	logger  *slog.Logger
	opts    SpoolOptions
	watcher *fsnotify.Watcher

	pending  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewSpool creates a spool over a directory, making it and its
// archive/ and failed/ subdirectories if needed.
//
// # Inputs
//
//   - dir: spool directory path.
//   - mgr: run manager receiving submissions.
//   - logger: optional; defaults to slog.Default().
//   - opts: optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Spool: ready-to-use spool (call Start to begin watching).
//   - error: non-nil if directories or the watcher could not be made.
func NewSpool(dir string, mgr *Manager, logger *slog.Logger, opts *SpoolOptions) (*Spool, error) {
	if opts == nil {
		defaults := DefaultSpoolOptions()
		opts = &defaults
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve spool dir: %w", err)
	}
	for _, d := range []string{abs, filepath.Join(abs, spoolArchiveDir), filepath.Join(abs, spoolFailedDir)} {
		if err := os.MkdirAll(d, 0750); err != nil {
			return nil, fmt.Errorf("create spool dir %s: %w", d, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Spool{
		dir:     abs,
		mgr:     mgr,
		logger:  logger,
		opts:    *opts,
		watcher: watcher,
		pending: make(chan string, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Start begins watching. Specs already sitting in the directory are
// picked up first.
func (s *Spool) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil // Already watching
	}
	s.watching = true
	s.mu.Unlock()

	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool dir: %w", err)
	}
	s.scanExisting()

	go s.processEvents(ctx)
	go s.debounceLoop(ctx)

	s.logger.Info("Spool watching", slog.String("dir", s.dir))
	return nil
}

// Stop stops the spool watcher.
func (s *Spool) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.watcher.Close()

		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	})
}

// IsWatching returns true if the spool is currently active.
func (s *Spool) IsWatching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watching
}

// scanExisting enqueues specs left over from before the spool started.
func (s *Spool) scanExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("Spool scan failed", slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if s.isSpecFile(path) {
			s.enqueue(path)
		}
	}
}

// isSpecFile reports whether a path is a spec the spool should submit.
func (s *Spool) isSpecFile(path string) bool {
	if filepath.Dir(path) != s.dir {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (s *Spool) enqueue(path string) {
	select {
	case s.pending <- path:
	default:
		// Buffer full; the file stays in the directory and the next
		// event or restart picks it up.
		s.logger.Warn("Spool buffer full, skipping event", slog.String("path", path))
	}
}

// processEvents filters watcher events into the pending channel.
func (s *Spool) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !s.isSpecFile(event.Name) {
				continue
			}
			s.enqueue(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Spool watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop submits files once they have sat unchanged for the
// debounce window.
func (s *Spool) debounceLoop(ctx context.Context) {
	waiting := make(map[string]time.Time)
	ticker := time.NewTicker(s.opts.DebounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case path := <-s.pending:
			waiting[path] = time.Now()
		case now := <-ticker.C:
			for path, touched := range waiting {
				if now.Sub(touched) < s.opts.DebounceWindow {
					continue
				}
				delete(waiting, path)
				s.process(ctx, path)
			}
		}
	}
}

// process loads one spec file and submits it.
func (s *Spool) process(ctx context.Context, path string) {
	logger := s.logger.With(slog.String("spool_file", filepath.Base(path)))

	if _, err := os.Stat(path); err != nil {
		// Already consumed, or the event was for a file since moved.
		return
	}

	spec, err := config.LoadFile(path)
	if err != nil {
		logger.Warn("Spool file rejected", slog.String("error", err.Error()))
		s.moveTo(path, spoolFailedDir, logger)
		recordSpoolFile(ctx, "failed")
		return
	}

	name, err := s.runName(spec, path)
	if err != nil {
		logger.Warn("Spool file rejected", slog.String("error", err.Error()))
		s.moveTo(path, spoolFailedDir, logger)
		recordSpoolFile(ctx, "failed")
		return
	}

	mode := ModeRelax
	if spec.Evolution != nil {
		mode = ModeEvolve
	}

	st, err := s.mgr.Submit(name, mode, spec)
	switch {
	case err == nil:
		logger.Info("Spool file accepted",
			slog.String("run_id", st.ID),
			slog.String("run", st.Name),
			slog.String("mode", st.Mode))
		s.moveTo(path, spoolArchiveDir, logger)
		recordSpoolFile(ctx, "accepted")
	case errors.Is(err, ErrBusy):
		logger.Info("Spool file waiting for a run slot")
		s.requeueLater(path)
		recordSpoolFile(ctx, "requeued")
	default:
		logger.Warn("Spool file rejected", slog.String("error", err.Error()))
		s.moveTo(path, spoolFailedDir, logger)
		recordSpoolFile(ctx, "failed")
	}
}

// runName picks the run name: the spec's own, or the file name.
func (s *Spool) runName(spec config.RunSpec, path string) (string, error) {
	if spec.Name != "" {
		return spec.Name, nil
	}
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return validation.SanitizeRunName(stem)
}

// moveTo renames a consumed file into a spool subdirectory, prefixed
// with a timestamp so repeated names never collide.
func (s *Spool) moveTo(path, subdir string, logger *slog.Logger) {
	dest := filepath.Join(s.dir, subdir,
		fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		logger.Warn("Failed to move spool file", slog.String("error", err.Error()))
	}
}

// requeueLater re-enqueues a busy-rejected file after the retry delay.
func (s *Spool) requeueLater(path string) {
	time.AfterFunc(s.opts.RetryDelay, func() {
		select {
		case <-s.done:
		default:
			s.enqueue(path)
		}
	})
}
