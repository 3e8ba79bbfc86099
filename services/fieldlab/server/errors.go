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

import "errors"

var (
	// ErrBusy means every run slot is taken. Callers should retry
	// after a running field finishes.
	ErrBusy = errors.New("run capacity exhausted")

	// ErrUnknownRun means no active or recently finished run carries
	// the requested ID.
	ErrUnknownRun = errors.New("unknown run")

	// ErrInvalidMode means the requested mode is not relax or evolve.
	ErrInvalidMode = errors.New("invalid run mode")

	// ErrRunFinished means the run cannot be cancelled because it has
	// already terminated.
	ErrRunFinished = errors.New("run already finished")
)
