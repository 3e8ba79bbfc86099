// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import "errors"

// Sentinel errors for the state package.
var (
	// ErrAllocationFailed is returned when a tracked buffer cannot be
	// reserved, including injected failures during stress tests.
	ErrAllocationFailed = errors.New("buffer allocation failed")

	// ErrMemoryLimit is returned when an allocation would push the live
	// tracked bytes past the allocator's configured limit.
	ErrMemoryLimit = errors.New("allocator memory limit exceeded")

	// ErrInsufficientMemory is returned when the admission check finds
	// too little available system memory for the requested buffer.
	ErrInsufficientMemory = errors.New("insufficient available memory")

	// ErrInvalidPrecision is returned for an unknown precision spelling.
	ErrInvalidPrecision = errors.New("invalid precision")
)
