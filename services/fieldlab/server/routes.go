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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all field lab routes with the router.
//
// Description:
//
//	Registers all /v1/fieldlab/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Run Endpoints:
//
//	POST /v1/fieldlab/runs - Submit a run
//	GET  /v1/fieldlab/runs - List active and recently finished runs
//	GET  /v1/fieldlab/runs/:id - Get run status
//	POST /v1/fieldlab/runs/:id/cancel - Cancel a running run
//	GET  /v1/fieldlab/runs/:id/stream - Stream progress over WebSocket
//
// Result Endpoints:
//
//	GET    /v1/fieldlab/results - List stored run names
//	GET    /v1/fieldlab/results/:name - List records for a run name
//	DELETE /v1/fieldlab/results/:name - Delete records for a run name
//	GET    /v1/fieldlab/results/:name/:id - Get one run record
//	GET    /v1/fieldlab/results/:name/:id/spectrum - Spectral analysis of a record
//
// Search Endpoints:
//
//	GET /v1/fieldlab/searches/:name/trials - List trials for a search
//	GET /v1/fieldlab/searches/:name/best - Best scored trial for a search
//
// Health Endpoints:
//
//	GET /v1/fieldlab/health - Health check
//	GET /v1/fieldlab/ready - Readiness check
//
// Example:
//
//	mgr := server.NewManager(server.DefaultManagerConfig(), store, nil, logger)
//	handlers := server.NewHandlers(mgr, store)
//
//	v1 := router.Group("/v1")
//	server.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	fieldlab := rg.Group("/fieldlab")
	{
		// Run lifecycle
		fieldlab.POST("/runs", handlers.HandleSubmitRun)
		fieldlab.GET("/runs", handlers.HandleListActive)
		fieldlab.GET("/runs/:id", handlers.HandleRunStatus)
		fieldlab.POST("/runs/:id/cancel", handlers.HandleCancelRun)
		fieldlab.GET("/runs/:id/stream", handlers.HandleRunStream)

		// Stored results
		fieldlab.GET("/results", handlers.HandleListNames)
		fieldlab.GET("/results/:name", handlers.HandleListRuns)
		fieldlab.DELETE("/results/:name", handlers.HandleDeleteRuns)
		fieldlab.GET("/results/:name/:id", handlers.HandleGetRun)
		fieldlab.GET("/results/:name/:id/spectrum", handlers.HandleSpectrum)

		// Parameter searches
		fieldlab.GET("/searches/:name/trials", handlers.HandleListTrials)
		fieldlab.GET("/searches/:name/best", handlers.HandleBestTrial)

		// Health checks
		fieldlab.GET("/health", handlers.HandleHealth)
		fieldlab.GET("/ready", handlers.HandleReady)
	}
}
