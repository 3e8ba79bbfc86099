// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the field engine over HTTP.
//
// The server accepts run submissions, executes them on a bounded pool
// of engine workers, streams progress over WebSockets, and serves
// stored run records and search trials. A spool directory offers a
// file-drop alternative to the HTTP submission path.
package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/telemetry"
)

// RouterConfig configures the HTTP router.
type RouterConfig struct {
	// ServiceName names spans produced by the tracing middleware.
	// Default: "fieldlab".
	ServiceName string

	// Debug enables Gin debug mode and per-request logging.
	Debug bool
}

// NewRouter builds the Gin engine with middleware and all routes.
//
// Description:
//
//	Assembles recovery and tracing middleware, root-level health probes
//	(/healthz, /readyz), the Prometheus /metrics endpoint when the
//	exporter is enabled, and the /v1/fieldlab API.
//
// Inputs:
//
//	cfg - Router configuration
//	handlers - The handlers instance
//
// Outputs:
//
//	*gin.Engine - Ready-to-serve router
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fieldlab"
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))

	// Root-level probes for load balancers and container runtimes.
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/readyz", handlers.HandleReady)

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	return router
}
