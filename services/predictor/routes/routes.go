// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the HTTP surface of the prediction service.
package routes

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/handlers"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/history"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/observability"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the components the routes are bound to.
type Dependencies struct {
	Registry *registry.Registry
	Store    history.Store
	Metrics  *observability.Metrics

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// StaticDir, when set, serves index.html at / and the directory
	// under /static.
	StaticDir string
}

// SetupRoutes registers every route on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck(deps.Registry))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if deps.StaticDir != "" {
		router.StaticFile("/", filepath.Join(deps.StaticDir, "index.html"))
		router.StaticFS("/static", http.Dir(deps.StaticDir))
	}

	api := router.Group("/api")
	{
		api.GET("/models/info", handlers.HandleModelsInfo(deps.Registry))
		api.POST("/predict/:stage", handlers.HandlePredict(deps.Registry, deps.Metrics))
		api.POST("/log", handlers.HandleLog(deps.Store, deps.Metrics))
		api.GET("/history", handlers.HandleHistory(deps.Store))
	}
}
