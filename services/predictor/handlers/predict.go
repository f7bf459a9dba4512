// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the prediction API.
//
// Every failure is answered with datatypes.ErrorResponse:
//
//	{"status": "error", "message": "..."}
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/formula"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/middleware"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/observability"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/registry"
)

// HandlePredict serves POST /api/predict/:stage.
//
// # Description
//
// Formula stages are computed directly. Any other stage is looked up in
// the registry and sampled from its decoder; an unknown stage is a 404.
// Every other failure, including unseen categories and non-numeric
// inputs, is a 400 carrying the error text.
func HandlePredict(reg *registry.Registry, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		stage := c.Param("stage")
		logger := middleware.Logger(c).With("stage", stage)
		start := time.Now()

		inputs, ok := bindObject(c)
		if !ok {
			return
		}

		if formula.IsFormulaStage(stage) {
			pred, err := formula.Compute(stage, inputs)
			metrics.RecordPrediction(stage, observability.KindFormula, time.Since(start), err == nil)
			if err != nil {
				logger.Warn("formula prediction rejected", "error", err)
				c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(err.Error()))
				return
			}
			c.JSON(http.StatusOK, datatypes.PredictResponse{Status: datatypes.StatusSuccess, Predictions: pred})
			return
		}

		gen, ok := reg.Get(stage)
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.NewErrorResponse(
				fmt.Sprintf("Model for stage \"%s\" not loaded.", stage)))
			return
		}

		pred, err := gen.Generate(c.Request.Context(), inputs)
		metrics.RecordPrediction(stage, observability.KindModel, time.Since(start), err == nil)
		if err != nil {
			logger.Warn("model prediction rejected", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, datatypes.PredictResponse{Status: datatypes.StatusSuccess, Predictions: pred})
	}
}

// HandleModelsInfo serves GET /api/models/info.
func HandleModelsInfo(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Info())
	}
}

// HealthCheck serves GET /health.
func HealthCheck(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{Status: "ok", Stages: reg.Stages()})
	}
}

var errNotObject = errors.New("request body must be a JSON object")

// bindObject decodes the request body as a JSON object, answering 400 and
// returning false when it is not one.
func bindObject(c *gin.Context) (map[string]any, bool) {
	var body map[string]any
	err := c.ShouldBindJSON(&body)
	if err == nil && body == nil {
		err = errNotObject
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse("Invalid JSON body: "+err.Error()))
		return nil, false
	}
	return body, true
}
