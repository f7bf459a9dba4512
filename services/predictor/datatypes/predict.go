// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the wire types shared by the prediction
// service's handlers, registry and stores.
package datatypes

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Prediction holds the output columns of one stage, in output order.
// Numeric columns carry float64 values, categorical columns strings.
type Prediction = Fields

// PredictResponse is the body of a successful POST /api/predict/:stage.
type PredictResponse struct {
	Status      string      `json:"status"`
	Predictions *Prediction `json:"predictions"`
}

// StatusResponse is the body of a successful write, e.g. POST /api/log.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewErrorResponse builds an ErrorResponse carrying msg.
func NewErrorResponse(msg string) ErrorResponse {
	return ErrorResponse{Status: StatusError, Message: msg}
}

// StageInfo describes the inputs and outputs of a model-backed stage.
//
// CategoricalOptions lists the allowed values of every categorical column,
// inputs and outputs alike, so a form can render a select for each.
type StageInfo struct {
	Inputs             []string            `json:"inputs"`
	Outputs            []string            `json:"outputs"`
	CategoricalOptions map[string][]string `json:"categorical_options"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string   `json:"status"`
	Stages []string `json:"stages"`
}
