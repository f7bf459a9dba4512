// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the prediction
// service.
//
// # Description
//
// Metrics include:
//   - Prediction counters by stage, kind (formula, model) and status
//   - Prediction latency histograms
//   - History write counters by result
//   - Model registry load failures by stage
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "knitpipe"

// Kind labels the path that served a prediction.
type Kind string

const (
	// KindFormula is a closed-form stage such as "order".
	KindFormula Kind = "formula"

	// KindModel is a CVAE-backed stage.
	KindModel Kind = "model"
)

// Status label values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus collectors of the prediction service.
//
// # Fields
//
//   - PredictRequestsTotal: Predictions by stage, kind and status.
//   - PredictDurationSeconds: Prediction latency by stage and kind.
//   - HistoryWritesTotal: History upserts by result.
//   - RegistryLoadFailuresTotal: Stage bundles that failed to load.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Labels: stage, kind (formula, model), status (success, error)
	PredictRequestsTotal *prometheus.CounterVec

	// Labels: stage, kind
	PredictDurationSeconds *prometheus.HistogramVec

	// Labels: result (success, error)
	HistoryWritesTotal *prometheus.CounterVec

	// Labels: stage
	RegistryLoadFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Target registry. prometheus.DefaultRegisterer in production, a
//     fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the collectors are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PredictRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "predict_requests_total",
				Help:      "Total number of prediction requests by stage, kind and status",
			},
			[]string{"stage", "kind", "status"},
		),

		PredictDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "predict_duration_seconds",
				Help:      "Prediction latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"stage", "kind"},
		),

		HistoryWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "history_writes_total",
				Help:      "Total history upserts by result",
			},
			[]string{"result"},
		),

		RegistryLoadFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "registry_load_failures_total",
				Help:      "Stage model bundles that failed to load",
			},
			[]string{"stage"},
		),
	}
}

// RecordPrediction records a completed prediction request.
func (m *Metrics) RecordPrediction(stage string, kind Kind, elapsed time.Duration, success bool) {
	if m == nil {
		return
	}
	m.PredictRequestsTotal.WithLabelValues(stage, string(kind), status(success)).Inc()
	m.PredictDurationSeconds.WithLabelValues(stage, string(kind)).Observe(elapsed.Seconds())
}

// RecordHistoryWrite records one history upsert.
func (m *Metrics) RecordHistoryWrite(success bool) {
	if m == nil {
		return
	}
	m.HistoryWritesTotal.WithLabelValues(status(success)).Inc()
}

// RecordLoadFailure records a stage bundle that could not be loaded.
func (m *Metrics) RecordLoadFailure(stage string) {
	if m == nil {
		return
	}
	m.RegistryLoadFailuresTotal.WithLabelValues(stage).Inc()
}

func status(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}
