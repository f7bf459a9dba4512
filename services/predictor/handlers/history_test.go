// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/history"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Upsert(context.Context, map[string]any) error {
	return errors.New("disk full")
}

func (failingStore) List(context.Context) ([]*history.Record, error) {
	return nil, errors.New("disk gone")
}

func (failingStore) Close() error { return nil }

func newHistoryRouter(t *testing.T, store history.Store, metrics *observability.Metrics) *gin.Engine {
	t.Helper()
	router := gin.New()
	router.POST("/api/log", HandleLog(store, metrics))
	router.GET("/api/history", HandleHistory(store))
	return router
}

func newCSVStore(t *testing.T) history.Store {
	t.Helper()
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store, err := history.NewCSVStore(filepath.Join(t.TempDir(), "history.csv"),
		history.WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}))
	require.NoError(t, err)
	return store
}

func TestHandleHistory_EmptyIsArray(t *testing.T) {
	router := newHistoryRouter(t, newCSVStore(t), nil)

	w := get(router, "/api/history")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestHandleLog_ThenHistory(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := newHistoryRouter(t, newCSVStore(t), metrics)

	w := post(router, "/api/log", `{"batch_no": "B-1", "required_gsm": "180", "construction": "Single Jersey"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	w = post(router, "/api/log", `{"batch_no": "B-1", "sugg_gray_gsm": 156.52}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = post(router, "/api/log", `{"batch_no": "B-2"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = get(router, "/api/history")
	require.Equal(t, http.StatusOK, w.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "B-2", rows[0]["batch_no"])
	assert.Equal(t, "B-1", rows[1]["batch_no"])
	assert.Equal(t, 180.0, rows[1]["required_gsm"])
	assert.Equal(t, 156.52, rows[1]["sugg_gray_gsm"])
	assert.Equal(t, "Single Jersey", rows[1]["construction"])
	assert.Equal(t, "", rows[1]["finished_dia"])
	assert.Len(t, rows[0], len(history.Columns))

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.HistoryWritesTotal.WithLabelValues("success")))
}

func TestHandleLog_MissingBatchNo(t *testing.T) {
	router := newHistoryRouter(t, newCSVStore(t), nil)

	w := post(router, "/api/log", `{"required_gsm": 180}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "batch_no")
}

func TestHandleLog_StoreFailure(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := newHistoryRouter(t, failingStore{}, metrics)

	w := post(router, "/api/log", `{"batch_no": "B-1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"Log failed: disk full"}`, w.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HistoryWritesTotal.WithLabelValues("error")))
}

func TestHandleLog_InvalidBody(t *testing.T) {
	router := newHistoryRouter(t, newCSVStore(t), nil)

	w := post(router, "/api/log", `["B-1"]`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHistory_StoreFailure(t *testing.T) {
	router := newHistoryRouter(t, failingStore{}, nil)

	w := get(router, "/api/history")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}
