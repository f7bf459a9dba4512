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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/history"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/middleware"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/observability"
)

// HandleLog serves POST /api/log: upsert one batch record.
func HandleLog(store history.Store, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, ok := bindObject(c)
		if !ok {
			return
		}

		err := store.Upsert(c.Request.Context(), entry)
		metrics.RecordHistoryWrite(err == nil)
		switch {
		case errors.Is(err, history.ErrMissingBatchNo):
			c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(err.Error()))
		case err != nil:
			middleware.Logger(c).Error("history upsert failed", "batch_no", entry[history.ColumnBatchNo], "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Log failed: "+err.Error()))
		default:
			c.JSON(http.StatusOK, datatypes.StatusResponse{Status: datatypes.StatusSuccess})
		}
	}
}

// HandleHistory serves GET /api/history: every record, newest first.
func HandleHistory(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := store.List(c.Request.Context())
		if err != nil {
			middleware.Logger(c).Error("history read failed", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("History read failed: "+err.Error()))
			return
		}
		if records == nil {
			records = []*history.Record{}
		}
		c.JSON(http.StatusOK, records)
	}
}
