// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware of the prediction service.
//
//	Request
//	   │
//	   ▼
//	CORS ─► otelgin ─► RequestID ─► Handler
//	                       │
//	                       └─► request-scoped slog.Logger in the gin context
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/telemetry"
)

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Context keys.
const (
	loggerKey    = "knitpipe.logger"
	requestIDKey = "knitpipe.request_id"
)

// maxRequestIDLen bounds client-supplied request IDs.
const maxRequestIDLen = 128

// CORS allows every origin, matching the browser front end served from a
// different host during development.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID tags each request with an ID and an access-log line.
//
// # Description
//
// The ID is taken from X-Request-ID when the client sent a usable one and
// generated otherwise. It is echoed in the response header and attached,
// with the trace ID when one exists, to a child of base that handlers
// retrieve with Logger.
func RequestID(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		logger := base.With("request_id", id)
		if traceID := telemetry.TraceID(c.Request.Context()); traceID != "" {
			logger = logger.With("trace_id", traceID)
		}
		c.Set(requestIDKey, id)
		c.Set(loggerKey, logger)

		c.Next()

		logger.Debug("request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Logger returns the request-scoped logger, or slog.Default() outside a
// request tagged by RequestID.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

// GetRequestID returns the ID assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
