// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records one row per production batch as it moves
// through the pipeline.
//
// # Description
//
// Each stage of the pipeline logs the values it suggested or measured
// against a batch number. Logging a batch that already exists merges the
// new values into the existing row; logging a new batch appends a row.
// The column set is fixed and every row materialises all of it.
//
// # Backends
//
//   - csv: a single CSV file, guarded by a mutex and an advisory file lock.
//   - badger: an embedded BadgerDB with one key per batch.
//
// Neither backend promises that data survives a restart of the host; the
// default CSV path lives under /tmp.
package history

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
)

// ErrMissingBatchNo is returned when an entry carries no batch_no key.
var ErrMissingBatchNo = errors.New("batch_no is required")

// TimestampLayout is the format of the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// Column names with special handling.
const (
	ColumnTimestamp = "timestamp"
	ColumnBatchNo   = "batch_no"
)

// Columns is the fixed, ordered column set of every record.
var Columns = []string{
	"timestamp", "batch_no", "shade_percent", "required_gsm", "required_dia",
	"construction", "composition",
	"sugg_gray_gsm", "sugg_gray_dia", "sugg_mc_dia", "sugg_mc_gauge",
	"sugg_yarn_count", "sugg_stitch_length", "sugg_tightness_factor",
	"produced_gray_gsm", "produced_gray_dia", "enzyme_percent",
	"sugg_dyed_gsm", "sugg_dyed_dia",
	"sugg_stenter_speed", "sugg_stenter_temp", "sugg_stenter_overfeed", "sugg_stenter_set_dia",
	"heat_set_gsm", "heat_set_dia",
	"sugg_compactor_speed", "sugg_compactor_temp", "sugg_compactor_overfeed", "sugg_compactor_set_dia",
	"finished_gsm", "finished_dia",
}

var knownColumns = func() map[string]bool {
	m := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		m[c] = true
	}
	return m
}()

// textColumns are returned as strings even when they look numeric.
var textColumns = map[string]bool{
	ColumnTimestamp: true,
	ColumnBatchNo:   true,
	"construction":  true,
	"composition":   true,
}

// Record is one history row in column order. Missing cells are "".
type Record = datatypes.Fields

// Store persists history rows.
//
// # Description
//
// Upsert merges entry into the row of the same batch_no, or appends a new
// row stamped with the current time when no such row exists or batch_no is
// empty. List returns every row, newest first.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Concurrent upserts of
// the same batch must merge, never lose one another's values.
type Store interface {
	Upsert(ctx context.Context, entry map[string]any) error
	List(ctx context.Context) ([]*Record, error)
	Close() error
}

type options struct {
	now func() time.Time
}

// Option customises a store.
type Option func(*options)

// WithClock replaces the clock used to stamp new rows.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// row is the storage form of a record: column to cell text.
type row map[string]string

// normalize converts a request entry to cells, dropping unknown keys and
// treating nulls and empty strings as absent.
func normalize(entry map[string]any) (row, error) {
	if _, ok := entry[ColumnBatchNo]; !ok {
		return nil, ErrMissingBatchNo
	}
	cells := make(row, len(entry))
	for k, v := range entry {
		if !knownColumns[k] {
			continue
		}
		if s := datatypes.FormatValue(v); s != "" {
			cells[k] = s
		}
	}
	return cells, nil
}

// newRow stamps cells as a freshly appended row.
func newRow(cells row, now time.Time) row {
	out := make(row, len(cells)+1)
	for k, v := range cells {
		out[k] = v
	}
	out[ColumnTimestamp] = now.Format(TimestampLayout)
	return out
}

// merge overlays the present cells of update onto old.
func merge(old, update row) row {
	out := make(row, len(Columns))
	for k, v := range old {
		if knownColumns[k] {
			out[k] = v
		}
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// upsertRows applies one entry to an in-memory table.
func upsertRows(rows []row, cells row, now time.Time) []row {
	if batch := cells[ColumnBatchNo]; batch != "" {
		for i, r := range rows {
			if r[ColumnBatchNo] == batch {
				rows[i] = merge(r, cells)
				return rows
			}
		}
	}
	return append(rows, newRow(cells, now))
}

// toRecords renders rows newest first.
func toRecords(rows []row) []*Record {
	sorted := make([]row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i][ColumnTimestamp] > sorted[j][ColumnTimestamp]
	})

	out := make([]*Record, 0, len(sorted))
	for _, r := range sorted {
		rec := datatypes.NewFields(len(Columns))
		for _, col := range Columns {
			rec.Set(col, cellValue(col, r[col]))
		}
		out = append(out, rec)
	}
	return out
}

func cellValue(col, s string) any {
	if s == "" || textColumns[col] {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !datatypes.IsFinite(f) {
		return s
	}
	return f
}
