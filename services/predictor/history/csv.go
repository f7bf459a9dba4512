// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCSVPath is where the CSV backend writes when no path is configured.
const DefaultCSVPath = "/tmp/process_history.csv"

// CSVStore keeps history in a single CSV file.
//
// # Description
//
// Every Upsert is a read-modify-write of the whole file. Writers are
// serialised by an in-process mutex and, across processes, by an exclusive
// flock on a sidecar "<path>.lock" file. The new contents are written to a
// temporary file in the same directory and renamed into place, so readers
// always see a complete file.
//
// # Thread Safety
//
// Safe for concurrent use, including by several processes sharing a path.
type CSVStore struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
	lock func(path string) (unlock func() error, err error)
}

// NewCSVStore returns a store backed by the CSV file at path. The file is
// created on first write.
func NewCSVStore(path string, opts ...Option) (*CSVStore, error) {
	if path == "" {
		path = DefaultCSVPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	o := buildOptions(opts)
	return &CSVStore{path: path, now: o.now, lock: lockFile}, nil
}

// Path returns the CSV file location.
func (s *CSVStore) Path() string {
	return s.path
}

// Upsert merges entry into the file. A failure to release the file lock is
// joined into the returned error.
func (s *CSVStore) Upsert(ctx context.Context, entry map[string]any) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	cells, err := normalize(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			err = errors.Join(err, fmt.Errorf("unlock history file: %w", uerr))
		}
	}()

	rows, err := s.read()
	if err != nil {
		return err
	}
	return s.write(upsertRows(rows, cells, s.now()))
}

// List returns every row, newest first. A missing file yields no rows.
func (s *CSVStore) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.read()
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// Close is a no-op; the file is not held open between calls.
func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) read() ([]row, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history header: %w", err)
	}

	var rows []row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read history row: %w", err)
		}
		rw := make(row, len(header))
		for i, name := range header {
			if i < len(rec) && rec[i] != "" {
				rw[name] = rec[i]
			}
		}
		rows = append(rows, rw)
	}
	return rows, nil
}

func (s *CSVStore) write(rows []row) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.csv")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.Write(Columns); err != nil {
		return fmt.Errorf("write history header: %w", err)
	}
	record := make([]string, len(Columns))
	for _, r := range rows {
		for i, col := range Columns {
			record[i] = r[col]
		}
		if err = w.Write(record); err != nil {
			return fmt.Errorf("write history row: %w", err)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("flush history file: %w", err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod history file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync history file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close history file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}
