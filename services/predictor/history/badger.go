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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// keyPrefix namespaces history rows in the database.
const keyPrefix = "history/"

// conflictRetries bounds retries of an upsert that lost a transaction race.
const conflictRetries = 32

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps one key per batch in an embedded BadgerDB.
//
// # Description
//
// Rows with a batch number live under "history/<batch_no>"; rows logged
// without one get a unique "history/~<uuid>" key so they always append.
// An upsert reads, merges and writes its key in a single transaction and
// is retried when a concurrent upsert of the same batch commits first.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadgerStore opens or creates the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig, opts ...Option) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history database")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create history database directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	o := buildOptions(opts)
	return &BadgerStore{db: db, now: o.now}, nil
}

// Upsert merges entry into the row of its batch.
func (s *BadgerStore) Upsert(ctx context.Context, entry map[string]any) error {
	cells, err := normalize(entry)
	if err != nil {
		return err
	}

	key := keyPrefix + cells[ColumnBatchNo]
	if cells[ColumnBatchNo] == "" {
		key = keyPrefix + "~" + uuid.NewString()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return s.upsertKey(txn, []byte(key), cells)
		})
		if !errors.Is(err, badger.ErrConflict) || attempt >= conflictRetries {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("upsert history row: %w", err)
	}
	return nil
}

func (s *BadgerStore) upsertKey(txn *badger.Txn, key []byte, cells row) error {
	item, err := txn.Get(key)
	var next row
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		next = newRow(cells, s.now())
	case err != nil:
		return err
	default:
		var old row
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &old)
		}); err != nil {
			return fmt.Errorf("decode history row %s: %w", key, err)
		}
		next = merge(old, cells)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// List returns every row, newest first.
func (s *BadgerStore) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []row
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode history row %s: %w", it.Item().Key(), err)
			}
			rows = append(rows, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
