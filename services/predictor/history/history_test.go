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
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances one second per call.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"csv": func(t *testing.T, clock *fakeClock) Store {
			s, err := NewCSVStore(filepath.Join(t.TempDir(), "history.csv"), WithClock(clock.Now))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T, clock *fakeClock) Store {
			s, err := OpenBadgerStore(BadgerConfig{InMemory: true}, WithClock(clock.Now))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t, newFakeClock()))
		})
	}
}

func cell(t *testing.T, rec *Record, col string) any {
	t.Helper()
	v, ok := rec.Get(col)
	require.True(t, ok, "column %s missing", col)
	return v
}

func TestStore_EmptyList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		recs, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestStore_AppendMaterialisesAllColumns(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, map[string]any{
			"batch_no":     "B-100",
			"required_gsm": "180",
			"construction": "Single Jersey",
			"not_a_column": "dropped",
		}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		rec := recs[0]
		assert.Equal(t, Columns, rec.Keys())
		assert.Equal(t, "B-100", cell(t, rec, "batch_no"))
		assert.Equal(t, 180.0, cell(t, rec, "required_gsm"))
		assert.Equal(t, "Single Jersey", cell(t, rec, "construction"))
		assert.Equal(t, "", cell(t, rec, "finished_gsm"))
		assert.Equal(t, "2024-05-01 08:00:01", cell(t, rec, "timestamp"))
		_, ok := rec.Get("not_a_column")
		assert.False(t, ok)
	})
}

func TestStore_MergeSameBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, map[string]any{
			"batch_no":      "B-7",
			"required_gsm":  180.0,
			"sugg_gray_gsm": 156.52,
		}))
		require.NoError(t, s.Upsert(ctx, map[string]any{
			"batch_no":          "B-7",
			"produced_gray_gsm": "150",
			"sugg_gray_gsm":     "",
			"required_gsm":      nil,
		}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		rec := recs[0]
		assert.Equal(t, 180.0, cell(t, rec, "required_gsm"))
		assert.Equal(t, 156.52, cell(t, rec, "sugg_gray_gsm"))
		assert.Equal(t, 150.0, cell(t, rec, "produced_gray_gsm"))
		assert.Equal(t, "2024-05-01 08:00:01", cell(t, rec, "timestamp"))
	})
}

func TestStore_NewValuesOverwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "B-1", "finished_gsm": 170.0}))
		require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "B-1", "finished_gsm": 172.5}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, 172.5, cell(t, recs[0], "finished_gsm"))
	})
}

func TestStore_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		entry := map[string]any{"batch_no": "B-9", "shade_percent": "3.5", "composition": "100% Cotton"}
		require.NoError(t, s.Upsert(ctx, entry))
		first, err := s.List(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Upsert(ctx, entry))
		second, err := s.List(ctx)
		require.NoError(t, err)

		require.Len(t, second, 1)
		assert.Equal(t, first[0].Map(), second[0].Map())
	})
}

func TestStore_ListNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, b := range []string{"B-1", "B-2", "B-3"} {
			require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": b}))
		}

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 3)

		var order []any
		for _, r := range recs {
			order = append(order, cell(t, r, "batch_no"))
		}
		assert.Equal(t, []any{"B-3", "B-2", "B-1"}, order)
	})
}

func TestStore_EmptyBatchAlwaysAppends(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "", "required_gsm": 1.0}))
		require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "", "required_gsm": 2.0}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})
}

func TestStore_MissingBatchNo(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.Upsert(context.Background(), map[string]any{"required_gsm": 1.0})
		assert.ErrorIs(t, err, ErrMissingBatchNo)
	})
}

func TestStore_NumericBatchNoStaysText(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "0042"}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "0042", cell(t, recs[0], "batch_no"))
	})
}

func TestStore_ConcurrentUpsertsMerge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		cols := []string{"sugg_stenter_speed", "sugg_stenter_temp", "sugg_stenter_overfeed", "sugg_stenter_set_dia",
			"sugg_compactor_speed", "sugg_compactor_temp", "sugg_compactor_overfeed", "sugg_compactor_set_dia"}

		var wg sync.WaitGroup
		for i, col := range cols {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "B-42", col: float64(i + 1)}))
			}()
		}
		wg.Wait()

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		for i, col := range cols {
			assert.Equal(t, float64(i+1), cell(t, recs[0], col), col)
		}
	})
}

func TestStore_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, s.Upsert(ctx, map[string]any{"batch_no": "B-1"}), context.Canceled)
		_, err := s.List(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRecord_JSONColumnOrder(t *testing.T) {
	rec := toRecords([]row{{"batch_no": "B-1", "finished_dia": "60"}})[0]
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var keys []string
	dec := json.NewDecoder(bytes.NewReader(data))
	_, _ = dec.Token()
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var skip any
		require.NoError(t, dec.Decode(&skip))
	}
	assert.Equal(t, Columns, keys)
}

// =============================================================================
// CSV Backend Tests
// =============================================================================

func TestCSVStore_FileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.csv")
	s, err := NewCSVStore(path, WithClock(newFakeClock().Now))
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), map[string]any{"batch_no": "B-1", "construction": "Rib, 1x1"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(Columns, ","), lines[0])
	assert.Contains(t, lines[1], `"Rib, 1x1"`)
}

func TestCSVStore_ReadsForeignColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	body := "batch_no,timestamp,legacy,finished_gsm\nB-5,2024-01-01 00:00:00,x,165\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := NewCSVStore(path)
	require.NoError(t, err)

	recs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "B-5", cell(t, recs[0], "batch_no"))
	assert.Equal(t, 165.0, cell(t, recs[0], "finished_gsm"))
	_, ok := recs[0].Get("legacy")
	assert.False(t, ok)
}

func TestCSVStore_SharedPathAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	a, err := NewCSVStore(path)
	require.NoError(t, err)
	b, err := NewCSVStore(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := a
			if i%2 == 1 {
				s = b
			}
			assert.NoError(t, s.Upsert(context.Background(), map[string]any{"batch_no": fmt.Sprintf("B-%d", i)}))
		}()
	}
	wg.Wait()

	recs, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 10)
}

func TestCSVStore_UnlockErrorIsReturned(t *testing.T) {
	errRelease := errors.New("release failed")
	s, err := NewCSVStore(filepath.Join(t.TempDir(), "history.csv"))
	require.NoError(t, err)
	var released bool
	s.lock = func(path string) (func() error, error) {
		return func() error {
			released = true
			return errRelease
		}, nil
	}

	err = s.Upsert(context.Background(), map[string]any{"batch_no": "B-1"})
	assert.ErrorIs(t, err, errRelease)
	assert.True(t, released)

	// The write itself went through before the release failed.
	recs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCSVStore_UnlockErrorJoinsReadError(t *testing.T) {
	errRelease := errors.New("release failed")
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("batch_no\n\"B-1\n"), 0o644))
	s, err := NewCSVStore(path)
	require.NoError(t, err)
	s.lock = func(string) (func() error, error) {
		return func() error { return errRelease }, nil
	}

	err = s.Upsert(context.Background(), map[string]any{"batch_no": "B-2"})
	assert.ErrorIs(t, err, csv.ErrQuote)
	assert.ErrorIs(t, err, errRelease)
}

func TestCSVStore_LockError(t *testing.T) {
	errBusy := errors.New("busy")
	s, err := NewCSVStore(filepath.Join(t.TempDir(), "history.csv"))
	require.NoError(t, err)
	s.lock = func(string) (func() error, error) { return nil, errBusy }

	err = s.Upsert(context.Background(), map[string]any{"batch_no": "B-1"})
	assert.ErrorIs(t, err, errBusy)
}

func TestNewCSVStore_DefaultPath(t *testing.T) {
	s, err := NewCSVStore("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCSVPath, s.Path())
}

// =============================================================================
// Badger Backend Tests
// =============================================================================

func TestOpenBadgerStore_RequiresPath(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, map[string]any{"batch_no": "B-1", "heat_set_gsm": 150.0}))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 150.0, cell(t, recs[0], "heat_set_gsm"))
}
