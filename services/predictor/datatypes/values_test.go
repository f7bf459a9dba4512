// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"float64", 12.5, 12.5},
		{"float32", float32(2), 2},
		{"int", 7, 7},
		{"int64", int64(-3), -3},
		{"json number", json.Number("4.25"), 4.25},
		{"numeric string", "180", 180},
		{"padded string", "  1.5 ", 1.5},
		{"true", true, 1},
		{"false", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToFloat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToFloat_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"empty string", ""},
		{"word", "abc"},
		{"nil", nil},
		{"slice", []any{1.0}},
		{"object", map[string]any{"a": 1.0}},
		{"NaN float", math.NaN()},
		{"+Inf float", math.Inf(1)},
		{"-Inf float32", float32(math.Inf(-1))},
		{"NaN string", "NaN"},
		{"Infinity string", "Infinity"},
		{"-Inf string", " -inf "},
		{"overflowing string", "1e400"},
		{"Inf json number", json.Number("+Inf")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToFloat(tt.in)
			assert.ErrorIs(t, err, ErrNotNumeric)
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"Single Jersey", "Single Jersey"},
		{30.0, "30"},
		{2.75, "2.75"},
		{float32(1.5), "1.5"},
		{12, "12"},
		{int64(5), "5"},
		{json.Number("08"), "08"},
		{true, "true"},
		{[]any{1.0}, "[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 86.96, Round2(100/1.15))
	assert.Equal(t, 62.5, Round2(62.5))
	assert.Equal(t, 0.13, Round2(0.125))
	assert.Equal(t, -1.24, Round2(-1.2351))
}

func TestRound2_LargeMagnitude(t *testing.T) {
	assert.Equal(t, 1e307, Round2(1e307))
	assert.Equal(t, -1e300, Round2(-1e300))
	assert.Equal(t, 1e15, Round2(1e15))
	assert.False(t, math.IsInf(Round2(math.MaxFloat64), 0))
	assert.True(t, math.IsNaN(Round2(math.NaN())))
	assert.True(t, math.IsInf(Round2(math.Inf(1)), 1))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(0))
	assert.True(t, IsFinite(-math.MaxFloat64))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
