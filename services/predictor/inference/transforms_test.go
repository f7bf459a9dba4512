// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LabelEncoder Tests
// =============================================================================

func TestLabelEncoder_Transform(t *testing.T) {
	enc := NewLabelEncoder([]string{"Jersey", "Rib", "30"})

	code, err := enc.Transform("Rib")
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	// JSON numbers match their formatted class.
	code, err = enc.Transform(30.0)
	require.NoError(t, err)
	assert.Equal(t, 2, code)
}

func TestLabelEncoder_UnseenCategory(t *testing.T) {
	enc := NewLabelEncoder([]string{"Jersey", "Rib"})

	_, err := enc.Transform("Interlock")
	assert.ErrorIs(t, err, ErrUnseenCategory)

	_, err = enc.Transform(nil)
	assert.ErrorIs(t, err, ErrUnseenCategory)
}

func TestLabelEncoder_InverseTransformClamps(t *testing.T) {
	enc := NewLabelEncoder([]string{"a", "b", "c"})

	assert.Equal(t, "a", enc.InverseTransform(-4))
	assert.Equal(t, "b", enc.InverseTransform(1))
	assert.Equal(t, "b", enc.InverseTransform(1.49))
	assert.Equal(t, "c", enc.InverseTransform(1.5))
	assert.Equal(t, "c", enc.InverseTransform(9))
}

func TestLabelEncoder_InverseTransformOutOfIntRange(t *testing.T) {
	enc := NewLabelEncoder([]string{"a", "b", "c"})

	assert.Equal(t, "c", enc.InverseTransform(1e300))
	assert.Equal(t, "a", enc.InverseTransform(-1e300))
	assert.Equal(t, "c", enc.InverseTransform(math.MaxFloat64))
	assert.Equal(t, "c", enc.InverseTransform(9.3e18))
}

func TestLoadLabelEncoders_RejectsEmptyClasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), LabelEncodersFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"construction":[]}`), 0o644))

	_, err := loadLabelEncoders(path)
	assert.ErrorIs(t, err, ErrInvalidBundle)
}

// =============================================================================
// Scaler Tests
// =============================================================================

func TestScaler_StandardRoundTrip(t *testing.T) {
	s := &Scaler{Kind: ScalerStandard, Mean: []float64{150, 0}, Scale: []float64{10, 2}}
	require.NoError(t, s.validate())

	out, err := s.Transform([]float64{170, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 1.5}, out, 1e-12)

	back, err := s.InverseTransform(out)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{170, 3}, back, 1e-12)
}

func TestScaler_MinMax(t *testing.T) {
	// Fitted on [100, 300]: scale = 1/200, min = -0.5.
	s := &Scaler{Kind: ScalerMinMax, Scale: []float64{0.005}, Min: []float64{-0.5}}
	require.NoError(t, s.validate())

	out, err := s.Transform([]float64{200})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out[0], 1e-12)

	back, err := s.InverseTransform([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 300, back[0], 1e-9)
}

func TestScaler_Identity(t *testing.T) {
	s := &Scaler{Kind: ScalerIdentity, Width: 2}
	require.NoError(t, s.validate())

	out, err := s.Transform([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out)
	assert.Equal(t, 2, s.Dim())
}

func TestScaler_DimensionMismatch(t *testing.T) {
	s := &Scaler{Kind: ScalerStandard, Mean: []float64{0}, Scale: []float64{1}}

	_, err := s.Transform([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.InverseTransform(nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestScaler_Validate(t *testing.T) {
	tests := []struct {
		name string
		s    Scaler
	}{
		{"unknown kind", Scaler{Kind: "robust"}},
		{"standard length mismatch", Scaler{Kind: ScalerStandard, Mean: []float64{1}, Scale: []float64{1, 2}}},
		{"minmax length mismatch", Scaler{Kind: ScalerMinMax, Min: []float64{1, 2}, Scale: []float64{1}}},
		{"zero scale", Scaler{Kind: ScalerStandard, Mean: []float64{1}, Scale: []float64{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.s.validate(), ErrInvalidBundle)
		})
	}
}

func TestLoadScaler(t *testing.T) {
	path := filepath.Join(t.TempDir(), LabelScalerFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"minmax","scale":[0.5],"min":[0]}`), 0o644))

	s, err := loadScaler(path)
	require.NoError(t, err)
	assert.Equal(t, ScalerMinMax, s.Kind)
	assert.Equal(t, 1, s.Dim())
}
