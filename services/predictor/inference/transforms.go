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
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
)

// =============================================================================
// Label Encoder
// =============================================================================

// LabelEncoder maps categorical values to dense integer codes.
//
// The code of a value is its index in Classes. Classes are frozen when the
// bundle is loaded.
type LabelEncoder struct {
	Classes []string
	index   map[string]int
}

// NewLabelEncoder builds an encoder over classes.
func NewLabelEncoder(classes []string) *LabelEncoder {
	e := &LabelEncoder{
		Classes: append([]string(nil), classes...),
		index:   make(map[string]int, len(classes)),
	}
	for i, c := range e.Classes {
		if _, dup := e.index[c]; !dup {
			e.index[c] = i
		}
	}
	return e
}

// Transform returns the code of v.
//
// Non-string values are formatted first, so a JSON number 30 matches the
// class "30". Unknown values fail with ErrUnseenCategory.
func (e *LabelEncoder) Transform(v any) (int, error) {
	s := datatypes.FormatValue(v)
	code, ok := e.index[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnseenCategory, s)
	}
	return code, nil
}

// InverseTransform returns the class nearest to a decoded code. The code
// is clamped into [0, len(Classes)-1] before the integer conversion, since
// converting an out-of-range float to int is implementation-defined. x must
// be finite.
func (e *LabelEncoder) InverseTransform(x float64) string {
	x = math.Round(math.Max(0, math.Min(x, float64(len(e.Classes)-1))))
	return e.Classes[int(x)]
}

// loadLabelEncoders reads a {column: [classes...]} JSON object.
func loadLabelEncoders(path string) (map[string]*LabelEncoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label encoders: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse label encoders %s: %w", path, err)
	}
	out := make(map[string]*LabelEncoder, len(raw))
	for col, classes := range raw {
		if len(classes) == 0 {
			return nil, fmt.Errorf("%w: encoder for %q has no classes", ErrInvalidBundle, col)
		}
		out[col] = NewLabelEncoder(classes)
	}
	return out, nil
}

// =============================================================================
// Scaler
// =============================================================================

// Scaler kinds understood by the loader.
const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
	ScalerIdentity = "identity"
)

// Scaler is a fitted per-column affine transform.
//
// # Description
//
// Two fitted forms are supported, named after the estimators that produce
// them:
//
//   - standard: t = (x - Mean) / Scale
//   - minmax:   t = x*Scale + Min
//
// identity passes values through and only checks the width.
//
// # Thread Safety
//
// Immutable after loading; safe for concurrent use.
type Scaler struct {
	Kind  string    `json:"kind"`
	Width int       `json:"width,omitempty"`
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale,omitempty"`
	Min   []float64 `json:"min,omitempty"`
}

// Dim returns the number of columns the scaler was fitted on.
func (s *Scaler) Dim() int {
	switch s.Kind {
	case ScalerStandard, ScalerMinMax:
		return len(s.Scale)
	default:
		return s.Width
	}
}

// validate checks that the fitted parameters agree with each other.
func (s *Scaler) validate() error {
	switch s.Kind {
	case ScalerStandard:
		if len(s.Mean) != len(s.Scale) {
			return fmt.Errorf("%w: standard scaler has %d means and %d scales",
				ErrInvalidBundle, len(s.Mean), len(s.Scale))
		}
	case ScalerMinMax:
		if len(s.Min) != len(s.Scale) {
			return fmt.Errorf("%w: minmax scaler has %d mins and %d scales",
				ErrInvalidBundle, len(s.Min), len(s.Scale))
		}
	case ScalerIdentity:
	default:
		return fmt.Errorf("%w: unknown scaler kind %q", ErrInvalidBundle, s.Kind)
	}
	for i, sc := range s.Scale {
		if sc == 0 {
			return fmt.Errorf("%w: scaler column %d has zero scale", ErrInvalidBundle, i)
		}
	}
	return nil
}

// Transform maps raw values into the fitted space.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != s.Dim() {
		return nil, fmt.Errorf("%w: scaler expects %d values, got %d", ErrDimensionMismatch, s.Dim(), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		switch s.Kind {
		case ScalerStandard:
			out[i] = (v - s.Mean[i]) / s.Scale[i]
		case ScalerMinMax:
			out[i] = v*s.Scale[i] + s.Min[i]
		default:
			out[i] = v
		}
	}
	return out, nil
}

// InverseTransform maps fitted-space values back to raw units.
func (s *Scaler) InverseTransform(t []float64) ([]float64, error) {
	if len(t) != s.Dim() {
		return nil, fmt.Errorf("%w: scaler expects %d values, got %d", ErrDimensionMismatch, s.Dim(), len(t))
	}
	out := make([]float64, len(t))
	for i, v := range t {
		switch s.Kind {
		case ScalerStandard:
			out[i] = v*s.Scale[i] + s.Mean[i]
		case ScalerMinMax:
			out[i] = (v - s.Min[i]) / s.Scale[i]
		default:
			out[i] = v
		}
	}
	return out, nil
}

func loadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scaler %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}
