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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNotNumeric is returned by ToFloat when a value has no numeric reading.
var ErrNotNumeric = errors.New("value is not numeric")

// ToFloat coerces a decoded JSON value to float64.
//
// # Description
//
// Request bodies come from HTML forms as often as from programs, so a
// numeric field may arrive as a JSON number, a numeric string ("12.5"),
// or a boolean. All three are accepted. Empty strings, nulls, objects and
// arrays are rejected.
//
// # Inputs
//
//   - v: A value produced by encoding/json (or a Go numeric literal in tests).
//
// # Outputs
//
//   - float64: The numeric reading of v.
//   - error: Wraps ErrNotNumeric when v cannot be read as a number or
//     reads as NaN or ±Inf ("NaN" and "Infinity" parse as floats).
func ToFloat(v any) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if !IsFinite(f) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrNotNumeric, FormatValue(v))
	}
	return f, nil
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, n.String())
		}
		return f, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(n)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("%w: null", ErrNotNumeric)
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}

// FormatValue renders a decoded JSON scalar the way it would be written by
// hand: strings verbatim, numbers without trailing zeros, booleans as
// "true"/"false". Nil renders as the empty string.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case json.Number:
		return n.String()
	case bool:
		return strconv.FormatBool(n)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// round2Limit is the magnitude from which float64 carries no fractional
// digits worth rounding and x*100 risks overflow.
const round2Limit = 1e15

// Round2 rounds x to two decimal places, half away from zero. Values of
// magnitude 1e15 or more, and non-finite values, are returned unchanged.
func Round2(x float64) float64 {
	if math.Abs(x) >= round2Limit || math.IsNaN(x) {
		return x
	}
	return math.Round(x*100) / 100
}
