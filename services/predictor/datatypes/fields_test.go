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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fields Tests
// =============================================================================

func TestFields_MarshalKeepsInsertionOrder(t *testing.T) {
	f := NewFields(3)
	f.Set("zeta", 1.5)
	f.Set("alpha", "Rib")
	f.Set("mid", nil)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1.5,"alpha":"Rib","mid":null}`, string(data))
}

func TestFields_SetExistingKeyKeepsPosition(t *testing.T) {
	f := NewFields(2)
	f.Set("a", 1.0)
	f.Set("b", 2.0)
	f.Set("a", 3.0)

	assert.Equal(t, []string{"a", "b"}, f.Keys())
	v, ok := f.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, 2, f.Len())
}

func TestFields_UnmarshalKeepsInputOrder(t *testing.T) {
	var f Fields
	err := json.Unmarshal([]byte(`{"b":"x","a":2,"c":{"n":1}}`), &f)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, f.Keys())
	v, _ := f.Get("a")
	assert.Equal(t, 2.0, v)
}

func TestFields_UnmarshalRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[1,2]`, `"text"`, `12`} {
		var f Fields
		err := json.Unmarshal([]byte(input), &f)
		assert.Error(t, err, input)
	}
}

func TestFields_NilReceiver(t *testing.T) {
	var f *Fields
	assert.Equal(t, 0, f.Len())
	assert.Nil(t, f.Keys())
	_, ok := f.Get("x")
	assert.False(t, ok)

	data, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestFields_KeysIsCopy(t *testing.T) {
	f := NewFields(1)
	f.Set("a", 1.0)
	keys := f.Keys()
	keys[0] = "mutated"
	assert.Equal(t, []string{"a"}, f.Keys())
}

func TestFields_MapIsCopy(t *testing.T) {
	f := NewFields(1)
	f.Set("a", 1.0)
	m := f.Map()
	m["a"] = 2.0
	v, _ := f.Get("a")
	assert.Equal(t, 1.0, v)
}

// =============================================================================
// Response Tests
// =============================================================================

func TestPredictResponse_JSON(t *testing.T) {
	pred := NewFields(2)
	pred.Set("gray_gsm", 86.96)
	pred.Set("gray_dia", 37.5)

	data, err := json.Marshal(PredictResponse{Status: StatusSuccess, Predictions: pred})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"success","predictions":{"gray_gsm":86.96,"gray_dia":37.5}}`, string(data))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("boom")
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "boom", resp.Message)
}
