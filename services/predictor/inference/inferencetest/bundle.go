// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inferencetest writes small, valid stage bundles for tests.
package inferencetest

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// Shape of every bundle written by WriteBundle.
const (
	LatentDim = 2
	hiddenDim = 3
)

// Columns of the generated bundle.
var (
	LabelColumns   = []string{"required_gsm", "construction"}
	FeatureColumns = []string{"mc_gauge", "yarn_count", "stitch_length"}

	ConstructionClasses = []string{"Jersey", "Rib", "Interlock"}
	YarnCountClasses    = []string{"24", "26", "30"}
)

type options struct {
	rng *rand.Rand
}

// Option customises a generated bundle.
type Option func(*options)

// WithRandomWeights fills the decoder with pseudo-random weights drawn from
// seed, so the output depends on the sampled latent vector.
//
// Without it every weight and bias is zero and the decoder always yields
// 0.5, which inverse-transforms to
// {mc_gauge: 50, yarn_count: "30", stitch_length: 2.5}.
func WithRandomWeights(seed uint64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WriteBundle writes a complete bundle into root/stage and returns the
// stage directory.
func WriteBundle(t testing.TB, root, stage string, opts ...Option) string {
	t.Helper()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	dir := filepath.Join(root, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create bundle dir: %v", err)
	}

	metadata := map[string]any{
		"feature_dim":          len(FeatureColumns),
		"label_dim":            len(LabelColumns),
		"latent_dim":           LatentDim,
		"label_columns":        LabelColumns,
		"feature_columns":      FeatureColumns,
		"numerical_labels":     []string{"required_gsm"},
		"categorical_labels":   []string{"construction"},
		"numerical_features":   []string{"mc_gauge", "stitch_length"},
		"categorical_features": []string{"yarn_count"},
	}
	md, err := yaml.Marshal(metadata)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	writeFile(t, filepath.Join(dir, "metadata.yaml"), md)

	writeJSON(t, filepath.Join(dir, "label_encoders.json"), map[string][]string{
		"construction": ConstructionClasses,
		"yarn_count":   YarnCountClasses,
	})
	writeJSON(t, filepath.Join(dir, "label_scaler.json"), map[string]any{
		"kind":  "standard",
		"mean":  []float64{150},
		"scale": []float64{10},
	})
	writeJSON(t, filepath.Join(dir, "feature_transformer.json"), map[string]any{
		"kind":  "minmax",
		"scale": []float64{0.01, 0.25, 0.2},
		"min":   []float64{0, 0, 0},
	})

	in := LatentDim + len(LabelColumns)
	out := len(FeatureColumns)
	writeJSON(t, filepath.Join(dir, "decoder.json"), map[string]any{
		"decoder.0.weight": tensor(o.rng, hiddenDim, in),
		"decoder.0.bias":   tensor(o.rng, hiddenDim),
		"decoder.2.weight": tensor(o.rng, out, hiddenDim),
		"decoder.2.bias":   tensor(o.rng, out),
		// Encoder tensors share the file in a full state dict.
		"encoder.0.weight": tensor(nil, 1, 1),
	})
	return dir
}

func tensor(rng *rand.Rand, shape ...int) map[string]any {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float64, n)
	if rng != nil {
		for i := range data {
			data[i] = rng.Float64()*2 - 1
		}
	}
	return map[string]any{"shape": shape, "data": data}
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", filepath.Base(path), err)
	}
	writeFile(t, path, data)
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
