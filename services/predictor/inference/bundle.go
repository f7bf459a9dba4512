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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Artifact file names inside a stage directory.
const (
	MetadataFile           = "metadata.yaml"
	LabelEncodersFile      = "label_encoders.json"
	LabelScalerFile        = "label_scaler.json"
	FeatureTransformerFile = "feature_transformer.json"
	DecoderFile            = "decoder.json"
)

// Metadata describes the shape of a stage model.
type Metadata struct {
	FeatureDim int `yaml:"feature_dim"`
	LabelDim   int `yaml:"label_dim"`
	LatentDim  int `yaml:"latent_dim"`

	// LabelColumns fixes the order of the condition vector.
	LabelColumns []string `yaml:"label_columns"`
	// FeatureColumns fixes the order of the decoded feature vector.
	FeatureColumns []string `yaml:"feature_columns"`

	NumericalLabels     []string `yaml:"numerical_labels"`
	CategoricalLabels   []string `yaml:"categorical_labels"`
	NumericalFeatures   []string `yaml:"numerical_features"`
	CategoricalFeatures []string `yaml:"categorical_features"`
}

// Bundle is the complete, validated artifact set of one stage.
//
// A Bundle is immutable once LoadBundle returns and is shared read-only by
// every request for its stage.
type Bundle struct {
	Stage              string
	Dir                string
	Metadata           Metadata
	Encoders           map[string]*LabelEncoder
	LabelScaler        *Scaler
	FeatureTransformer *Scaler
	Decoder            *Decoder
}

// LoadBundle reads and cross-checks every artifact in dir.
//
// # Description
//
// The stage name is the base name of dir. All five artifacts must be
// present. Besides per-file parsing, LoadBundle checks that the declared
// dimensions agree with the column lists, the transforms and the decoder,
// so that a bundle which loads can never fail Generate on a shape error.
//
// # Outputs
//
//   - *Bundle: The loaded bundle.
//   - error: File errors, parse errors, or ErrInvalidBundle.
func LoadBundle(dir string) (*Bundle, error) {
	b := &Bundle{
		Stage: filepath.Base(dir),
		Dir:   dir,
	}

	md, err := loadMetadata(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	b.Metadata = md

	if b.Encoders, err = loadLabelEncoders(filepath.Join(dir, LabelEncodersFile)); err != nil {
		return nil, err
	}
	if b.LabelScaler, err = loadScaler(filepath.Join(dir, LabelScalerFile)); err != nil {
		return nil, err
	}
	if b.FeatureTransformer, err = loadScaler(filepath.Join(dir, FeatureTransformerFile)); err != nil {
		return nil, err
	}
	if b.Decoder, err = LoadDecoder(filepath.Join(dir, DecoderFile)); err != nil {
		return nil, err
	}

	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("stage %s: %w", b.Stage, err)
	}
	return b, nil
}

func loadMetadata(path string) (Metadata, error) {
	var md Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return md, fmt.Errorf("read metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return md, nil
}

func (b *Bundle) validate() error {
	md := b.Metadata
	if md.LatentDim <= 0 {
		return fmt.Errorf("%w: latent_dim must be positive, got %d", ErrInvalidBundle, md.LatentDim)
	}
	if len(md.LabelColumns) != md.LabelDim {
		return fmt.Errorf("%w: label_dim is %d but %d label columns are listed",
			ErrInvalidBundle, md.LabelDim, len(md.LabelColumns))
	}
	if len(md.FeatureColumns) != md.FeatureDim {
		return fmt.Errorf("%w: feature_dim is %d but %d feature columns are listed",
			ErrInvalidBundle, md.FeatureDim, len(md.FeatureColumns))
	}
	if err := checkPartition("label", md.LabelColumns, md.NumericalLabels, md.CategoricalLabels); err != nil {
		return err
	}
	if err := checkPartition("feature", md.FeatureColumns, md.NumericalFeatures, md.CategoricalFeatures); err != nil {
		return err
	}
	for _, cols := range [][]string{md.CategoricalLabels, md.CategoricalFeatures} {
		for _, col := range cols {
			if _, ok := b.Encoders[col]; !ok {
				return fmt.Errorf("%w: no label encoder for categorical column %q", ErrInvalidBundle, col)
			}
		}
	}
	if got := b.LabelScaler.Dim(); got != len(md.NumericalLabels) {
		return fmt.Errorf("%w: label scaler covers %d columns, %d numerical labels declared",
			ErrInvalidBundle, got, len(md.NumericalLabels))
	}
	if got := b.FeatureTransformer.Dim(); got != md.FeatureDim {
		return fmt.Errorf("%w: feature transformer covers %d columns, feature_dim is %d",
			ErrInvalidBundle, got, md.FeatureDim)
	}
	if got, want := b.Decoder.InputDim(), md.LatentDim+md.LabelDim; got != want {
		return fmt.Errorf("%w: decoder expects %d inputs, latent_dim+label_dim is %d",
			ErrInvalidBundle, got, want)
	}
	if got := b.Decoder.OutputDim(); got != md.FeatureDim {
		return fmt.Errorf("%w: decoder yields %d features, feature_dim is %d",
			ErrInvalidBundle, got, md.FeatureDim)
	}
	return nil
}

// checkPartition verifies that numeric and categorical split all exactly once.
func checkPartition(kind string, all, numeric, categorical []string) error {
	seen := make(map[string]int, len(all))
	for _, c := range all {
		seen[c] = 0
	}
	for _, group := range [][]string{numeric, categorical} {
		for _, c := range group {
			n, ok := seen[c]
			if !ok {
				return fmt.Errorf("%w: %s column %q is not listed in %s_columns", ErrInvalidBundle, kind, c, kind)
			}
			seen[c] = n + 1
		}
	}
	for _, c := range all {
		if seen[c] != 1 {
			return fmt.Errorf("%w: %s column %q must be exactly one of numerical or categorical",
				ErrInvalidBundle, kind, c)
		}
	}
	return nil
}

// CategoricalOptions returns the classes of every encoder in the bundle.
func (b *Bundle) CategoricalOptions() map[string][]string {
	out := make(map[string][]string, len(b.Encoders))
	for col, enc := range b.Encoders {
		out[col] = append([]string(nil), enc.Classes...)
	}
	return out
}
