// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference turns a trained CVAE bundle into process-parameter
// suggestions.
//
// # Description
//
// A stage bundle holds the fitted preprocessing transforms and the decoder
// half of a conditional variational autoencoder. Generate runs the serving
// pipeline:
//
//	labels ─► scale/encode ─► condition ─┐
//	                      N(0,1) latent ─┴─► decoder ─► inverse transform ─► round
//
// Sampling is deliberately unseeded: two calls with the same labels return
// different suggestions drawn from the learned conditional distribution.
//
// # Thread Safety
//
// Bundles and Generators are immutable after construction and safe for
// concurrent use.
package inference

import (
	"context"
	"fmt"

	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	tracer = otel.Tracer("knitpipe.predictor.inference")
	meter  = otel.Meter("knitpipe.predictor.inference")

	// generations counts Generate calls by stage and outcome. Instrument
	// creation on the global delegating provider does not fail.
	generations, _ = meter.Int64Counter("knitpipe.inference.generations",
		metric.WithDescription("Decoder sampling runs by stage and outcome"))
)

// Sampler draws latent vectors.
type Sampler interface {
	// Sample returns n independent draws.
	Sample(n int) []float64
}

// NormalSampler draws from the standard normal distribution using the
// runtime's randomly seeded global source.
type NormalSampler struct{}

// Sample returns n independent N(0,1) draws.
func (NormalSampler) Sample(n int) []float64 {
	z := make([]float64, n)
	for i := range z {
		z[i] = distuv.UnitNormal.Rand()
	}
	return z
}

// Generator is the inference service of one stage.
type Generator struct {
	bundle  *Bundle
	sampler Sampler
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*Generator)

// WithSampler replaces the latent sampler. Intended for tests.
func WithSampler(s Sampler) GeneratorOption {
	return func(g *Generator) {
		g.sampler = s
	}
}

// NewGenerator wraps a loaded bundle.
func NewGenerator(b *Bundle, opts ...GeneratorOption) *Generator {
	g := &Generator{bundle: b, sampler: NormalSampler{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bundle returns the artifacts behind the generator.
func (g *Generator) Bundle() *Bundle {
	return g.bundle
}

// Info describes the stage for the models listing.
func (g *Generator) Info() datatypes.StageInfo {
	md := g.bundle.Metadata
	return datatypes.StageInfo{
		Inputs:             append([]string(nil), md.LabelColumns...),
		Outputs:            append([]string(nil), md.FeatureColumns...),
		CategoricalOptions: g.bundle.CategoricalOptions(),
	}
}

// Generate samples one set of feature values conditioned on labels.
//
// # Description
//
// Runs the full pipeline for a single request:
//  1. Split label columns into numeric and categorical per the metadata.
//  2. Scale the numeric labels with the fitted label scaler.
//  3. Encode each categorical label with its encoder.
//  4. Assemble the condition vector in label column order.
//  5. Draw a latent vector from N(0, I).
//  6. Decode latent ⧺ condition.
//  7. Inverse-transform the decoded vector to physical units.
//  8. Round categorical features to the nearest class index, clamp and decode.
//  9. Round numeric features to two decimals.
//
// # Inputs
//
//   - ctx: Carries the request span.
//   - labels: Raw label values keyed by column. Keys that are not label
//     columns are ignored.
//
// # Outputs
//
//   - *datatypes.Prediction: Feature values in feature column order.
//   - error: ErrMissingLabel, ErrInvalidValue, ErrUnseenCategory or
//     ErrDimensionMismatch. ErrInvalidValue also covers a decoded value
//     that is NaN or infinite. No partial result is returned.
func (g *Generator) Generate(ctx context.Context, labels map[string]any) (*datatypes.Prediction, error) {
	_, span := tracer.Start(ctx, "inference.generate")
	defer span.End()
	span.SetAttributes(attribute.String("stage", g.bundle.Stage))

	pred, err := g.generate(labels)
	generations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", g.bundle.Stage),
		attribute.Bool("ok", err == nil)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return pred, nil
}

func (g *Generator) generate(labels map[string]any) (*datatypes.Prediction, error) {
	md := g.bundle.Metadata

	condition, err := g.encodeLabels(labels)
	if err != nil {
		return nil, err
	}

	z := g.sampler.Sample(md.LatentDim)
	raw, err := g.bundle.Decoder.Decode(z, condition)
	if err != nil {
		return nil, err
	}

	values, err := g.bundle.FeatureTransformer.InverseTransform(raw)
	if err != nil {
		return nil, fmt.Errorf("inverse transform features: %w", err)
	}

	categorical := make(map[string]bool, len(md.CategoricalFeatures))
	for _, col := range md.CategoricalFeatures {
		categorical[col] = true
	}

	pred := datatypes.NewFields(len(md.FeatureColumns))
	for i, col := range md.FeatureColumns {
		if !datatypes.IsFinite(values[i]) {
			return nil, fmt.Errorf("%w: decoded %q is %v", ErrInvalidValue, col, values[i])
		}
		if categorical[col] {
			pred.Set(col, g.bundle.Encoders[col].InverseTransform(values[i]))
			continue
		}
		pred.Set(col, datatypes.Round2(values[i]))
	}
	return pred, nil
}

// encodeLabels builds the condition vector in label column order.
func (g *Generator) encodeLabels(labels map[string]any) ([]float64, error) {
	md := g.bundle.Metadata

	for _, col := range md.LabelColumns {
		if _, ok := labels[col]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingLabel, col)
		}
	}

	encoded := make(map[string]float64, len(md.LabelColumns))

	if len(md.NumericalLabels) > 0 {
		raw := make([]float64, len(md.NumericalLabels))
		for i, col := range md.NumericalLabels {
			v, err := datatypes.ToFloat(labels[col])
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %v", ErrInvalidValue, col, err)
			}
			raw[i] = v
		}
		scaled, err := g.bundle.LabelScaler.Transform(raw)
		if err != nil {
			return nil, fmt.Errorf("scale labels: %w", err)
		}
		for i, col := range md.NumericalLabels {
			if !datatypes.IsFinite(scaled[i]) {
				return nil, fmt.Errorf("%w: column %q scales out of range", ErrInvalidValue, col)
			}
			encoded[col] = scaled[i]
		}
	}

	for _, col := range md.CategoricalLabels {
		code, err := g.bundle.Encoders[col].Transform(labels[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		encoded[col] = float64(code)
	}

	condition := make([]float64, len(md.LabelColumns))
	for i, col := range md.LabelColumns {
		condition[i] = encoded[col]
	}
	return condition, nil
}
