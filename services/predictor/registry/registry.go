// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry loads every model-backed stage at startup and serves
// them read-only afterwards.
//
// # Description
//
// The models directory holds one subdirectory per stage:
//
//	models/
//	├── knitting/   metadata.yaml, label_encoders.json, ...
//	├── stenter/
//	└── compactor/
//
// Directories named after formula stages are skipped. Bundles load in
// parallel; a stage that fails to load is logged and left out, and the
// remaining stages are still served.
//
// # Thread Safety
//
// A Registry is never mutated after Load returns and is safe for concurrent
// use without locking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/formula"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/inference"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ErrStageNotLoaded is returned for a stage with no loaded model.
var ErrStageNotLoaded = errors.New("stage not loaded")

// DefaultConcurrency bounds parallel bundle loads when Options leaves it unset.
const DefaultConcurrency = 4

var tracer = otel.Tracer("knitpipe.predictor.registry")

// Options configures Load.
type Options struct {
	// Logger receives load warnings and failures. Defaults to slog.Default().
	Logger *slog.Logger

	// Concurrency bounds parallel bundle loads.
	Concurrency int

	// Metrics counts load failures. May be nil.
	Metrics *observability.Metrics

	// GeneratorOptions are applied to every stage generator.
	GeneratorOptions []inference.GeneratorOption
}

// Registry maps stage names to their inference services.
type Registry struct {
	stages map[string]*inference.Generator
}

// New builds a registry from already constructed generators.
func New(generators ...*inference.Generator) *Registry {
	r := &Registry{stages: make(map[string]*inference.Generator, len(generators))}
	for _, g := range generators {
		r.stages[g.Bundle().Stage] = g
	}
	return r
}

// Load scans dir and loads every stage bundle found there.
//
// # Description
//
// A missing models directory yields an empty registry and a warning, so
// the formula stages and the history log keep working. Per-stage failures
// never fail Load; only a cancelled context or an unreadable directory do.
//
// # Inputs
//
//   - ctx: Cancels loading.
//   - dir: The models directory.
//   - opts: Logger, concurrency and metrics.
//
// # Outputs
//
//   - *Registry: The loaded stages.
//   - error: Non-nil only when dir cannot be listed or ctx is done.
func Load(ctx context.Context, dir string, opts Options) (*Registry, error) {
	ctx, span := tracer.Start(ctx, "registry.load")
	defer span.End()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("models directory not found, no model stages will be served", "dir", dir)
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read models directory: %w", err)
	}

	var (
		mu     sync.Mutex
		loaded []*inference.Generator
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, entry := range entries {
		if !entry.IsDir() || formula.IsFormulaStage(entry.Name()) {
			continue
		}
		stageDir := filepath.Join(dir, entry.Name())
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			bundle, err := inference.LoadBundle(stageDir)
			if err != nil {
				logger.Error("failed to load stage model", "stage", entry.Name(), "error", err)
				opts.Metrics.RecordLoadFailure(entry.Name())
				return nil
			}
			logger.Info("loaded stage model",
				"stage", bundle.Stage,
				"labels", len(bundle.Metadata.LabelColumns),
				"features", len(bundle.Metadata.FeatureColumns))

			mu.Lock()
			loaded = append(loaded, inference.NewGenerator(bundle, opts.GeneratorOptions...))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := New(loaded...)
	span.SetAttributes(attribute.StringSlice("stages", r.Stages()))
	return r, nil
}

// Get returns the generator of stage.
func (r *Registry) Get(stage string) (*inference.Generator, bool) {
	g, ok := r.stages[stage]
	return g, ok
}

// Stages returns the loaded stage names in sorted order.
func (r *Registry) Stages() []string {
	out := make([]string, 0, len(r.stages))
	for s := range r.stages {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of loaded stages.
func (r *Registry) Len() int {
	return len(r.stages)
}

// Info describes every loaded stage.
func (r *Registry) Info() map[string]datatypes.StageInfo {
	out := make(map[string]datatypes.StageInfo, len(r.stages))
	for s, g := range r.stages {
		out[s] = g.Info()
	}
	return out
}
