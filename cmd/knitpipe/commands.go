// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/mdnafisfuad/knit-pipeline-app/cmd/knitpipe/config"
	"github.com/mdnafisfuad/knit-pipeline-app/pkg/logging"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/formula"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/history"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/registry"
	"github.com/spf13/cobra"
)

// cli holds state shared by every subcommand for one invocation.
type cli struct {
	configPath string
	modelsDir  string
	logLevel   string
	quiet      bool

	cfg    config.Config
	logger *logging.Logger // root; owns the log file
	log    *logging.Logger // tagged with the running subcommand
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "knitpipe",
		Short: "Process-parameter suggestions for a knit fabric pipeline",
		Long: `knitpipe serves trained per-stage models and formula stages that
suggest machine settings for knitting, dyeing and finishing, and keeps a
shared log of production batches.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"Config file (default ~/.knitpipe/knitpipe.yaml)")
	root.PersistentFlags().StringVar(&c.modelsDir, "models-dir", "",
		"Directory holding one model bundle per stage")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	root.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false,
		"Suppress log output on stderr (file logging is unaffected)")

	root.AddCommand(c.serveCmd(), c.predictCmd(), c.modelsCmd(), c.historyCmd())
	return root
}

// setup loads the config and installs the process logger.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, path, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.modelsDir != "" {
		cfg.Server.ModelsDir = c.modelsDir
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	c.logger = logging.New(logging.Config{
		Level:   level,
		JSON:    useJSON(cfg.Logging.JSON, os.Stderr),
		Service: "knitpipe",
		LogDir:  cfg.Logging.Dir,
		Quiet:   c.quiet,
		Output:  cmd.ErrOrStderr(),
	})
	c.log = c.logger.With("command", cmd.Name())
	slog.SetDefault(c.log.Slog())

	c.log.Debug("config loaded", "path", path, "models_dir", cfg.Server.ModelsDir)
	if file := c.logger.FilePath(); file != "" {
		c.log.Info("logging to file", "path", file)
	} else if cfg.Logging.Dir != "" {
		c.log.Warn("log directory unusable, logging to stderr only", "dir", cfg.Logging.Dir)
	}
	return nil
}

// useJSON honours an explicit setting and otherwise picks JSON unless f
// is a terminal.
func useJSON(explicit *bool, f *os.File) bool {
	if explicit != nil {
		return *explicit
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func (c *cli) serveCmd() *cobra.Command {
	var (
		port      int
		staticDir string
		backend   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the prediction HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg.Server
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if staticDir != "" {
				cfg.StaticDir = staticDir
			}
			if backend != "" {
				cfg.History.Backend = backend
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := predictor.New(ctx, cfg, &predictor.Options{Logger: c.log.Slog()})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", predictor.DefaultPort, "HTTP listen port")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Serve the front end from this directory")
	cmd.Flags().StringVar(&backend, "history-backend", "", "History store: csv or badger")
	return cmd
}

func (c *cli) predictCmd() *cobra.Command {
	var labels string
	cmd := &cobra.Command{
		Use:   "predict <stage>",
		Short: "Run one prediction locally and print the JSON response",
		Example: `  knitpipe predict order --labels '{"req_gsm": 180, "req_dia": 72}'
  knitpipe predict knitting --labels '{"required_gsm": 160, "construction": "Single Jersey"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs map[string]any
			if err := json.Unmarshal([]byte(labels), &inputs); err != nil {
				return fmt.Errorf("--labels must be a JSON object: %w", err)
			}
			if inputs == nil {
				return fmt.Errorf("--labels must be a JSON object")
			}
			pred, err := c.predict(cmd.Context(), args[0], inputs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), datatypes.PredictResponse{
				Status:      datatypes.StatusSuccess,
				Predictions: pred,
			})
		},
	}
	cmd.Flags().StringVar(&labels, "labels", "{}", "Stage inputs as a JSON object")
	return cmd
}

// predict computes formula stages directly and loads the models directory
// for any other stage.
func (c *cli) predict(ctx context.Context, stage string, inputs map[string]any) (*datatypes.Prediction, error) {
	if formula.IsFormulaStage(stage) {
		return formula.Compute(stage, inputs)
	}
	reg, err := c.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	gen, ok := reg.Get(stage)
	if !ok {
		return nil, fmt.Errorf("%w: model for stage %q not loaded from %s",
			registry.ErrStageNotLoaded, stage, c.cfg.Server.ModelsDir)
	}
	return gen.Generate(ctx, inputs)
}

func (c *cli) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Print the inputs, outputs and categorical options of every loaded model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := c.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reg.Info())
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the logged batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					c.log.Warn("history store close error", "error", err)
				}
			}()

			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if records == nil {
				records = []*history.Record{}
			}
			return writeJSON(cmd.OutOrStdout(), records)
		},
	}
}

func (c *cli) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	return registry.Load(ctx, c.cfg.Server.ModelsDir, registry.Options{
		Logger:      c.log.Slog(),
		Concurrency: c.cfg.Server.LoadConcurrency,
	})
}

func (c *cli) openStore() (history.Store, error) {
	h := c.cfg.Server.History
	if h.Backend == predictor.BackendBadger {
		return history.OpenBadgerStore(history.BadgerConfig{Path: h.BadgerPath, Logger: c.log.Slog()})
	}
	return history.NewCSVStore(h.CSVPath)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
