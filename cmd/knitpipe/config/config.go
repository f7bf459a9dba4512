// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the knitpipe configuration file.
//
// # Description
//
// Values are resolved in this order, later sources winning:
//
//  1. DefaultConfig
//  2. The YAML file (~/.knitpipe/knitpipe.yaml unless a path is given),
//     created with defaults on first run
//  3. KNITPIPE_* and OTEL_* environment variables
//
// Command-line flags are applied on top by the CLI.
//
// # Environment Variables
//
//   - KNITPIPE_PORT: HTTP server port
//   - KNITPIPE_MODELS_DIR: Directory of per-stage model bundles
//   - KNITPIPE_STATIC_DIR: Front-end directory served at /
//   - KNITPIPE_HISTORY_BACKEND: csv or badger
//   - KNITPIPE_HISTORY_PATH: CSV history file
//   - KNITPIPE_BADGER_PATH: Badger history directory
//   - KNITPIPE_LOG_LEVEL: debug, info, warn or error
//   - KNITPIPE_LOG_JSON: Force JSON (true) or text (false) logs
//   - OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/history"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/telemetry"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the config file inside the config directory.
const FileName = "knitpipe.yaml"

// Config is the on-disk configuration.
type Config struct {
	Server  predictor.Config `yaml:"server"`
	Logging LoggingConfig    `yaml:"logging"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// JSON forces the log format. When unset, JSON is used unless stderr
	// is a terminal.
	JSON *bool `yaml:"json,omitempty"`

	// Dir enables file logging.
	Dir string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server: predictor.Config{
			Port:      predictor.DefaultPort,
			ModelsDir: predictor.DefaultModelsDir,
			History: predictor.HistoryConfig{
				Backend:    predictor.BackendCSV,
				CSVPath:    history.DefaultCSVPath,
				BadgerPath: predictor.DefaultBadgerPath,
			},
			Telemetry: predictor.TelemetryConfig{
				TraceExporter:  telemetry.ExporterNone,
				MetricExporter: telemetry.ExporterPrometheus,
				OTLPEndpoint:   "localhost:4317",
			},
			GinMode: "release",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.knitpipe/knitpipe.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".knitpipe", FileName), nil
}

// Load reads the configuration.
//
// # Inputs
//
//   - path: Config file. When empty, DefaultPath is used and created with
//     defaults if it does not exist yet. An explicit path must exist.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - string: The file that was read.
//   - error: File or YAML errors.
func Load(path string) (Config, string, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, "", err
		}
		path = p
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := createDefault(path); err != nil {
				return Config{}, "", err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, "", fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, "", fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, path, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Port = getEnvInt("KNITPIPE_PORT", s.Port)
	s.ModelsDir = getEnvString("KNITPIPE_MODELS_DIR", s.ModelsDir)
	s.StaticDir = getEnvString("KNITPIPE_STATIC_DIR", s.StaticDir)
	s.History.Backend = getEnvString("KNITPIPE_HISTORY_BACKEND", s.History.Backend)
	s.History.CSVPath = getEnvString("KNITPIPE_HISTORY_PATH", s.History.CSVPath)
	s.History.BadgerPath = getEnvString("KNITPIPE_BADGER_PATH", s.History.BadgerPath)
	s.Telemetry.TraceExporter = getEnvString("OTEL_TRACES_EXPORTER", s.Telemetry.TraceExporter)
	s.Telemetry.MetricExporter = getEnvString("OTEL_METRICS_EXPORTER", s.Telemetry.MetricExporter)
	s.Telemetry.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", s.Telemetry.OTLPEndpoint)

	cfg.Logging.Level = getEnvString("KNITPIPE_LOG_LEVEL", cfg.Logging.Level)
	if v, ok := getEnvBool("KNITPIPE_LOG_JSON"); ok {
		cfg.Logging.JSON = &v
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool reports the parsed value and whether a valid one was set.
func getEnvBool(key string) (bool, bool) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b, true
		}
	}
	return false, false
}
