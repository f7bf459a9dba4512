// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command knitpipe serves and queries the knit pipeline prediction API.
//
// # Usage
//
//	# Run the HTTP service
//	knitpipe serve --port 5000 --static-dir ./static
//
//	# One-shot prediction against the local models directory
//	knitpipe predict order --labels '{"req_gsm": 180, "req_dia": 72}'
//
//	# Inspect loaded models and logged history
//	knitpipe models
//	knitpipe history
//
// Configuration is read from ~/.knitpipe/knitpipe.yaml (see package config).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
