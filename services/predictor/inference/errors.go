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

import "errors"

var (
	// ErrUnseenCategory is returned when a categorical value is not among
	// the classes the encoder was fitted on.
	ErrUnseenCategory = errors.New("unseen category")

	// ErrDimensionMismatch is returned when a vector does not match the
	// width a transform or the decoder was built for.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrMissingLabel is returned when a label column required by the
	// stage is absent from the request.
	ErrMissingLabel = errors.New("missing label")

	// ErrInvalidValue is returned when a raw value cannot be coerced to
	// the type its column expects, or a label or decoded value is not finite.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidBundle is returned when a model bundle on disk is
	// internally inconsistent.
	ErrInvalidBundle = errors.New("invalid model bundle")
)
