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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Layer is a dense layer: out = W·in + b, with W of shape [Out][In].
type Layer struct {
	weight *mat.Dense
	bias   *mat.VecDense
}

// NewLayer builds a layer from a row-major [out][in] weight slice and a
// bias of length out. The slices are used in place and must not be
// modified afterwards.
func NewLayer(in, out int, weight, bias []float64) (Layer, error) {
	if in <= 0 || out <= 0 {
		return Layer{}, fmt.Errorf("%w: layer shape [%d %d] is empty", ErrInvalidBundle, out, in)
	}
	if len(weight) != in*out {
		return Layer{}, fmt.Errorf("%w: layer shape [%d %d] does not match %d weights",
			ErrInvalidBundle, out, in, len(weight))
	}
	if len(bias) != out {
		return Layer{}, fmt.Errorf("%w: layer bias has %d values, want %d", ErrInvalidBundle, len(bias), out)
	}
	return Layer{weight: mat.NewDense(out, in, weight), bias: mat.NewVecDense(out, bias)}, nil
}

// In returns the input width of the layer.
func (l Layer) In() int {
	_, c := l.weight.Dims()
	return c
}

// Out returns the output width of the layer.
func (l Layer) Out() int {
	r, _ := l.weight.Dims()
	return r
}

// Decoder is the generative half of a trained CVAE.
//
// # Description
//
// The decoder maps a latent vector concatenated with a condition vector to
// a feature vector in [0,1]^d. Hidden layers use ReLU; the last layer uses
// a sigmoid. NaN inputs propagate to the output.
//
// # Thread Safety
//
// Weights are never written after LoadDecoder returns. Decode allocates its
// own vectors, so one Decoder can serve any number of goroutines.
type Decoder struct {
	Layers []Layer
}

// InputDim returns the expected length of latent ⧺ condition.
func (d *Decoder) InputDim() int {
	if len(d.Layers) == 0 {
		return 0
	}
	return d.Layers[0].In()
}

// OutputDim returns the length of the decoded feature vector.
func (d *Decoder) OutputDim() int {
	if len(d.Layers) == 0 {
		return 0
	}
	return d.Layers[len(d.Layers)-1].Out()
}

// Decode runs the forward pass over z ⧺ c.
//
// # Inputs
//
//   - z: Latent vector.
//   - c: Encoded condition vector.
//
// # Outputs
//
//   - []float64: Raw feature vector, each value in [0,1] for finite input.
//   - error: ErrDimensionMismatch when len(z)+len(c) != InputDim() or the
//     decoder has no layers.
func (d *Decoder) Decode(z, c []float64) ([]float64, error) {
	if len(d.Layers) == 0 || len(z)+len(c) != d.InputDim() {
		return nil, fmt.Errorf("%w: decoder expects %d inputs, got %d latent + %d condition",
			ErrDimensionMismatch, d.InputDim(), len(z), len(c))
	}
	in := make([]float64, 0, len(z)+len(c))
	in = append(in, z...)
	in = append(in, c...)

	x := mat.NewVecDense(len(in), in)
	last := len(d.Layers) - 1
	for i, l := range d.Layers {
		y := mat.NewVecDense(l.Out(), nil)
		y.MulVec(l.weight, x)
		y.AddVec(y, l.bias)
		if i < last {
			relu(y.RawVector().Data)
		} else {
			sigmoid(y.RawVector().Data)
		}
		x = y
	}
	return x.RawVector().Data, nil
}

func relu(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func sigmoid(x []float64) {
	for i, v := range x {
		x[i] = 1 / (1 + math.Exp(-v))
	}
}

// =============================================================================
// Weight File
// =============================================================================

// Tensor is one named entry of a decoder weight file.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// decoderPrefix is the key prefix of decoder tensors in the weight file.
// Encoder tensors may be present in the same file; they are ignored.
const decoderPrefix = "decoder."

// LoadDecoder reads decoder weights from a JSON state dict.
//
// # Description
//
// The file maps tensor names to {shape, data}. Linear layers of the
// decoder are named "decoder.<index>.weight" and "decoder.<index>.bias";
// indices need not be contiguous (activation modules hold no tensors) and
// layers are chained in index order.
//
// # Outputs
//
//   - *Decoder: Immutable decoder ready for Decode.
//   - error: Wraps ErrInvalidBundle when shapes are missing or do not chain.
func LoadDecoder(path string) (*Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decoder weights: %w", err)
	}
	var state map[string]Tensor
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse decoder weights %s: %w", path, err)
	}
	return decoderFromState(state)
}

func decoderFromState(state map[string]Tensor) (*Decoder, error) {
	weights := make(map[int]Tensor)
	biases := make(map[int]Tensor)
	for name, t := range state {
		if !strings.HasPrefix(name, decoderPrefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(name, decoderPrefix), ".")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: unexpected tensor name %q", ErrInvalidBundle, name)
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: unexpected tensor name %q", ErrInvalidBundle, name)
		}
		switch parts[1] {
		case "weight":
			weights[idx] = t
		case "bias":
			biases[idx] = t
		default:
			return nil, fmt.Errorf("%w: unexpected tensor name %q", ErrInvalidBundle, name)
		}
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no decoder layers found", ErrInvalidBundle)
	}

	indices := make([]int, 0, len(weights))
	for idx := range weights {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	dec := &Decoder{Layers: make([]Layer, 0, len(indices))}
	for _, idx := range indices {
		w := weights[idx]
		b, ok := biases[idx]
		if !ok {
			return nil, fmt.Errorf("%w: decoder.%d has a weight but no bias", ErrInvalidBundle, idx)
		}
		if len(w.Shape) != 2 {
			return nil, fmt.Errorf("%w: decoder.%d.weight has shape %v, want 2 dims",
				ErrInvalidBundle, idx, w.Shape)
		}
		out, in := w.Shape[0], w.Shape[1]
		if n := len(dec.Layers); n > 0 && dec.Layers[n-1].Out() != in {
			return nil, fmt.Errorf("%w: decoder.%d expects %d inputs but previous layer yields %d",
				ErrInvalidBundle, idx, in, dec.Layers[n-1].Out())
		}
		layer, err := NewLayer(in, out, w.Data, b.Data)
		if err != nil {
			return nil, fmt.Errorf("decoder.%d: %w", idx, err)
		}
		dec.Layers = append(dec.Layers, layer)
	}
	return dec, nil
}
