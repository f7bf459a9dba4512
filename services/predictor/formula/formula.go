// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package formula implements the closed-form pipeline stages.
//
// The "order" and "dyeing" stages need no trained model: their suggestions
// follow from textbook shrinkage and shade-uptake arithmetic. Each input
// has a documented default that applies when the key is absent.
package formula

import (
	"errors"
	"fmt"

	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/datatypes"
)

// Stage names served by this package.
const (
	StageOrder  = "order"
	StageDyeing = "dyeing"
)

// ErrInvalidInput is returned when an input cannot be read as a finite
// number, yields a zero denominator, or drives a result out of float64 range.
var ErrInvalidInput = errors.New("invalid formula input")

// IsFormulaStage reports whether stage is computed by a formula.
func IsFormulaStage(stage string) bool {
	return stage == StageOrder || stage == StageDyeing
}

// Compute dispatches to the formula of stage.
func Compute(stage string, inputs map[string]any) (*datatypes.Prediction, error) {
	switch stage {
	case StageOrder:
		return Order(inputs)
	case StageDyeing:
		return Dyeing(inputs)
	default:
		return nil, fmt.Errorf("%w: %q is not a formula stage", ErrInvalidInput, stage)
	}
}

// Order suggests the greige fabric needed for a finished-fabric order.
//
// # Description
//
// Knitted fabric gains weight and loses length through finishing, so the
// greige targets are the required values divided back by those factors:
//
//	gray_gsm = req_gsm / (1 + weight_increase/100)
//	gray_dia = req_dia / (1 + length_increase/100)
//
// # Inputs
//
//   - req_gsm (alias target_gsm): Required finished GSM. Default 0.
//   - req_dia (alias target_dia): Required finished diameter. Default 0.
//   - weight_increase: Expected weight gain in percent. Default 15.
//   - length_increase: Expected length change in percent. Default -20.
//
// # Outputs
//
//   - *datatypes.Prediction: {gray_gsm, gray_dia}, rounded to 2 decimals.
//   - error: ErrInvalidInput.
func Order(inputs map[string]any) (*datatypes.Prediction, error) {
	gsm, err := number(inputs, 0, "req_gsm", "target_gsm")
	if err != nil {
		return nil, err
	}
	dia, err := number(inputs, 0, "req_dia", "target_dia")
	if err != nil {
		return nil, err
	}
	weight, err := number(inputs, 15, "weight_increase")
	if err != nil {
		return nil, err
	}
	length, err := number(inputs, -20, "length_increase")
	if err != nil {
		return nil, err
	}

	grayGSM, err := divide("weight_increase", gsm, 1+weight/100)
	if err != nil {
		return nil, err
	}
	grayDia, err := divide("length_increase", dia, 1+length/100)
	if err != nil {
		return nil, err
	}

	return result([]string{"gray_gsm", "gray_dia"}, grayGSM, grayDia)
}

// Dyeing suggests the dyed fabric dimensions from the produced greige.
//
// # Description
//
//	dyed_gsm = gray_gsm × (1 + shade_percent/100 − enzyme_percent/100)
//	dyed_dia = gray_dia
//
// # Inputs
//
//   - produced_gray_gsm, produced_gray_dia, shade_percent, enzyme_percent:
//     All default to 0.
//
// # Outputs
//
//   - *datatypes.Prediction: {dyed_gsm, dyed_dia}, rounded to 2 decimals.
//   - error: ErrInvalidInput.
func Dyeing(inputs map[string]any) (*datatypes.Prediction, error) {
	gsm, err := number(inputs, 0, "produced_gray_gsm")
	if err != nil {
		return nil, err
	}
	dia, err := number(inputs, 0, "produced_gray_dia")
	if err != nil {
		return nil, err
	}
	shade, err := number(inputs, 0, "shade_percent")
	if err != nil {
		return nil, err
	}
	enzyme, err := number(inputs, 0, "enzyme_percent")
	if err != nil {
		return nil, err
	}

	return result([]string{"dyed_gsm", "dyed_dia"}, gsm+gsm*shade/100-gsm*enzyme/100, dia)
}

// number reads the first present key, falling back to def.
func number(inputs map[string]any, def float64, keys ...string) (float64, error) {
	for _, key := range keys {
		v, ok := inputs[key]
		if !ok {
			continue
		}
		f, err := datatypes.ToFloat(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidInput, key, err)
		}
		return f, nil
	}
	return def, nil
}

func divide(name string, num, den float64) (float64, error) {
	if den == 0 {
		return 0, fmt.Errorf("%w: %s of -100 leaves nothing to divide by", ErrInvalidInput, name)
	}
	return num / den, nil
}

// result builds a prediction of cols, rejecting values that overflowed.
func result(cols []string, vals ...float64) (*datatypes.Prediction, error) {
	pred := datatypes.NewFields(len(cols))
	for i, col := range cols {
		if !datatypes.IsFinite(vals[i]) {
			return nil, fmt.Errorf("%w: %s is out of range", ErrInvalidInput, col)
		}
		pred.Set(col, datatypes.Round2(vals[i]))
	}
	return pred, nil
}
