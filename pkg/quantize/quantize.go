/*
 *     Copyright 2024 The CNAI Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package quantize implements the linear 8-bit quantization of weights.
//
// A tensor is rescaled over its own [min, max] range:
//
//	q = round(255 * (x - min) / (max - min))
//
// Ties are rounded half away from zero. A decoder reconstructs
// x' = min + q/255*(max-min), and every element of a constant tensor
// (max == min, quantized to all zeros) as exactly min. Values must be
// finite, callers reject NaN and infinities before quantizing.
package quantize

import "math"

// Levels is the number of quantization steps above zero.
const Levels = 255

// Quantize rescales the values to uint8 and returns the bounds narrowed to
// float32. An empty input yields an empty output with zero bounds.
func Quantize(values []float32) ([]uint8, float32, float32) {
	quantized := make([]uint8, len(values))
	if len(values) == 0 {
		return quantized, 0, 0
	}

	lo, hi := Bounds(values)
	span := float64(hi) - float64(lo)
	if !(span > 0) {
		// Zero width range, the bounds alone reconstruct the tensor.
		return quantized, lo, hi
	}

	for i, v := range values {
		q := math.Round(Levels * (float64(v) - float64(lo)) / span)
		quantized[i] = uint8(math.Max(0, math.Min(Levels, q)))
	}

	return quantized, lo, hi
}

// Bounds returns the minimum and maximum of a non-empty slice.
func Bounds(values []float32) (float32, float32) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}

		if v > hi {
			hi = v
		}
	}

	return lo, hi
}
