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

package model

import "fmt"

type DType = string

const (
	// Float32 is the dtype of unquantized weights.
	Float32 DType = "float32"

	// Uint8 is the dtype of linearly quantized weights.
	Uint8 DType = "uint8"
)

// ElementSize returns the size in bytes of one element of the dtype.
func ElementSize(dtype DType) (int, error) {
	switch dtype {
	case Float32:
		return 4, nil
	case Uint8:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown dtype: %s", dtype)
	}
}

// NumElements returns the number of elements described by the shape,
// an empty shape describes a scalar.
func NumElements(shape []int) int64 {
	n := int64(1)
	for _, dim := range shape {
		n *= int64(dim)
	}

	return n
}

// ValidateShape ensures every dimension of the shape is positive.
func ValidateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("dimension %d of shape %v is not positive", i, shape)
		}
	}

	return nil
}
