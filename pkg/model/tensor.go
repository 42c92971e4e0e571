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

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor is a row-major n-dimensional array of float32 values.
type Tensor struct {
	Shape  []int
	Values []float32
}

// NewTensor creates a tensor and checks the values fill the shape exactly.
func NewTensor(shape []int, values []float32) (*Tensor, error) {
	if err := ValidateShape(shape); err != nil {
		return nil, err
	}

	if n := NumElements(shape); n != int64(len(values)) {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d values", shape, n, len(values))
	}

	return &Tensor{Shape: shape, Values: values}, nil
}

// NumElements returns the element count of the tensor.
func (t *Tensor) NumElements() int64 {
	return NumElements(t.Shape)
}

// Bytes returns the little-endian float32 bytes of the tensor values.
func (t *Tensor) Bytes() []byte {
	return Float32Bytes(t.Values)
}

// Float32Bytes serializes the values as consecutive little-endian float32.
func Float32Bytes(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}

	return buf
}
