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

// Quantization holds the bounds of a linearly quantized weight.
type Quantization struct {
	Min float32
	Max float32
}

// WeightRecord describes one encoded weight tensor.
type WeightRecord struct {
	// LayerName and WeightName identify the tensor in the source.
	LayerName  string
	WeightName string

	// Shape is the ordered tensor shape.
	Shape []int

	// DType is the encoded element type.
	DType DType

	// Offset is the byte position of the payload in the shared buffer,
	// only meaningful for the sidecar layout.
	Offset int64

	// Length is the payload size in elements, never in bytes.
	Length int64

	// Data is the payload embedded inline, only set for the container layout.
	Data []byte

	// Quantization is set iff DType is Uint8.
	Quantization *Quantization
}

// Name returns the layer/weight path of the record.
func (r *WeightRecord) Name() string {
	return r.LayerName + "/" + r.WeightName
}

// ByteLength returns the payload size in bytes implied by shape and dtype.
func (r *WeightRecord) ByteLength() (int64, error) {
	size, err := ElementSize(r.DType)
	if err != nil {
		return 0, err
	}

	return NumElements(r.Shape) * int64(size), nil
}

// Validate checks the shape, dtype and quantization invariants of the record.
func (r *WeightRecord) Validate() error {
	if err := ValidateShape(r.Shape); err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}

	byteLength, err := r.ByteLength()
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}

	switch r.DType {
	case Uint8:
		if r.Quantization == nil {
			return fmt.Errorf("%s: uint8 weight without quantization bounds", r.Name())
		}

		if r.Quantization.Min > r.Quantization.Max {
			return fmt.Errorf("%s: quantize_min %v greater than quantize_max %v", r.Name(), r.Quantization.Min, r.Quantization.Max)
		}
	case Float32:
		if r.Quantization != nil {
			return fmt.Errorf("%s: float32 weight with quantization bounds", r.Name())
		}
	}

	if r.Data != nil && int64(len(r.Data)) != byteLength {
		return fmt.Errorf("%s: payload is %d bytes, expected %d", r.Name(), len(r.Data), byteLength)
	}

	return nil
}
