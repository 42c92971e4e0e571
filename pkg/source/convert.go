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

package source

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// floatKind is a floating point encoding convertible to float32.
type floatKind int

const (
	kindF32 floatKind = iota
	kindF64
	kindF16
	kindBF16
)

// size returns the size in bytes of one element.
func (k floatKind) size() int {
	switch k {
	case kindF64:
		return 8
	case kindF16, kindBF16:
		return 2
	default:
		return 4
	}
}

// decodeFloats converts little-endian raw elements to float32.
func decodeFloats(kind floatKind, raw []byte) ([]float32, error) {
	size := kind.size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of element size %d", len(raw), size)
	}

	values := make([]float32, len(raw)/size)
	for i := range values {
		b := raw[i*size:]
		switch kind {
		case kindF32:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		case kindF64:
			values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		case kindF16:
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
		case kindBF16:
			values[i] = bfloat16.BFloat16(binary.LittleEndian.Uint16(b)).Float32()
		}
	}

	return values, nil
}
