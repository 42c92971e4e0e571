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

// Package sourcetest provides sources and source files for tests.
package sourcetest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"testing"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
	"github.com/modelpack/modenc/pkg/source"
)

// Weight is one named weight of a Memory source.
type Weight struct {
	Name   string
	Tensor *model.Tensor

	// Err is returned by Weight instead of the tensor when set.
	Err error
}

// Layer is one named layer of a Memory source.
type Layer struct {
	Name    string
	Weights []Weight

	// MissingWeightNames makes WeightNames report no collection at all.
	MissingWeightNames bool
}

var _ source.Source = (*Memory)(nil)

// Memory is an in-memory Source.
type Memory struct {
	Attrs  source.Attributes
	Layers []Layer

	// MissingLayerNames makes LayerNames report no collection at all.
	MissingLayerNames bool

	Closed bool
}

// Format returns the container format of the source.
func (m *Memory) Format() source.Format {
	return "memory"
}

// Attributes returns the configured attributes.
func (m *Memory) Attributes() source.Attributes {
	return m.Attrs
}

// LayerNames returns the layer names in the configured order.
func (m *Memory) LayerNames() ([]string, error) {
	if m.MissingLayerNames {
		return nil, nil
	}

	names := make([]string, 0, len(m.Layers))
	for _, layer := range m.Layers {
		names = append(names, layer.Name)
	}

	return names, nil
}

// WeightNames returns the weight names of the layer in the configured order.
func (m *Memory) WeightNames(name string) ([]string, error) {
	for _, layer := range m.Layers {
		if layer.Name != name {
			continue
		}

		if layer.MissingWeightNames {
			return nil, nil
		}

		names := make([]string, 0, len(layer.Weights))
		for _, weight := range layer.Weights {
			names = append(names, weight.Name)
		}

		return names, nil
	}

	return nil, errdefs.NewMalformed(name, "", "unknown layer")
}

// Weight returns the configured tensor.
func (m *Memory) Weight(layerName, weightName string) (*model.Tensor, error) {
	for _, layer := range m.Layers {
		if layer.Name != layerName {
			continue
		}

		for _, weight := range layer.Weights {
			if weight.Name == weightName {
				if weight.Err != nil {
					return nil, weight.Err
				}

				return weight.Tensor, nil
			}
		}
	}

	return nil, errdefs.NewMalformed(layerName, weightName, "unknown weight")
}

// Close marks the source closed.
func (m *Memory) Close() error {
	m.Closed = true
	return nil
}

// MustTensor creates a tensor or fails the test.
func MustTensor(t testing.TB, shape []int, values ...float32) *model.Tensor {
	t.Helper()

	tensor, err := model.NewTensor(shape, values)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}

	return tensor
}

// Tensor is a tensor stored in a source file.
type Tensor struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

// F32 creates a float32 file tensor.
func F32(name string, shape []int, values ...float32) Tensor {
	return Tensor{Name: name, DType: "F32", Shape: shape, Data: model.Float32Bytes(values)}
}

// WriteSafetensors writes the tensors to a safetensors file in the given order.
func WriteSafetensors(t testing.TB, path string, metadata map[string]string, tensors ...Tensor) {
	t.Helper()

	header := map[string]any{}
	if metadata != nil {
		header["__metadata__"] = metadata
	}

	var data bytes.Buffer
	for _, tensor := range tensors {
		start := data.Len()
		data.Write(tensor.Data)
		shape := tensor.Shape
		if shape == nil {
			shape = []int{}
		}

		header[tensor.Name] = map[string]any{
			"dtype":        tensor.DType,
			"shape":        shape,
			"data_offsets": []int{start, data.Len()},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("failed to marshal header: %v", err)
	}

	// Pad the header with spaces to an 8 byte boundary.
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint64(len(headerJSON)))
	out.Write(headerJSON)
	out.Write(data.Bytes())

	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write safetensors: %v", err)
	}
}

// ggmlTypes are the GGML type ids of the file tensor dtypes.
var ggmlTypes = map[string]uint32{
	"F32":  0,
	"F16":  1,
	"I32":  26,
	"F64":  28,
	"BF16": 30,
}

// ggufAlignment is the default GGUF data alignment.
const ggufAlignment = 32

// WriteGGUF writes the tensors to a version 3 GGUF file in the given order.
func WriteGGUF(t testing.TB, path, architecture string, tensors ...Tensor) {
	t.Helper()

	var out bytes.Buffer
	le := func(v any) { _ = binary.Write(&out, binary.LittleEndian, v) }
	str := func(s string) {
		le(uint64(len(s)))
		out.WriteString(s)
	}
	pad := func(b *bytes.Buffer) {
		for b.Len()%ggufAlignment != 0 {
			b.WriteByte(0)
		}
	}

	out.WriteString("GGUF")
	le(uint32(3))
	le(uint64(len(tensors)))
	le(uint64(1))

	// general.architecture, a string value.
	str("general.architecture")
	le(uint32(8))
	str(architecture)

	var data bytes.Buffer
	for _, tensor := range tensors {
		typ, ok := ggmlTypes[tensor.DType]
		if !ok {
			t.Fatalf("unsupported gguf dtype in test: %s", tensor.DType)
		}

		str(tensor.Name)
		le(uint32(len(tensor.Shape)))
		for i := len(tensor.Shape) - 1; i >= 0; i-- {
			le(uint64(tensor.Shape[i]))
		}
		le(typ)
		le(uint64(data.Len()))

		data.Write(tensor.Data)
		pad(&data)
	}

	pad(&out)
	out.Write(data.Bytes())

	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write gguf: %v", err)
	}
}
