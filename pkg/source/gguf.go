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
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	parser "github.com/gpustack/gguf-parser-go"
	"github.com/sirupsen/logrus"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
)

const (
	// ggufBackend is the backend recorded for GGUF sources.
	ggufBackend = "ggml"

	// ggufArchitectureKey is the metadata key of the model architecture.
	ggufArchitectureKey = "general.architecture"
)

// ggufKinds maps the floating point GGML types, block quantized types are
// not float convertible element by element.
var ggufKinds = map[parser.GGMLType]floatKind{
	parser.GGMLTypeF32:  kindF32,
	parser.GGMLTypeF64:  kindF64,
	parser.GGMLTypeF16:  kindF16,
	parser.GGMLTypeBF16: kindBF16,
}

type ggufTensor struct {
	name     string
	shape    []int
	typ      parser.GGMLType
	offset   int64
	elements int64
}

// GGUF reads a GGUF file. Stored order is the tensor info order, tensor
// names are split into layer and weight at the last '.'.
type GGUF struct {
	file       *os.File
	dataOffset int64
	attrs      Attributes

	layers  *linkedhashmap.Map
	tensors map[string]*ggufTensor
}

// OpenGGUF parses and indexes the GGUF file.
func OpenGGUF(path string) (*GGUF, error) {
	gf, err := parser.ParseGGUFFile(path)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, errdefs.NewIO("open source", err)
		}

		return nil, errdefs.NewMalformed("", "", "invalid gguf: %v", err)
	}

	//nolint:gosec // the source path is user input by design.
	file, err := os.Open(path)
	if err != nil {
		return nil, errdefs.NewIO("open source", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errdefs.NewIO("stat source", err)
	}

	g := &GGUF{
		file:       file,
		dataOffset: gf.TensorDataStartOffset,
		attrs: Attributes{
			Version:            fmt.Sprintf("gguf v%d", gf.Header.Version),
			Backend:            ggufBackend,
			ArchitectureConfig: ggufString(gf.Header.MetadataKV, ggufArchitectureKey),
		},
		layers:  linkedhashmap.New(),
		tensors: make(map[string]*ggufTensor),
	}

	for _, info := range gf.TensorInfos {
		layer, weight := splitName(info.Name)
		key := refKey(layer, weight)
		if _, ok := g.tensors[key]; ok {
			_ = file.Close()
			return nil, errdefs.NewMalformed(layer, weight, "duplicated weight %s", info.Name)
		}

		// GGUF lists dimensions fastest varying first, shapes are row-major.
		shape := make([]int, len(info.Dimensions))
		for i, dim := range info.Dimensions {
			shape[len(shape)-1-i] = int(dim)
		}

		if err := model.ValidateShape(shape); err != nil {
			_ = file.Close()
			return nil, errdefs.NewMalformed(layer, weight, "%v", err)
		}

		tensor := &ggufTensor{
			name:     info.Name,
			shape:    shape,
			typ:      info.Type,
			offset:   int64(info.Offset),
			elements: model.NumElements(shape),
		}

		if kind, ok := ggufKinds[info.Type]; ok {
			end := g.dataOffset + tensor.offset + tensor.elements*int64(kind.size())
			if end > stat.Size() {
				_ = file.Close()
				return nil, errdefs.NewMalformed(layer, weight, "data ends at byte %d past the end of the %d byte file", end, stat.Size())
			}
		}

		g.tensors[key] = tensor

		weights, _ := g.layers.Get(layer)
		names, _ := weights.([]string)
		g.layers.Put(layer, append(names, weight))
	}

	logrus.Debugf("source: indexed gguf %s [layers: %d, tensors: %d]", path, g.layers.Size(), len(g.tensors))
	return g, nil
}

// ggufString returns the string value of the metadata key, or empty.
func ggufString(kvs parser.GGUFMetadataKVs, key string) string {
	kv, found := kvs.Get(key)
	if !found || kv.ValueType != parser.GGUFMetadataValueTypeString {
		return ""
	}

	return kv.ValueString()
}

// Format returns the container format of the source.
func (g *GGUF) Format() Format {
	return FormatGGUF
}

// Attributes returns the attributes read from the header metadata.
func (g *GGUF) Attributes() Attributes {
	return g.attrs
}

// LayerNames returns the layer names in stored order.
func (g *GGUF) LayerNames() ([]string, error) {
	keys := g.layers.Keys()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.(string))
	}

	return names, nil
}

// WeightNames returns the weight names of the layer in stored order.
func (g *GGUF) WeightNames(layer string) ([]string, error) {
	weights, found := g.layers.Get(layer)
	if !found {
		return nil, errdefs.NewMalformed(layer, "", "unknown layer")
	}

	names := weights.([]string)
	return append(make([]string, 0, len(names)), names...), nil
}

// Weight reads the weight and converts it to float32.
func (g *GGUF) Weight(layer, weight string) (*model.Tensor, error) {
	t, ok := g.tensors[refKey(layer, weight)]
	if !ok {
		return nil, errdefs.NewMalformed(layer, weight, "unknown weight")
	}

	kind, ok := ggufKinds[t.typ]
	if !ok {
		return nil, errdefs.NewUnsupportedDtype(layer, weight, t.typ.String())
	}

	raw := make([]byte, t.elements*int64(kind.size()))
	if _, err := g.file.ReadAt(raw, g.dataOffset+t.offset); err != nil {
		return nil, errdefs.NewIO(fmt.Sprintf("read %s", t.name), err)
	}

	values, err := decodeFloats(kind, raw)
	if err != nil {
		return nil, errdefs.NewMalformed(layer, weight, "%v", err)
	}

	shape := append(make([]int, 0, len(t.shape)), t.shape...)
	tensor, err := model.NewTensor(shape, values)
	if err != nil {
		return nil, errdefs.NewMalformed(layer, weight, "%v", err)
	}

	return tensor, nil
}

// Close closes the file.
func (g *GGUF) Close() error {
	return g.file.Close()
}
