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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/sirupsen/logrus"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
)

// Safetensors layout:
// [8 bytes: header size (uint64 LE)]
// [header size bytes: JSON header]
// [tensor data]

const (
	// safetensorsMaxHeaderSize bounds the JSON header.
	safetensorsMaxHeaderSize = 100 << 20

	// safetensorsMetadataKey is the header entry holding the string metadata.
	safetensorsMetadataKey = "__metadata__"

	// metadataLayerNames optionally lists the layer order as a JSON array.
	metadataLayerNames = "layer_names"
)

// safetensorsKinds maps the floating point safetensors dtypes.
var safetensorsKinds = map[string]floatKind{
	"F32":  kindF32,
	"F64":  kindF64,
	"F16":  kindF16,
	"BF16": kindBF16,
}

// safetensorsSizes holds the element size of every safetensors dtype.
var safetensorsSizes = map[string]int64{
	"BOOL": 1, "U8": 1, "I8": 1, "F8_E5M2": 1, "F8_E4M3": 1,
	"I16": 2, "U16": 2, "F16": 2, "BF16": 2,
	"I32": 4, "U32": 4, "F32": 4,
	"I64": 8, "U64": 8, "F64": 8,
}

// safetensorsInfo describes a tensor in the header.
type safetensorsInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

type tensorRef struct {
	layer  string
	weight string
	name   string
	info   safetensorsInfo
}

// Safetensors reads a safetensors file. Stored order is the order of the
// tensor data in the file, tensor names are split into layer and weight at
// the last '.' or '/'.
type Safetensors struct {
	file       *os.File
	dataOffset int64
	attrs      Attributes

	// layers maps layer name to its weight names, in stored order.
	layers  *linkedhashmap.Map
	tensors map[string]*tensorRef
}

// OpenSafetensors opens and indexes the safetensors file.
func OpenSafetensors(path string) (*Safetensors, error) {
	//nolint:gosec // the source path is user input by design.
	file, err := os.Open(path)
	if err != nil {
		return nil, errdefs.NewIO("open source", err)
	}

	st, err := newSafetensors(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	logrus.Debugf("source: indexed safetensors %s [layers: %d, tensors: %d]", path, st.layers.Size(), len(st.tensors))
	return st, nil
}

func newSafetensors(file *os.File) (*Safetensors, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, errdefs.NewIO("stat source", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, readError("read header size", err)
	}

	if headerSize > safetensorsMaxHeaderSize || int64(headerSize) > stat.Size()-8 {
		return nil, errdefs.NewMalformed("", "", "invalid header size %d", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, readError("read header", err)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, errdefs.NewMalformed("", "", "invalid header: %v", err)
	}

	var metadata map[string]string
	if raw, ok := header[safetensorsMetadataKey]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, errdefs.NewMalformed("", "", "invalid metadata: %v", err)
		}
	}

	st := &Safetensors{
		file:       file,
		dataOffset: 8 + int64(headerSize),
		attrs:      safetensorsAttributes(metadata),
		tensors:    make(map[string]*tensorRef),
	}

	refs := make([]*tensorRef, 0, len(header))
	for name, raw := range header {
		if name == safetensorsMetadataKey {
			continue
		}

		ref := &tensorRef{name: name}
		ref.layer, ref.weight = splitName(name)
		if err := json.Unmarshal(raw, &ref.info); err != nil {
			return nil, errdefs.NewMalformed(ref.layer, ref.weight, "invalid tensor info: %v", err)
		}

		refs = append(refs, ref)
	}

	if err := validateRefs(refs, stat.Size()-st.dataOffset); err != nil {
		return nil, err
	}

	weightsByLayer := linkedhashmap.New()
	for _, ref := range refs {
		key := refKey(ref.layer, ref.weight)
		if _, ok := st.tensors[key]; ok {
			return nil, errdefs.NewMalformed(ref.layer, ref.weight, "duplicated weight %s", ref.name)
		}
		st.tensors[key] = ref

		weights, _ := weightsByLayer.Get(ref.layer)
		names, _ := weights.([]string)
		weightsByLayer.Put(ref.layer, append(names, ref.weight))
	}

	st.layers = weightsByLayer
	if raw, ok := metadata[metadataLayerNames]; ok {
		ordered, err := reorderLayers(weightsByLayer, raw)
		if err != nil {
			return nil, err
		}

		st.layers = ordered
	}

	return st, nil
}

// validateRefs sorts the tensors by data offset and checks their extents
// partition the data section.
func validateRefs(refs []*tensorRef, dataSize int64) error {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].info.DataOffsets[0] != refs[j].info.DataOffsets[0] {
			return refs[i].info.DataOffsets[0] < refs[j].info.DataOffsets[0]
		}

		return refs[i].name < refs[j].name
	})

	var end int64
	for _, ref := range refs {
		info := ref.info
		if err := model.ValidateShape(info.Shape); err != nil {
			return errdefs.NewMalformed(ref.layer, ref.weight, "%v", err)
		}

		start, stop := info.DataOffsets[0], info.DataOffsets[1]
		if start < end || stop < start || stop > dataSize {
			return errdefs.NewMalformed(ref.layer, ref.weight, "invalid data offsets [%d, %d]", start, stop)
		}

		if size, ok := safetensorsSizes[info.DType]; ok {
			if expected := model.NumElements(info.Shape) * size; stop-start != expected {
				return errdefs.NewMalformed(ref.layer, ref.weight, "data is %d bytes, shape %v of %s needs %d", stop-start, info.Shape, info.DType, expected)
			}
		}

		end = stop
	}

	return nil
}

// reorderLayers orders the layers after the JSON array of names. Listed
// layers without tensors are kept with no weights.
func reorderLayers(weightsByLayer *linkedhashmap.Map, raw string) (*linkedhashmap.Map, error) {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, errdefs.NewMalformed("", "", "invalid %s metadata: %v", metadataLayerNames, err)
	}

	ordered := linkedhashmap.New()
	for _, name := range names {
		if _, found := ordered.Get(name); found {
			return nil, errdefs.NewMalformed(name, "", "layer listed twice in %s", metadataLayerNames)
		}

		weights, found := weightsByLayer.Get(name)
		if !found {
			weights = []string{}
		}

		ordered.Put(name, weights)
	}

	for _, key := range weightsByLayer.Keys() {
		if _, found := ordered.Get(key); !found {
			return nil, errdefs.NewMalformed(key.(string), "", "layer not listed in %s", metadataLayerNames)
		}
	}

	return ordered, nil
}

// safetensorsAttributes reads the source attributes from the metadata.
func safetensorsAttributes(metadata map[string]string) Attributes {
	first := func(keys ...string) string {
		for _, key := range keys {
			if v := metadata[key]; v != "" {
				return v
			}
		}

		return ""
	}

	return Attributes{
		Version:            first("keras_version", "version", "format"),
		Backend:            first("backend"),
		ArchitectureConfig: first("model_config", "architecture"),
	}
}

// Format returns the container format of the source.
func (s *Safetensors) Format() Format {
	return FormatSafetensors
}

// Attributes returns the attributes read from the header metadata.
func (s *Safetensors) Attributes() Attributes {
	return s.attrs
}

// LayerNames returns the layer names in stored order.
func (s *Safetensors) LayerNames() ([]string, error) {
	keys := s.layers.Keys()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.(string))
	}

	return names, nil
}

// WeightNames returns the weight names of the layer in stored order.
func (s *Safetensors) WeightNames(layer string) ([]string, error) {
	weights, found := s.layers.Get(layer)
	if !found {
		return nil, errdefs.NewMalformed(layer, "", "unknown layer")
	}

	names := weights.([]string)
	return append(make([]string, 0, len(names)), names...), nil
}

// Weight reads the weight and converts it to float32.
func (s *Safetensors) Weight(layer, weight string) (*model.Tensor, error) {
	ref, ok := s.tensors[refKey(layer, weight)]
	if !ok {
		return nil, errdefs.NewMalformed(layer, weight, "unknown weight")
	}

	kind, ok := safetensorsKinds[ref.info.DType]
	if !ok {
		return nil, errdefs.NewUnsupportedDtype(layer, weight, ref.info.DType)
	}

	raw := make([]byte, ref.info.DataOffsets[1]-ref.info.DataOffsets[0])
	if _, err := s.file.ReadAt(raw, s.dataOffset+ref.info.DataOffsets[0]); err != nil {
		return nil, errdefs.NewIO(fmt.Sprintf("read %s", ref.name), err)
	}

	values, err := decodeFloats(kind, raw)
	if err != nil {
		return nil, errdefs.NewMalformed(layer, weight, "%v", err)
	}

	shape := append(make([]int, 0, len(ref.info.Shape)), ref.info.Shape...)
	tensor, err := model.NewTensor(shape, values)
	if err != nil {
		return nil, errdefs.NewMalformed(layer, weight, "%v", err)
	}

	return tensor, nil
}

// Close closes the file.
func (s *Safetensors) Close() error {
	return s.file.Close()
}

// refKey is the lookup key of a layer/weight pair.
func refKey(layer, weight string) string {
	return layer + "\x00" + weight
}

// readError classifies a header read failure: a short file is malformed,
// anything else is an i/o error.
func readError(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errdefs.NewMalformed("", "", "%s: truncated file", op)
	}

	return errdefs.NewIO(op, err)
}
