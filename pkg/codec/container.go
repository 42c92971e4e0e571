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

package codec

import (
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/modelpack/modenc/pkg/model"
)

// containerExt is the extension of the container artifact.
const containerExt = ".bin"

// Field numbers of the Model message.
const (
	fieldModelID           protowire.Number = 1
	fieldModelName         protowire.Number = 2
	fieldModelVersion      protowire.Number = 3
	fieldModelBackend      protowire.Number = 4
	fieldModelConfig       protowire.Number = 5
	fieldModelModelWeights protowire.Number = 6
)

// Field numbers of the Weights message.
const (
	fieldWeightsLayerName   protowire.Number = 1
	fieldWeightsWeightName  protowire.Number = 2
	fieldWeightsShape       protowire.Number = 3
	fieldWeightsType        protowire.Number = 4
	fieldWeightsData        protowire.Number = 5
	fieldWeightsQuantizeMin protowire.Number = 6
	fieldWeightsQuantizeMax protowire.Number = 7
)

// container is a codec embedding every payload in one protobuf message:
//
//	message Weights {
//	  string layer_name = 1;
//	  string weight_name = 2;
//	  repeated uint32 shape = 3;
//	  string type = 4;
//	  bytes data = 5;
//	  float quantize_min = 6;
//	  float quantize_max = 7;
//	}
//
//	message Model {
//	  string id = 1;
//	  string name = 2;
//	  string keras_version = 3;
//	  string backend = 4;
//	  string model_config = 5;
//	  repeated Weights model_weights = 6;
//	}
type container struct {
	records   []model.WeightRecord
	finalized bool
}

// newContainer creates a new container codec instance.
func newContainer() *container {
	return &container{}
}

// Type returns the type of the codec.
func (c *container) Type() Type {
	return Container
}

// Add embeds the payload in the record.
func (c *container) Add(record model.WeightRecord, payload io.Reader) error {
	if c.finalized {
		return fmt.Errorf("codec is finalized")
	}

	data, err := readPayload(record, payload)
	if err != nil {
		return err
	}

	record.Offset, record.Length = 0, 0
	record.Data = data
	if err := record.Validate(); err != nil {
		return err
	}

	c.records = append(c.records, record)
	return nil
}

// Records returns the records with their inline payloads.
func (c *container) Records() []model.WeightRecord {
	return c.records
}

// Finalize serializes the header and the records into one message.
func (c *container) Finalize(header model.Header) ([]Artifact, error) {
	if c.finalized {
		return nil, fmt.Errorf("codec is finalized")
	}

	content, err := MarshalModel(&model.Model{Header: header, Weights: c.records})
	if err != nil {
		return nil, err
	}

	c.finalized = true
	return []Artifact{{Name: header.Name + containerExt, Content: content}}, nil
}

// MarshalModel encodes the model in protobuf wire format.
func MarshalModel(m *model.Model) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldModelID, m.ID)
	b = appendString(b, fieldModelName, m.Name)
	b = appendString(b, fieldModelVersion, m.SourceVersion)
	b = appendString(b, fieldModelBackend, m.Backend)
	b = appendString(b, fieldModelConfig, m.ArchitectureConfig)

	for i := range m.Weights {
		weights, err := marshalWeights(&m.Weights[i])
		if err != nil {
			return nil, err
		}

		b = protowire.AppendTag(b, fieldModelModelWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, weights)
	}

	return b, nil
}

// marshalWeights encodes one record as a Weights message.
func marshalWeights(w *model.WeightRecord) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldWeightsLayerName, w.LayerName)
	b = appendString(b, fieldWeightsWeightName, w.WeightName)

	if len(w.Shape) > 0 {
		var packed []byte
		for _, dim := range w.Shape {
			if dim <= 0 || int64(dim) > math.MaxUint32 {
				return nil, fmt.Errorf("%s: dimension %d out of range", w.Name(), dim)
			}

			packed = protowire.AppendVarint(packed, uint64(dim))
		}

		b = protowire.AppendTag(b, fieldWeightsShape, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	b = appendString(b, fieldWeightsType, w.DType)

	if len(w.Data) > 0 {
		b = protowire.AppendTag(b, fieldWeightsData, protowire.BytesType)
		b = protowire.AppendBytes(b, w.Data)
	}

	if q := w.Quantization; q != nil {
		b = protowire.AppendTag(b, fieldWeightsQuantizeMin, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(q.Min))
		b = protowire.AppendTag(b, fieldWeightsQuantizeMax, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(q.Max))
	}

	return b, nil
}

// appendString appends a string field, omitted when empty as proto3 does.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
