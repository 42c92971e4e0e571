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
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/modelpack/modenc/pkg/model"
)

type MetadataFormat = string

const (
	// JSON is the compact metadata format, the default.
	JSON MetadataFormat = "json"

	// YAML is the human-readable metadata format.
	YAML MetadataFormat = "yaml"
)

// MetadataEntry is the serialized form of one sidecar record.
type MetadataEntry struct {
	LayerName   string   `json:"layer_name" yaml:"layer_name"`
	WeightName  string   `json:"weight_name" yaml:"weight_name"`
	Offset      int64    `json:"offset" yaml:"offset"`
	Length      int64    `json:"length" yaml:"length"`
	Shape       []int    `json:"shape" yaml:"shape,flow"`
	Type        string   `json:"type" yaml:"type"`
	QuantizeMin *float32 `json:"quantize_min,omitempty" yaml:"quantize_min,omitempty"`
	QuantizeMax *float32 `json:"quantize_max,omitempty" yaml:"quantize_max,omitempty"`
}

// NewMetadataEntry converts the record to its serialized form.
func NewMetadataEntry(record model.WeightRecord) MetadataEntry {
	shape := make([]int, len(record.Shape))
	copy(shape, record.Shape)

	entry := MetadataEntry{
		LayerName:  record.LayerName,
		WeightName: record.WeightName,
		Offset:     record.Offset,
		Length:     record.Length,
		Shape:      shape,
		Type:       record.DType,
	}

	if q := record.Quantization; q != nil {
		lo, hi := q.Min, q.Max
		entry.QuantizeMin = &lo
		entry.QuantizeMax = &hi
	}

	return entry
}

// MarshalMetadata serializes the ordered records in the format.
func MarshalMetadata(records []model.WeightRecord, format MetadataFormat) ([]byte, error) {
	entries := make([]MetadataEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, NewMetadataEntry(record))
	}

	switch format {
	case JSON:
		return json.Marshal(entries)
	case YAML:
		return yaml.Marshal(entries)
	default:
		return nil, fmt.Errorf("unsupported metadata format: %s", format)
	}
}

// metadataExt returns the file extension of the metadata format.
func metadataExt(format MetadataFormat) (string, error) {
	switch format {
	case JSON:
		return ".json", nil
	case YAML:
		return ".yaml", nil
	default:
		return "", fmt.Errorf("unsupported metadata format: %s", format)
	}
}
