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

	"github.com/modelpack/modenc/pkg/model"
)

const (
	// weightsSuffix is the suffix of the raw weights buffer artifact.
	weightsSuffix = "_weights.buf"

	// metadataSuffix is the suffix of the metadata artifact, before its extension.
	metadataSuffix = "_metadata"
)

// sidecar is a codec for a raw buffer plus a metadata record list.
type sidecar struct {
	layout    *LayoutWriter
	format    MetadataFormat
	finalized bool
}

// newSidecar creates a new sidecar codec instance.
func newSidecar(format MetadataFormat) *sidecar {
	return &sidecar{
		layout: NewLayoutWriter(),
		format: format,
	}
}

// Type returns the type of the codec.
func (s *sidecar) Type() Type {
	return Sidecar
}

// Add appends the payload to the shared buffer.
func (s *sidecar) Add(record model.WeightRecord, payload io.Reader) error {
	if s.finalized {
		return fmt.Errorf("codec is finalized")
	}

	data, err := readPayload(record, payload)
	if err != nil {
		return err
	}

	_, err = s.layout.Append(record, data)
	return err
}

// Records returns the offset table.
func (s *sidecar) Records() []model.WeightRecord {
	return s.layout.Records()
}

// Finalize emits the weights buffer and the metadata file.
func (s *sidecar) Finalize(header model.Header) ([]Artifact, error) {
	if s.finalized {
		return nil, fmt.Errorf("codec is finalized")
	}

	metadata, err := MarshalMetadata(s.layout.Records(), s.format)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ext, err := metadataExt(s.format)
	if err != nil {
		return nil, err
	}

	s.finalized = true
	return []Artifact{
		{Name: header.Name + weightsSuffix, Content: s.layout.Bytes()},
		{Name: header.Name + metadataSuffix + ext, Content: metadata},
	}, nil
}
