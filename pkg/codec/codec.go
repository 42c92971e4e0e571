/*
 *     Copyright 2025 The CNAI Authors
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

type Type = string

const (
	// Sidecar is the codec writing a raw weights buffer plus a metadata file.
	Sidecar Type = "sidecar"

	// Container is the codec writing one self-contained binary message.
	Container Type = "container"
)

// Codec accumulates the encoded weights of a run and emits the artifacts.
type Codec interface {
	// Type returns the type of the codec.
	Type() Type

	// Add consumes the payload of the next weight in traversal order. The
	// reader must yield exactly the byte length implied by the record shape
	// and dtype.
	Add(record model.WeightRecord, payload io.Reader) error

	// Records returns the records added so far, in order.
	Records() []model.WeightRecord

	// Finalize freezes the accumulated weights into the artifacts named
	// after the model. No weight can be added afterwards.
	Finalize(header model.Header) ([]Artifact, error)
}

// Artifact is one finalized output file.
type Artifact struct {
	// Name is the file name of the artifact, relative to the output directory.
	Name string

	// Content is the complete artifact body.
	Content []byte
}

// Option customizes a codec.
type Option func(*options)

type options struct {
	metadataFormat MetadataFormat
}

// WithMetadataFormat sets the format of the sidecar metadata file.
func WithMetadataFormat(format MetadataFormat) Option {
	return func(o *options) {
		if format != "" {
			o.metadataFormat = format
		}
	}
}

// New creates a codec of the type.
func New(codecType Type, opts ...Option) (Codec, error) {
	o := &options{metadataFormat: JSON}
	for _, opt := range opts {
		opt(o)
	}

	switch codecType {
	case Sidecar:
		if _, err := metadataExt(o.metadataFormat); err != nil {
			return nil, err
		}

		return newSidecar(o.metadataFormat), nil
	case Container:
		return newContainer(), nil
	default:
		return nil, fmt.Errorf("unsupported codec type: %s", codecType)
	}
}

// readPayload reads the payload of the record and checks its size.
func readPayload(record model.WeightRecord, payload io.Reader) ([]byte, error) {
	expected, err := record.ByteLength()
	if err != nil {
		return nil, err
	}

	data := make([]byte, expected)
	if _, err := io.ReadFull(payload, data); err != nil {
		return nil, fmt.Errorf("failed to read payload of %s: %w", record.Name(), err)
	}

	// The payload must end exactly at the implied length.
	var probe [1]byte
	if n, _ := payload.Read(probe[:]); n > 0 {
		return nil, fmt.Errorf("payload of %s exceeds %d bytes", record.Name(), expected)
	}

	return data, nil
}
