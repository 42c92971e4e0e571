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
	"fmt"

	"github.com/google/uuid"
)

// Header is the model level information carried by the encoded artifact.
type Header struct {
	// ID is a freshly generated unique identifier of the encoding run.
	ID string

	// Name is the model name, defaults to the source file name without extension.
	Name string

	// SourceVersion is the version string of the framework that wrote the source.
	SourceVersion string

	// Backend is the backend name recorded by the source.
	Backend string

	// ArchitectureConfig is the opaque architecture description of the source,
	// passed through verbatim.
	ArchitectureConfig string
}

// NewHeader creates a header with a new random identifier.
func NewHeader(name, sourceVersion, backend, architectureConfig string) Header {
	return Header{
		ID:                 uuid.NewString(),
		Name:               name,
		SourceVersion:      sourceVersion,
		Backend:            backend,
		ArchitectureConfig: architectureConfig,
	}
}

// Model is the finalized encoding of a source: the header plus the weight
// records in traversal order.
type Model struct {
	Header

	// Weights is ordered as the source was traversed, the order is the only
	// thing that ties a record back to its tensor when offsets are reused.
	Weights []WeightRecord
}

// Validate checks every record of the model.
func (m *Model) Validate() error {
	for i := range m.Weights {
		if err := m.Weights[i].Validate(); err != nil {
			return fmt.Errorf("weight %d: %w", i, err)
		}
	}

	return nil
}
