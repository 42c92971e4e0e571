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
	"path/filepath"
	"strings"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
)

type Format = string

const (
	// FormatAuto detects the format from the file extension.
	FormatAuto Format = "auto"

	// FormatSafetensors is the safetensors container format.
	FormatSafetensors Format = "safetensors"

	// FormatGGUF is the GGUF container format.
	FormatGGUF Format = "gguf"
)

// Attributes are the top level attributes of a source, opaque to the
// encoder and passed through verbatim.
type Attributes struct {
	// Version is the version of the framework that wrote the source.
	Version string

	// Backend is the backend name recorded by the source.
	Backend string

	// ArchitectureConfig is the architecture configuration of the model.
	ArchitectureConfig string
}

// Source is an ordered container of named layers holding named weight tensors.
// Weight must be safe for concurrent use.
type Source interface {
	// Format returns the container format of the source.
	Format() Format

	// Attributes returns the top level attributes.
	Attributes() Attributes

	// LayerNames returns the layer names in stored order.
	LayerNames() ([]string, error)

	// WeightNames returns the weight names of the layer in stored order.
	WeightNames(layer string) ([]string, error)

	// Weight reads the weight as a float32 tensor.
	Weight(layer, weight string) (*model.Tensor, error)

	// Close releases the underlying file.
	Close() error
}

// Open opens the source at path, detecting the format from the extension
// when format is empty or FormatAuto.
func Open(path string, format Format) (Source, error) {
	if path == "" {
		return nil, errdefs.NewMissingInput("source path is required")
	}

	if format == "" || format == FormatAuto {
		detected, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}

		format = detected
	}

	switch format {
	case FormatSafetensors:
		return OpenSafetensors(path)
	case FormatGGUF:
		return OpenGGUF(path)
	default:
		return nil, errdefs.NewMalformed("", "", "unsupported source format: %s", format)
	}
}

// DetectFormat returns the format implied by the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return FormatSafetensors, nil
	case ".gguf":
		return FormatGGUF, nil
	default:
		return "", errdefs.NewMalformed("", "", "cannot detect the format of %s", filepath.Base(path))
	}
}

// splitName splits a flat tensor name into its layer and weight names at
// the last separator. A name without separator is its own layer.
func splitName(name string) (string, string) {
	if i := strings.LastIndexAny(name, "./"); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:]
	}

	return name, name
}
