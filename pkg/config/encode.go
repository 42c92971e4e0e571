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

package config

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/modelpack/modenc/pkg/codec"
	"github.com/modelpack/modenc/pkg/source"
)

const (
	// defaultEncodeConcurrency is the default number of tensors extracted
	// and quantized at once.
	defaultEncodeConcurrency = 1
)

var (
	codecTypes      = []codec.Type{codec.Sidecar, codec.Container}
	metadataFormats = []codec.MetadataFormat{codec.JSON, codec.YAML}
	sourceFormats   = []source.Format{source.FormatAuto, source.FormatSafetensors, source.FormatGGUF}
)

type Encode struct {
	// Name of the model, defaults to the source file name without extension.
	Name string
	// Quantize stores every weight as uint8 with its min/max bounds.
	Quantize bool
	// OutputDir defaults to the directory of the source.
	OutputDir      string
	Format         codec.Type
	MetadataFormat codec.MetadataFormat
	SourceFormat   source.Format
	Excludes       []string
	Concurrency    int
}

func NewEncode() *Encode {
	return &Encode{
		Name:           "",
		Quantize:       false,
		OutputDir:      "",
		Format:         codec.Sidecar,
		MetadataFormat: codec.JSON,
		SourceFormat:   source.FormatAuto,
		Excludes:       []string{},
		Concurrency:    defaultEncodeConcurrency,
	}
}

func (e *Encode) Validate() error {
	if e.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency: %d", e.Concurrency)
	}

	if e.Name != "" && e.Name != filepath.Base(e.Name) {
		return fmt.Errorf("invalid model name %q: must not contain a path", e.Name)
	}

	if !slices.Contains(codecTypes, e.Format) {
		return fmt.Errorf("invalid format %q, supported: %v", e.Format, codecTypes)
	}

	if !slices.Contains(metadataFormats, e.MetadataFormat) {
		return fmt.Errorf("invalid metadata format %q, supported: %v", e.MetadataFormat, metadataFormats)
	}

	return validateSourceFormat(e.SourceFormat)
}

func validateSourceFormat(format source.Format) error {
	if !slices.Contains(sourceFormats, format) {
		return fmt.Errorf("invalid source format %q, supported: %v", format, sourceFormats)
	}

	return nil
}
