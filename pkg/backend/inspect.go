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

package backend

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/modelpack/modenc/pkg/config"
	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
	"github.com/modelpack/modenc/pkg/quantize"
	"github.com/modelpack/modenc/pkg/source"
)

// InspectedSource is the data structure for a source that has been inspected.
type InspectedSource struct {
	// Format is the container format of the source.
	Format string `json:"Format"`
	// Version is the version of the framework that wrote the source.
	Version string `json:"Version"`
	// Backend is the backend recorded by the source.
	Backend string `json:"Backend"`
	// ArchitectureConfig is the opaque architecture description.
	ArchitectureConfig string `json:"ArchitectureConfig"`
	// Weights are the weights in traversal order.
	Weights []InspectedWeight `json:"Weights"`
	// Elements is the total number of elements.
	Elements int64 `json:"Elements"`
}

// InspectedWeight is the data structure for a weight that has been inspected.
type InspectedWeight struct {
	// Layer is the layer name.
	Layer string `json:"Layer"`
	// Weight is the weight name.
	Weight string `json:"Weight"`
	// Shape is the tensor shape.
	Shape []int `json:"Shape"`
	// Elements is the number of elements.
	Elements int64 `json:"Elements"`
	// Float32Bytes is the payload size when stored as float32.
	Float32Bytes int64 `json:"Float32Bytes"`
	// Uint8Bytes is the payload size when quantized.
	Uint8Bytes int64 `json:"Uint8Bytes"`
	// Min is the smallest value of the tensor.
	Min float32 `json:"Min"`
	// Max is the largest value of the tensor.
	Max float32 `json:"Max"`
}

// Inspect reads every weight of the source in traversal order without
// encoding it.
func (b *backend) Inspect(ctx context.Context, sourcePath string, cfg *config.Inspect) (*InspectedSource, error) {
	logrus.Infof("inspect: starting inspect operation for source %s [config: %+v]", sourcePath, cfg)
	if sourcePath == "" {
		return nil, errdefs.NewMissingInput("source path is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inspect config: %w", err)
	}

	src, err := b.open(sourcePath, cfg.SourceFormat)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	attrs := src.Attributes()
	inspected := &InspectedSource{
		Format:             src.Format(),
		Version:            attrs.Version,
		Backend:            attrs.Backend,
		ArchitectureConfig: attrs.ArchitectureConfig,
		Weights:            []InspectedWeight{},
	}

	if err := source.Walk(ctx, src, func(entry source.Entry, tensor *model.Tensor) error {
		lo, hi := quantize.Bounds(tensor.Values)
		elements := tensor.NumElements()
		inspected.Weights = append(inspected.Weights, InspectedWeight{
			Layer:        entry.Layer,
			Weight:       entry.Weight,
			Shape:        tensor.Shape,
			Elements:     elements,
			Float32Bytes: elements * 4,
			Uint8Bytes:   elements,
			Min:          lo,
			Max:          hi,
		})
		inspected.Elements += elements
		return nil
	}, source.WithExcludes(cfg.Excludes...)); err != nil {
		return nil, err
	}

	logrus.Infof("inspect: inspected source %s [weights: %d, elements: %d]", sourcePath, len(inspected.Weights), inspected.Elements)
	return inspected, nil
}
