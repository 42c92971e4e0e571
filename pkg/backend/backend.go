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

	"github.com/modelpack/modenc/pkg/config"
	"github.com/modelpack/modenc/pkg/source"
)

// Backend is the interface to represent the backend.
type Backend interface {
	// Encode converts the source model into the portable weight artifacts.
	Encode(ctx context.Context, sourcePath string, cfg *config.Encode) (*EncodeResult, error)

	// Inspect lists the weights the source would be encoded with.
	Inspect(ctx context.Context, sourcePath string, cfg *config.Inspect) (*InspectedSource, error)
}

// OpenFunc opens a source of the format.
type OpenFunc func(path string, format source.Format) (source.Source, error)

// backend is the implementation of Backend.
type backend struct {
	open OpenFunc
}

// New creates a new backend.
func New(opts ...Option) (Backend, error) {
	options := &Options{
		open: source.Open,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &backend{
		open: options.open,
	}, nil
}
