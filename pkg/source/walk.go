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
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/emirpasic/gods/sets/hashset"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
)

// Entry is one (layer, weight) pair of the traversal.
type Entry struct {
	// Index is the position of the pair in traversal order.
	Index int

	Layer  string
	Weight string
}

// Name returns the layer/weight path of the entry, the path the exclude
// patterns are matched against.
func (e Entry) Name() string {
	return e.Layer + "/" + e.Weight
}

// WalkFunc is called for every tensor in traversal order.
type WalkFunc func(entry Entry, tensor *model.Tensor) error

// WalkOption customizes a traversal.
type WalkOption func(*walkOptions)

type walkOptions struct {
	excludes []string
}

// WithExcludes skips the pairs whose layer/weight path matches any of the
// doublestar patterns. The relative order of the remaining pairs is kept.
func WithExcludes(patterns ...string) WalkOption {
	return func(o *walkOptions) {
		o.excludes = append(o.excludes, patterns...)
	}
}

// Entries lists the (layer, weight) pairs of the source in stored order.
func Entries(src Source, opts ...WalkOption) ([]Entry, error) {
	o := &walkOptions{}
	for _, opt := range opts {
		opt(o)
	}

	for _, pattern := range o.excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	layers, err := src.LayerNames()
	if err != nil {
		return nil, err
	}

	if layers == nil {
		return nil, errdefs.NewMalformed("", "", "missing layer names")
	}

	var (
		entries []Entry
		seen    = hashset.New()
	)
	for _, layer := range layers {
		weights, err := src.WeightNames(layer)
		if err != nil {
			return nil, err
		}

		if weights == nil {
			return nil, errdefs.NewMalformed(layer, "", "missing weight names")
		}

		for _, weight := range weights {
			entry := Entry{Layer: layer, Weight: weight}
			if seen.Contains(entry.Name()) {
				return nil, errdefs.NewMalformed(layer, weight, "duplicated weight")
			}
			seen.Add(entry.Name())

			if excluded(o.excludes, entry.Name()) {
				continue
			}

			entry.Index = len(entries)
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// Walk reads every tensor of the source once, in stored order, and calls fn.
// The first error aborts the traversal.
func Walk(ctx context.Context, src Source, fn WalkFunc, opts ...WalkOption) error {
	entries, err := Entries(src, opts...)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		tensor, err := src.Weight(entry.Layer, entry.Weight)
		if err != nil {
			return err
		}

		if err := fn(entry, tensor); err != nil {
			return err
		}
	}

	return nil
}

// excluded reports whether the name matches any pattern, patterns are
// validated beforehand so match errors cannot occur.
func excluded(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}

	return false
}
