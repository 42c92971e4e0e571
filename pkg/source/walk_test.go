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

package source_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
	"github.com/modelpack/modenc/pkg/source"
	"github.com/modelpack/modenc/pkg/source/sourcetest"
)

func newMemory(t *testing.T) *sourcetest.Memory {
	return &sourcetest.Memory{
		Layers: []sourcetest.Layer{
			{Name: "conv", Weights: []sourcetest.Weight{
				{Name: "kernel", Tensor: sourcetest.MustTensor(t, []int{2, 2}, 1, 2, 3, 4)},
				{Name: "bias", Tensor: sourcetest.MustTensor(t, []int{2}, 5, 6)},
			}},
			{Name: "dropout", Weights: []sourcetest.Weight{}},
			{Name: "dense", Weights: []sourcetest.Weight{
				{Name: "kernel", Tensor: sourcetest.MustTensor(t, []int{2, 1}, 7, 8)},
			}},
		},
	}
}

func names(entries []source.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Name())
	}

	return out
}

func TestEntriesOrder(t *testing.T) {
	entries, err := source.Entries(newMemory(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"conv/kernel", "conv/bias", "dense/kernel"}, names(entries))

	for i, entry := range entries {
		assert.Equal(t, i, entry.Index)
	}
}

func TestEntriesPermutation(t *testing.T) {
	src := newMemory(t)
	src.Layers[0], src.Layers[2] = src.Layers[2], src.Layers[0]
	src.Layers[2].Weights[0], src.Layers[2].Weights[1] = src.Layers[2].Weights[1], src.Layers[2].Weights[0]

	entries, err := source.Entries(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"dense/kernel", "conv/bias", "conv/kernel"}, names(entries))
}

func TestEntriesExcludes(t *testing.T) {
	entries, err := source.Entries(newMemory(t), source.WithExcludes("*/bias"))
	require.NoError(t, err)
	assert.Equal(t, []string{"conv/kernel", "dense/kernel"}, names(entries))
	assert.Equal(t, 1, entries[1].Index)

	entries, err = source.Entries(newMemory(t), source.WithExcludes("conv/**"))
	require.NoError(t, err)
	assert.Equal(t, []string{"dense/kernel"}, names(entries))

	_, err = source.Entries(newMemory(t), source.WithExcludes("[conv"))
	assert.Error(t, err)
}

func TestEntriesMalformed(t *testing.T) {
	src := newMemory(t)
	src.MissingLayerNames = true
	_, err := source.Entries(src)
	assert.True(t, errors.Is(err, errdefs.ErrMalformedContainer))

	src = newMemory(t)
	src.Layers[2].MissingWeightNames = true
	_, err = source.Entries(src)
	assert.True(t, errors.Is(err, errdefs.ErrMalformedContainer))
	assert.Contains(t, err.Error(), "dense")

	src = newMemory(t)
	src.Layers[0].Weights = append(src.Layers[0].Weights, src.Layers[0].Weights[0])
	_, err = source.Entries(src)
	assert.True(t, errors.Is(err, errdefs.ErrMalformedContainer))
	assert.Contains(t, err.Error(), "duplicated")
}

func TestWalk(t *testing.T) {
	var (
		visited []string
		values  []float32
	)
	err := source.Walk(context.Background(), newMemory(t), func(entry source.Entry, tensor *model.Tensor) error {
		visited = append(visited, entry.Name())
		values = append(values, tensor.Values...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"conv/kernel", "conv/bias", "dense/kernel"}, visited)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, values)
}

func TestWalkStopsOnError(t *testing.T) {
	src := newMemory(t)
	src.Layers[0].Weights[1].Err = errdefs.NewUnsupportedDtype("conv", "bias", "I64")

	var visited int
	err := source.Walk(context.Background(), src, func(entry source.Entry, tensor *model.Tensor) error {
		visited++
		return nil
	})
	assert.True(t, errors.Is(err, errdefs.ErrUnsupportedDtype))
	assert.Equal(t, 1, visited)

	callbackErr := errors.New("stop")
	err = source.Walk(context.Background(), newMemory(t), func(entry source.Entry, tensor *model.Tensor) error {
		return callbackErr
	})
	assert.Equal(t, callbackErr, err)
}

func TestWalkCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := source.Walk(ctx, newMemory(t), func(entry source.Entry, tensor *model.Tensor) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
