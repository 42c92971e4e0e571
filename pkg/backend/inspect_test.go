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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpack/modenc/pkg/config"
	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/source/sourcetest"
)

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnist.safetensors")
	sourcetest.WriteSafetensors(t, path, map[string]string{"keras_version": "2.1.2", "model_config": "{}"},
		sourcetest.F32("dense_1.kernel", []int{2, 3}, -1, 1, 2, 3, 4, 5),
		sourcetest.F32("dense_1.bias", []int{3}, 0, 0, 0),
	)

	b, err := New()
	require.NoError(t, err)

	inspected, err := b.Inspect(context.Background(), path, config.NewInspect())
	require.NoError(t, err)

	assert.Equal(t, "safetensors", inspected.Format)
	assert.Equal(t, "2.1.2", inspected.Version)
	assert.Equal(t, "{}", inspected.ArchitectureConfig)
	assert.Equal(t, int64(9), inspected.Elements)
	require.Len(t, inspected.Weights, 2)
	assert.Equal(t, InspectedWeight{
		Layer:        "dense_1",
		Weight:       "kernel",
		Shape:        []int{2, 3},
		Elements:     6,
		Float32Bytes: 24,
		Uint8Bytes:   6,
		Min:          -1,
		Max:          5,
	}, inspected.Weights[0])
	assert.Equal(t, "bias", inspected.Weights[1].Weight)

	cfg := config.NewInspect()
	cfg.Excludes = []string{"dense_1/kernel"}
	inspected, err = b.Inspect(context.Background(), path, cfg)
	require.NoError(t, err)
	assert.Len(t, inspected.Weights, 1)
}

func TestInspectErrors(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	_, err = b.Inspect(context.Background(), "", config.NewInspect())
	assert.True(t, errors.Is(err, errdefs.ErrMissingInput))

	cfg := config.NewInspect()
	cfg.SourceFormat = "hdf5"
	_, err = b.Inspect(context.Background(), "model.h5", cfg)
	assert.Error(t, err)
}
