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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	internalpb "github.com/modelpack/modenc/internal/pb"
	"github.com/modelpack/modenc/pkg/config"
	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
	"github.com/modelpack/modenc/pkg/source"
	"github.com/modelpack/modenc/pkg/source/sourcetest"
)

type EncodeTestSuite struct {
	suite.Suite
	dir     string
	backend Backend
}

func (s *EncodeTestSuite) SetupSuite() {
	internalpb.SetDisableProgress(true)
}

func (s *EncodeTestSuite) TearDownSuite() {
	internalpb.SetDisableProgress(false)
}

func (s *EncodeTestSuite) SetupTest() {
	s.dir = s.T().TempDir()

	var err error
	s.backend, err = New()
	s.Require().NoError(err)
}

// withMemory returns a backend reading the in-memory source whatever the path.
func (s *EncodeTestSuite) withMemory(src *sourcetest.Memory) Backend {
	b, err := New(WithOpenFunc(func(path string, format source.Format) (source.Source, error) {
		return src, nil
	}))
	s.Require().NoError(err)
	return b
}

func (s *EncodeTestSuite) writeSource(name string, tensors ...sourcetest.Tensor) string {
	path := filepath.Join(s.dir, name)
	sourcetest.WriteSafetensors(s.T(), path, map[string]string{"keras_version": "2.1.2", "backend": "tensorflow"}, tensors...)
	return path
}

func (s *EncodeTestSuite) read(name string) []byte {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	s.Require().NoError(err)
	return data
}

func (s *EncodeTestSuite) TestSidecar() {
	path := s.writeSource("mnist.safetensors", sourcetest.F32("dense_1.kernel", []int{2, 3}, 0, 1, 2, 3, 4, 5))

	result, err := s.backend.Encode(context.Background(), path, config.NewEncode())
	s.Require().NoError(err)

	s.Equal("mnist", result.Header.Name)
	s.Equal("2.1.2", result.Header.SourceVersion)
	s.Equal("tensorflow", result.Header.Backend)
	s.NotEmpty(result.Header.ID)
	s.Equal(int64(24), result.PayloadBytes)
	s.Len(result.Artifacts, 2)

	s.Equal(model.Float32Bytes([]float32{0, 1, 2, 3, 4, 5}), s.read("mnist_weights.buf"))
	s.JSONEq(`[{"layer_name":"dense_1","weight_name":"kernel","offset":0,"length":6,"shape":[2,3],"type":"float32"}]`, string(s.read("mnist_metadata.json")))

	for _, artifact := range result.Artifacts {
		s.Equal(s.dir, filepath.Dir(artifact.Path))
		s.NotEmpty(artifact.Digest)
	}
}

func (s *EncodeTestSuite) TestQuantized() {
	path := s.writeSource("mnist.safetensors", sourcetest.F32("dense_1.kernel", []int{2, 3}, 0, 1, 2, 3, 4, 5))

	cfg := config.NewEncode()
	cfg.Quantize = true
	result, err := s.backend.Encode(context.Background(), path, cfg)
	s.Require().NoError(err)

	s.Equal([]byte{0, 51, 102, 153, 204, 255}, s.read("mnist_weights.buf"))
	s.Require().Len(result.Records, 1)
	s.Equal(model.Uint8, result.Records[0].DType)
	s.Equal(&model.Quantization{Min: 0, Max: 5}, result.Records[0].Quantization)
	s.JSONEq(`[{"layer_name":"dense_1","weight_name":"kernel","offset":0,"length":6,"shape":[2,3],"type":"uint8","quantize_min":0,"quantize_max":5}]`, string(s.read("mnist_metadata.json")))
}

func (s *EncodeTestSuite) TestQuantizedConstant() {
	path := s.writeSource("const.safetensors", sourcetest.F32("dense_1.bias", []int{2, 2}, 7, 7, 7, 7))

	cfg := config.NewEncode()
	cfg.Quantize = true
	result, err := s.backend.Encode(context.Background(), path, cfg)
	s.Require().NoError(err)

	s.Equal([]byte{0, 0, 0, 0}, s.read("const_weights.buf"))
	s.Equal(&model.Quantization{Min: 7, Max: 7}, result.Records[0].Quantization)
}

func (s *EncodeTestSuite) TestContainer() {
	path := s.writeSource("mnist.safetensors",
		sourcetest.F32("dense_1.kernel", []int{2, 3}, 0, 1, 2, 3, 4, 5),
		sourcetest.F32("dense_1.bias", []int{3}, 1, 1, 1),
	)

	cfg := config.NewEncode()
	cfg.Format = "container"
	cfg.Name = "digits"
	cfg.OutputDir = filepath.Join(s.dir, "out")
	result, err := s.backend.Encode(context.Background(), path, cfg)
	s.Require().NoError(err)

	s.Require().Len(result.Artifacts, 1)
	s.Equal(filepath.Join(cfg.OutputDir, "digits.bin"), result.Artifacts[0].Path)
	s.Require().Len(result.Records, 2)
	s.Equal(model.Float32Bytes([]float32{0, 1, 2, 3, 4, 5}), result.Records[0].Data)
	s.Equal(model.Float32Bytes([]float32{1, 1, 1}), result.Records[1].Data)

	info, err := os.Stat(result.Artifacts[0].Path)
	s.Require().NoError(err)
	s.Equal(result.Artifacts[0].Size, info.Size())
}

func (s *EncodeTestSuite) TestOffsetsPartitionBuffer() {
	path := s.writeSource("net.safetensors",
		sourcetest.F32("conv.kernel", []int{2, 2}, 1, 2, 3, 4),
		sourcetest.F32("conv.bias", []int{2}, 5, 6),
		sourcetest.F32("dense.kernel", []int{3, 1}, 7, 8, 9),
	)

	cfg := config.NewEncode()
	cfg.Concurrency = 4
	result, err := s.backend.Encode(context.Background(), path, cfg)
	s.Require().NoError(err)

	var offset int64
	for _, record := range result.Records {
		s.Equal(offset, record.Offset)
		length, err := record.ByteLength()
		s.Require().NoError(err)
		offset += length
	}
	s.Equal(int64(len(s.read("net_weights.buf"))), offset)
	s.Equal(model.Float32Bytes([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}), s.read("net_weights.buf"))
}

func (s *EncodeTestSuite) TestOrderPreserved() {
	src := &sourcetest.Memory{
		Attrs: source.Attributes{Version: "2.1.2"},
		Layers: []sourcetest.Layer{
			{Name: "dense_2", Weights: []sourcetest.Weight{
				{Name: "bias", Tensor: sourcetest.MustTensor(s.T(), []int{1}, 3)},
				{Name: "kernel", Tensor: sourcetest.MustTensor(s.T(), []int{2}, 1, 2)},
			}},
			{Name: "dense_1", Weights: []sourcetest.Weight{
				{Name: "kernel", Tensor: sourcetest.MustTensor(s.T(), []int{1, 1}, 4)},
			}},
		},
	}

	cfg := config.NewEncode()
	cfg.Name = "permuted"
	cfg.OutputDir = s.dir
	cfg.Concurrency = 3
	result, err := s.withMemory(src).Encode(context.Background(), filepath.Join(s.dir, "permuted.h5"), cfg)
	s.Require().NoError(err)

	var names []string
	for _, record := range result.Records {
		names = append(names, record.Name())
	}
	s.Equal([]string{"dense_2/bias", "dense_2/kernel", "dense_1/kernel"}, names)
	s.Equal(model.Float32Bytes([]float32{3, 1, 2, 4}), s.read("permuted_weights.buf"))
	s.True(src.Closed)
}

func (s *EncodeTestSuite) TestExcludes() {
	path := s.writeSource("net.safetensors",
		sourcetest.F32("conv.kernel", []int{2}, 1, 2),
		sourcetest.F32("conv.bias", []int{1}, 3),
	)

	cfg := config.NewEncode()
	cfg.Excludes = []string{"*/bias"}
	result, err := s.backend.Encode(context.Background(), path, cfg)
	s.Require().NoError(err)
	s.Require().Len(result.Records, 1)
	s.Equal("conv/kernel", result.Records[0].Name())
}

func (s *EncodeTestSuite) TestFailureWritesNothing() {
	src := &sourcetest.Memory{
		Layers: []sourcetest.Layer{
			{Name: "emb", Weights: []sourcetest.Weight{
				{Name: "table", Tensor: sourcetest.MustTensor(s.T(), []int{1}, 1)},
				{Name: "ids", Err: errdefs.NewUnsupportedDtype("emb", "ids", "I64")},
			}},
		},
	}

	cfg := config.NewEncode()
	cfg.OutputDir = filepath.Join(s.dir, "out")
	_, err := s.withMemory(src).Encode(context.Background(), filepath.Join(s.dir, "emb.safetensors"), cfg)
	s.True(errors.Is(err, errdefs.ErrUnsupportedDtype))
	s.Contains(err.Error(), `layer "emb" weight "ids"`)

	_, err = os.Stat(cfg.OutputDir)
	s.True(os.IsNotExist(err))
}

func (s *EncodeTestSuite) TestQuantizedRejectsNonFinite() {
	for _, v := range []float32{float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN())} {
		path := s.writeSource("inf.safetensors", sourcetest.F32("dense_1.kernel", []int{3}, 0, v, 1))

		cfg := config.NewEncode()
		cfg.Quantize = true
		_, err := s.backend.Encode(context.Background(), path, cfg)
		s.True(errors.Is(err, errdefs.ErrMalformedContainer), "got %v", err)
		s.Contains(err.Error(), `layer "dense_1" weight "kernel"`)

		_, err = os.Stat(filepath.Join(s.dir, "inf_weights.buf"))
		s.True(os.IsNotExist(err))
	}
}

func (s *EncodeTestSuite) TestErrors() {
	_, err := s.backend.Encode(context.Background(), "", config.NewEncode())
	s.True(errors.Is(err, errdefs.ErrMissingInput))

	_, err = s.backend.Encode(context.Background(), filepath.Join(s.dir, "absent.safetensors"), config.NewEncode())
	s.True(errors.Is(err, errdefs.ErrIO))

	malformed := filepath.Join(s.dir, "bad.safetensors")
	s.Require().NoError(os.WriteFile(malformed, []byte("not a model"), 0644))
	_, err = s.backend.Encode(context.Background(), malformed, config.NewEncode())
	s.True(errors.Is(err, errdefs.ErrMalformedContainer))

	cfg := config.NewEncode()
	cfg.Concurrency = 0
	_, err = s.backend.Encode(context.Background(), malformed, cfg)
	s.Error(err)
}

func (s *EncodeTestSuite) TestCanceled() {
	path := s.writeSource("mnist.safetensors", sourcetest.F32("dense_1.kernel", []int{1}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.backend.Encode(ctx, path, config.NewEncode())
	s.ErrorIs(err, context.Canceled)

	_, err = os.Stat(filepath.Join(s.dir, "mnist_weights.buf"))
	s.True(os.IsNotExist(err))
}

func TestEncodeTestSuite(t *testing.T) {
	suite.Run(t, new(EncodeTestSuite))
}

func TestModelName(t *testing.T) {
	tests := []struct {
		path, name, expected string
	}{
		{"/models/mnist.safetensors", "", "mnist"},
		{"/models/mnist.v2.gguf", "", "mnist.v2"},
		{"/models/model", "", "model"},
		{"/models/mnist.safetensors", "digits", "digits"},
	}

	for _, tt := range tests {
		if got := modelName(tt.path, tt.name); got != tt.expected {
			t.Errorf("modelName(%q, %q) = %q, expected %q", tt.path, tt.name, got, tt.expected)
		}
	}
}

func TestOutputDir(t *testing.T) {
	if got := outputDir("/models/mnist.safetensors", ""); got != "/models" {
		t.Errorf("expected /models, got %s", got)
	}

	if got := outputDir("/models/mnist.safetensors", "/out"); got != "/out" {
		t.Errorf("expected /out, got %s", got)
	}
}
