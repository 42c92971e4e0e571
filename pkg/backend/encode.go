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
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	internalpb "github.com/modelpack/modenc/internal/pb"
	"github.com/modelpack/modenc/pkg/backend/hooks"
	"github.com/modelpack/modenc/pkg/codec"
	"github.com/modelpack/modenc/pkg/config"
	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/model"
	"github.com/modelpack/modenc/pkg/quantize"
	"github.com/modelpack/modenc/pkg/source"
	"github.com/modelpack/modenc/pkg/storage"
)

// memoryFactor estimates the peak memory of an encoding run relative to
// the source size: decoded values, encoded payloads and the artifact.
const memoryFactor = 3

// EncodeResult is the outcome of a successful encoding run.
type EncodeResult struct {
	// Header is the model header written into the artifacts.
	Header model.Header

	// Records are the weight records in traversal order.
	Records []model.WeightRecord

	// PayloadBytes is the total size of the encoded weight payloads.
	PayloadBytes int64

	// Artifacts are the written output files.
	Artifacts []*storage.Artifact
}

// extracted is a weight read from the source and converted to its final
// payload, waiting to be appended in traversal order.
type extracted struct {
	record  model.WeightRecord
	payload []byte
}

// Encode converts the source model into the portable weight artifacts.
func (b *backend) Encode(ctx context.Context, sourcePath string, cfg *config.Encode) (*EncodeResult, error) {
	logrus.Infof("encode: starting encode operation for source %s [config: %+v]", sourcePath, cfg)
	if sourcePath == "" {
		return nil, errdefs.NewMissingInput("source path is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encode config: %w", err)
	}

	m := newMachine(sourcePath)
	result, err := b.encode(ctx, m, sourcePath, cfg)
	if err != nil {
		m.fail(err)
		return nil, err
	}

	logrus.Infof("encode: successfully encoded %s [weights: %d, payload: %s]", sourcePath, len(result.Records), humanize.IBytes(uint64(result.PayloadBytes)))
	return result, nil
}

func (b *backend) encode(ctx context.Context, m *machine, sourcePath string, cfg *config.Encode) (*EncodeResult, error) {
	src, err := b.open(sourcePath, cfg.SourceFormat)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := m.to(StateOpened, src.Format()); err != nil {
		return nil, err
	}

	preflight(sourcePath)

	entries, err := source.Entries(src, source.WithExcludes(cfg.Excludes...))
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		logrus.Warnf("encode: source %s has no weights to encode", sourcePath)
	}

	cdc, err := codec.New(cfg.Format, codec.WithMetadataFormat(cfg.MetadataFormat))
	if err != nil {
		return nil, err
	}

	weights, err := extractAll(ctx, src, entries, cfg)
	if err != nil {
		return nil, err
	}

	tracker := internalpb.NewProgressBar()
	tracker.Start()
	defer tracker.Stop()

	h := hooks.NewHooks(
		hooks.WithOnStart(func(name string, size int64, reader io.Reader) io.Reader {
			return tracker.Add(internalpb.NormalizePrompt(internalpb.PromptEncoding), name, size, reader)
		}),
		hooks.WithOnError(func(name string, err error) {
			tracker.Abort(name, err)
		}),
		hooks.WithOnComplete(func(name string, record model.WeightRecord) {
			tracker.Complete(name, fmt.Sprintf("%s %s %s %v", internalpb.NormalizePrompt("Encoded"), name, record.DType, record.Shape))
		}),
	)

	var payloadBytes int64
	for _, weight := range weights {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := appendWeight(m, cdc, weight, h); err != nil {
			return nil, err
		}

		payloadBytes += int64(len(weight.payload))
	}

	attrs := src.Attributes()
	header := model.NewHeader(modelName(sourcePath, cfg.Name), attrs.Version, attrs.Backend, attrs.ArchitectureConfig)
	artifacts, err := cdc.Finalize(header)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize %s: %w", header.Name, err)
	}

	written, err := writeArtifacts(ctx, outputDir(sourcePath, cfg.OutputDir), artifacts)
	if err != nil {
		return nil, err
	}

	if err := m.to(StateFinalized, header.ID); err != nil {
		return nil, err
	}

	return &EncodeResult{
		Header:       header,
		Records:      cdc.Records(),
		PayloadBytes: payloadBytes,
		Artifacts:    written,
	}, nil
}

// extractAll reads and converts every weight. Up to cfg.Concurrency weights
// are processed at once, the results keep the traversal order.
func extractAll(ctx context.Context, src source.Source, entries []source.Entry, cfg *config.Encode) ([]*extracted, error) {
	weights := make([]*extracted, len(entries))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Concurrency)

	for _, entry := range entries {
		if egCtx.Err() != nil {
			break
		}

		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			weight, err := extract(src, entry, cfg.Quantize)
			if err != nil {
				return err
			}

			weights[entry.Index] = weight
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// The loop stops early on a canceled parent context without any
	// goroutine reporting it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return weights, nil
}

// extract reads one weight and produces its payload, quantized when asked.
func extract(src source.Source, entry source.Entry, quantized bool) (*extracted, error) {
	tensor, err := src.Weight(entry.Layer, entry.Weight)
	if err != nil {
		return nil, err
	}

	weight := &extracted{
		record: model.WeightRecord{
			LayerName:  entry.Layer,
			WeightName: entry.Weight,
			Shape:      tensor.Shape,
			DType:      model.Float32,
		},
	}

	if !quantized {
		weight.payload = tensor.Bytes()
		return weight, nil
	}

	for i, v := range tensor.Values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, errdefs.NewMalformed(entry.Layer, entry.Weight, "non-finite value %v at element %d", v, i)
		}
	}

	values, lo, hi := quantize.Quantize(tensor.Values)
	weight.record.DType = model.Uint8
	weight.record.Quantization = &model.Quantization{Min: lo, Max: hi}
	weight.payload = values
	return weight, nil
}

// appendWeight appends the weight to the codec, walking the per weight states.
func appendWeight(m *machine, cdc codec.Codec, weight *extracted, h hooks.Hooks) error {
	name := weight.record.Name()
	if err := m.to(StateExtracted, name); err != nil {
		return err
	}

	if weight.record.Quantization != nil {
		if err := m.to(StateQuantized, name); err != nil {
			return err
		}
	}

	reader := h.OnStart(name, int64(len(weight.payload)), bytes.NewReader(weight.payload))
	if err := cdc.Add(weight.record, reader); err != nil {
		err = errdefs.NewMalformed(weight.record.LayerName, weight.record.WeightName, "%v", err)
		h.OnError(name, err)
		return err
	}

	next := StateAppended
	if cdc.Type() == codec.Container {
		next = StateEmbedded
	}

	if err := m.to(next, name); err != nil {
		return err
	}

	if err := m.to(StateRecorded, name); err != nil {
		return err
	}

	records := cdc.Records()
	h.OnComplete(name, records[len(records)-1])
	return nil
}

// writeArtifacts stores the finalized artifacts in the output directory.
func writeArtifacts(ctx context.Context, dir string, artifacts []codec.Artifact) ([]*storage.Artifact, error) {
	store, err := storage.New(storage.WithRootDir(dir))
	if err != nil {
		return nil, err
	}

	tracker := internalpb.NewProgressBar()
	tracker.Start()
	defer tracker.Stop()

	written := make([]*storage.Artifact, 0, len(artifacts))
	for _, artifact := range artifacts {
		reader := tracker.Add(internalpb.NormalizePrompt(internalpb.PromptWriting), artifact.Name, int64(len(artifact.Content)), bytes.NewReader(artifact.Content))
		stored, err := store.Write(ctx, artifact.Name, reader)
		if err != nil {
			tracker.Abort(artifact.Name, err)
			return nil, err
		}

		tracker.Complete(artifact.Name, fmt.Sprintf("%s %s %s", internalpb.NormalizePrompt("Wrote"), artifact.Name, stored.Digest))
		written = append(written, stored)
	}

	return written, nil
}

// modelName returns the configured name, or the source file name without
// its extension.
func modelName(sourcePath, name string) string {
	if name != "" {
		return name
	}

	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// outputDir returns the configured output directory, or the directory of
// the source.
func outputDir(sourcePath, dir string) string {
	if dir != "" {
		return dir
	}

	return filepath.Dir(sourcePath)
}

// preflight warns when the whole model is unlikely to fit in the available
// memory. Encoding proceeds regardless.
func preflight(sourcePath string) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logrus.Debugf("encode: failed to read available memory: %v", err)
		return
	}

	need := uint64(info.Size()) * memoryFactor
	if need > vm.Available {
		logrus.Warnf("encode: source %s may need %s of memory, only %s available", sourcePath, humanize.IBytes(need), humanize.IBytes(vm.Available))
	}
}
