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

package cmd

import (
	"context"
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modelpack/modenc/pkg/backend"
	"github.com/modelpack/modenc/pkg/config"
)

var encodeConfig = config.NewEncode()

// encodeCmd represents the modenc command for encode.
var encodeCmd = &cobra.Command{
	Use:                "encode [flags] <source>",
	Short:              "Encode the weights of the source model into a weights buffer and metadata, or a single binary model.",
	Args:               cobra.ExactArgs(1),
	DisableAutoGenTag:  true,
	SilenceUsage:       true,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := encodeConfig.Validate(); err != nil {
			return err
		}

		return runEncode(cmd.Context(), args[0])
	},
}

// init initializes encode command.
func init() {
	flags := encodeCmd.Flags()
	flags.StringVarP(&encodeConfig.Name, "name", "n", encodeConfig.Name, "model name, defaults to the source file name without extension")
	flags.BoolVarP(&encodeConfig.Quantize, "quantize", "q", encodeConfig.Quantize, "quantize the weights to uint8 with per tensor min/max bounds")
	flags.StringVarP(&encodeConfig.OutputDir, "output-dir", "o", encodeConfig.OutputDir, "output directory, defaults to the directory of the source")
	flags.StringVar(&encodeConfig.Format, "format", encodeConfig.Format, "output format, one of sidecar or container")
	flags.StringVar(&encodeConfig.MetadataFormat, "metadata-format", encodeConfig.MetadataFormat, "sidecar metadata format, one of json or yaml")
	flags.StringVar(&encodeConfig.SourceFormat, "source-format", encodeConfig.SourceFormat, "source format, one of auto, safetensors or gguf")
	flags.StringSliceVar(&encodeConfig.Excludes, "exclude", encodeConfig.Excludes, "skip the weights whose layer/weight path matches the pattern")
	flags.IntVarP(&encodeConfig.Concurrency, "concurrency", "c", encodeConfig.Concurrency, "specify the number of weights extracted concurrently")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Errorf("bind encode flags to viper: %w", err))
	}
}

// runEncode runs the encode modenc.
func runEncode(ctx context.Context, sourcePath string) error {
	b, err := backend.New()
	if err != nil {
		return err
	}

	result, err := b.Encode(ctx, sourcePath, encodeConfig)
	if err != nil {
		return err
	}

	fmt.Printf("Successfully encoded %s: %d weights, %s payload\n", result.Header.Name, len(result.Records), humanize.IBytes(uint64(result.PayloadBytes)))
	for _, artifact := range result.Artifacts {
		fmt.Printf("%-12s%s (%s, %s)\n", "Artifact:", artifact.Path, humanize.IBytes(uint64(artifact.Size)), artifact.Digest)
	}

	return nil
}
