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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modelpack/modenc/pkg/backend"
	"github.com/modelpack/modenc/pkg/config"
)

var inspectConfig = config.NewInspect()

// inspectCmd represents the modenc command for inspect.
var inspectCmd = &cobra.Command{
	Use:                "inspect [flags] <source>",
	Short:              "List the weights of the source model in the order they would be encoded.",
	Args:               cobra.ExactArgs(1),
	DisableAutoGenTag:  true,
	SilenceUsage:       true,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := inspectConfig.Validate(); err != nil {
			return err
		}

		return runInspect(context.Background(), args[0])
	},
}

// init initializes inspect command.
func init() {
	flags := inspectCmd.Flags()
	flags.StringVar(&inspectConfig.SourceFormat, "source-format", inspectConfig.SourceFormat, "source format, one of auto, safetensors or gguf")
	flags.StringSliceVar(&inspectConfig.Excludes, "exclude", inspectConfig.Excludes, "skip the weights whose layer/weight path matches the pattern")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Errorf("bind inspect flags to viper: %w", err))
	}
}

// runInspect runs the inspect modenc.
func runInspect(ctx context.Context, sourcePath string) error {
	b, err := backend.New()
	if err != nil {
		return err
	}

	inspected, err := b.Inspect(ctx, sourcePath, inspectConfig)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(inspected, "", "	")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}
