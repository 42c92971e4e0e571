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
	"os/user"
	"path/filepath"
)

// defaultLogDir is the log directory under the home directory.
const defaultLogDir = ".modenc/logs"

type Root struct {
	LogDir          string
	LogLevel        string
	DisableProgress bool
}

func NewRoot() (*Root, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}

	return &Root{
		LogDir:          filepath.Join(usr.HomeDir, defaultLogDir),
		LogLevel:        "info",
		DisableProgress: false,
	}, nil
}
