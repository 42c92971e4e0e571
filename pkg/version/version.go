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

package version

import (
	"fmt"
	"runtime"
)

// Set by the linker at build time.
var (
	GitVersion = "v0.0.0-dev"
	GitCommit  = "unknown"
	BuildTime  = "unknown"
)

// Platform is the os/arch modenc was built for.
var Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
