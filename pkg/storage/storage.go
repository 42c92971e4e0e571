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

package storage

import (
	"context"
	"io"

	godigest "github.com/opencontainers/go-digest"
)

// Artifact describes a file written into the output directory.
type Artifact struct {
	// Name is the file name of the artifact.
	Name string

	// Path is the full path of the artifact.
	Path string

	// Digest is the sha256 digest of the artifact content.
	Digest godigest.Digest

	// Size is the content size in bytes.
	Size int64

	// Unchanged is true when the existing file already held the content
	// and was left untouched.
	Unchanged bool
}

// Storage is an interface for storage which wraps the artifact output.
type Storage interface {
	// RootDir returns the output directory.
	RootDir() string

	// Write stores the body under the name, replacing any previous content
	// atomically.
	Write(ctx context.Context, name string, body io.Reader) (*Artifact, error)
}
