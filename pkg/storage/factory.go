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
	"os"
	"path/filepath"
)

// lockDirName is the directory under the temp dir holding the output locks.
const lockDirName = "modenc-locks"

// Option is the option wrapper for modifying the storage options.
type Option func(*Options)

// Options is the options for the storage.
type Options struct {
	// RootDir is the output directory of the storage.
	RootDir string

	// LockDir is the directory of the per-artifact lock files.
	LockDir string
}

// WithRootDir sets the root directory of the storage.
func WithRootDir(rootDir string) Option {
	return func(o *Options) {
		o.RootDir = rootDir
	}
}

// WithLockDir sets the lock directory of the storage.
func WithLockDir(lockDir string) Option {
	return func(o *Options) {
		o.LockDir = lockDir
	}
}

// New creates the storage, creating the output directory if needed.
func New(opts ...Option) (Storage, error) {
	storageOpts := &Options{}
	for _, opt := range opts {
		opt(storageOpts)
	}
	// apply default option if not set.
	if storageOpts.RootDir == "" {
		storageOpts.RootDir = "."
	}

	if storageOpts.LockDir == "" {
		storageOpts.LockDir = GetDefaultLockDir()
	}

	return newLocal(storageOpts.RootDir, storageOpts.LockDir)
}

// GetDefaultLockDir returns the default lock directory.
func GetDefaultLockDir() string {
	return filepath.Join(os.TempDir(), lockDirName)
}
