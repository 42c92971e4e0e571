/*
 *     Copyright 2025 The CNAI Authors
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

package xattr

import (
	"errors"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// Prefix for all xattr keys, Linux only allows user-space attributes
	// under the "user." namespace.
	Prefix = "user."

	// Keys written on encoded artifacts.
	KeySha256 = "modenc.sha256"
	KeySize   = "modenc.size"
)

// Get retrieves an xattr value for a given key.
func Get(path, key string) ([]byte, error) {
	sz, err := unix.Getxattr(path, key, nil)
	if err != nil {
		return nil, err
	}

	value := make([]byte, sz)
	sz, err = unix.Getxattr(path, key, value)
	if err != nil {
		return nil, err
	}

	return value[:sz], nil
}

// Lookup returns the value of the key as a string, ok is false when the
// file has no such attribute or the filesystem lacks xattr support.
func Lookup(path, key string) (string, bool) {
	value, err := Get(path, key)
	if err != nil {
		return "", false
	}

	return string(value), true
}

// Set sets an xattr value for a given key.
func Set(path, key string, value []byte) error {
	return unix.Setxattr(path, key, value, 0)
}

// Unsupported reports whether the error means the filesystem cannot store
// extended attributes.
func Unsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}

// MakeKey creates a fully-qualified xattr key with the user prefix.
func MakeKey(parts ...string) string {
	return Prefix + strings.Join(parts, ".")
}
