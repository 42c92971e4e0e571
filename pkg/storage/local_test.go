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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	godigest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/suite"

	"github.com/modelpack/modenc/pkg/xattr"
)

type LocalTestSuite struct {
	suite.Suite
	rootDir string
	storage Storage
}

func (s *LocalTestSuite) SetupTest() {
	s.rootDir = filepath.Join(s.T().TempDir(), "out")

	var err error
	s.storage, err = New(WithRootDir(s.rootDir), WithLockDir(s.T().TempDir()))
	s.Require().NoError(err)
}

func (s *LocalTestSuite) TestNewCreatesRootDir() {
	info, err := os.Stat(s.rootDir)
	s.Require().NoError(err)
	s.True(info.IsDir())
	s.Equal(s.rootDir, s.storage.RootDir())
}

func (s *LocalTestSuite) TestWrite() {
	content := []byte("mnist weights")
	artifact, err := s.storage.Write(context.Background(), "mnist_weights.buf", bytes.NewReader(content))
	s.Require().NoError(err)

	s.Equal("mnist_weights.buf", artifact.Name)
	s.Equal(filepath.Join(s.rootDir, "mnist_weights.buf"), artifact.Path)
	s.Equal(godigest.FromBytes(content), artifact.Digest)
	s.Equal(int64(len(content)), artifact.Size)
	s.False(artifact.Unchanged)

	written, err := os.ReadFile(artifact.Path)
	s.Require().NoError(err)
	s.Equal(content, written)
}

func (s *LocalTestSuite) TestOverwrite() {
	_, err := s.storage.Write(context.Background(), "model.bin", strings.NewReader("first"))
	s.Require().NoError(err)

	artifact, err := s.storage.Write(context.Background(), "model.bin", strings.NewReader("second!"))
	s.Require().NoError(err)
	s.False(artifact.Unchanged)

	written, err := os.ReadFile(artifact.Path)
	s.Require().NoError(err)
	s.Equal("second!", string(written))

	entries, err := os.ReadDir(s.rootDir)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *LocalTestSuite) TestUnchanged() {
	artifact, err := s.storage.Write(context.Background(), "model.bin", strings.NewReader("same"))
	s.Require().NoError(err)

	if _, ok := xattr.Lookup(artifact.Path, xattr.MakeKey(xattr.KeySha256)); !ok {
		s.T().Skip("Filesystem does not support extended attributes")
	}

	artifact, err = s.storage.Write(context.Background(), "model.bin", strings.NewReader("same"))
	s.Require().NoError(err)
	s.True(artifact.Unchanged)
	s.Equal(godigest.FromString("same"), artifact.Digest)
}

func (s *LocalTestSuite) TestRewriteAfterInPlaceEdit() {
	artifact, err := s.storage.Write(context.Background(), "model.bin", strings.NewReader("good"))
	s.Require().NoError(err)

	// Edit the bytes in place, keeping size and xattrs.
	file, err := os.OpenFile(artifact.Path, os.O_WRONLY, 0)
	s.Require().NoError(err)
	_, err = file.WriteAt([]byte("BAD!"), 0)
	s.Require().NoError(err)
	s.Require().NoError(file.Close())

	artifact, err = s.storage.Write(context.Background(), "model.bin", strings.NewReader("good"))
	s.Require().NoError(err)
	s.False(artifact.Unchanged)
	s.Equal(godigest.FromString("good"), artifact.Digest)

	written, err := os.ReadFile(artifact.Path)
	s.Require().NoError(err)
	s.Equal("good", string(written))
}

func (s *LocalTestSuite) TestInvalidName() {
	for _, name := range []string{"", "../escape.bin", "dir/model.bin", ".hidden"} {
		_, err := s.storage.Write(context.Background(), name, strings.NewReader("x"))
		s.Error(err, name)
	}
}

func (s *LocalTestSuite) TestCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.storage.Write(ctx, "model.bin", strings.NewReader("x"))
	s.ErrorIs(err, context.Canceled)

	_, err = os.Stat(filepath.Join(s.rootDir, "model.bin"))
	s.True(os.IsNotExist(err))
}

func TestLocalTestSuite(t *testing.T) {
	suite.Run(t, new(LocalTestSuite))
}

func TestGetDefaultLockDir(t *testing.T) {
	if got := GetDefaultLockDir(); !strings.HasPrefix(got, os.TempDir()) {
		t.Fatalf("lock dir %s is not under %s", got, os.TempDir())
	}
}
