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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	sha256 "github.com/minio/sha256-simd"
	"github.com/moby/sys/atomicwriter"
	godigest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/modelpack/modenc/pkg/errdefs"
	"github.com/modelpack/modenc/pkg/xattr"
)

// FileLockRetryDelay is the delay between two attempts to take an output lock.
const FileLockRetryDelay = 100 * time.Millisecond

// local writes artifacts into a directory of the local filesystem.
type local struct {
	rootDir string
	lockDir string
}

func newLocal(rootDir, lockDir string) (*local, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, errdefs.NewIO("create output directory", err)
	}

	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, errdefs.NewIO("create lock directory", err)
	}

	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, errdefs.NewIO("resolve output directory", err)
	}

	return &local{rootDir: absRootDir, lockDir: lockDir}, nil
}

// RootDir returns the output directory.
func (l *local) RootDir() string {
	return l.rootDir
}

// Write stores the body under the name. Concurrent writers of the same
// artifact are serialized by a file lock, the content is replaced with a
// temp file and rename so readers never see a partial artifact.
func (l *local) Write(ctx context.Context, name string, body io.Reader) (*Artifact, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}

	// Check context before locking.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errdefs.NewIO(fmt.Sprintf("read artifact %s", name), err)
	}

	hash := sha256.New()
	if _, err := hash.Write(data); err != nil {
		return nil, fmt.Errorf("failed to hash artifact %s: %w", name, err)
	}

	path := filepath.Join(l.rootDir, name)
	artifact := &Artifact{
		Name:   name,
		Path:   path,
		Digest: godigest.NewDigestFromBytes(godigest.SHA256, hash.Sum(nil)),
		Size:   int64(len(data)),
	}

	lock := flock.New(l.lockPath(path))
	if _, err := lock.TryLockContext(ctx, FileLockRetryDelay); err != nil {
		return nil, errdefs.NewIO(fmt.Sprintf("lock artifact %s", name), err)
	}
	defer lock.Unlock()

	if l.unchanged(path, artifact) {
		logrus.Infof("storage: artifact %s unchanged [digest: %s]", path, artifact.Digest)
		artifact.Unchanged = true
		return artifact, nil
	}

	if err := atomicwriter.WriteFile(path, data, 0644); err != nil {
		return nil, errdefs.NewIO(fmt.Sprintf("write artifact %s", name), err)
	}

	logrus.Infof("storage: wrote artifact %s [digest: %s, size: %d]", path, artifact.Digest, artifact.Size)
	setXattr(path, xattr.MakeKey(xattr.KeySha256), []byte(artifact.Digest.String()))
	setXattr(path, xattr.MakeKey(xattr.KeySize), []byte(strconv.FormatInt(artifact.Size, 10)))
	return artifact, nil
}

// lockPath returns the lock file of the artifact path.
func (l *local) lockPath(path string) string {
	return filepath.Join(l.lockDir, godigest.FromString(path).Encoded()+".lock")
}

// unchanged reports whether the file at path already holds the artifact.
// The digest cached in its xattrs only preselects candidates, the content
// on disk is hashed again since in-place edits keep the xattrs.
func (l *local) unchanged(path string, artifact *Artifact) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() != artifact.Size {
		return false
	}

	cached, ok := xattr.Lookup(path, xattr.MakeKey(xattr.KeySha256))
	if !ok || cached != artifact.Digest.String() {
		return false
	}

	//nolint:gosec // the path is inside the output directory.
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false
	}

	actual := godigest.NewDigestFromBytes(godigest.SHA256, hash.Sum(nil))
	if actual != artifact.Digest {
		logrus.Warnf("storage: artifact %s was modified since written [cached: %s, actual: %s]", path, cached, actual)
		return false
	}

	return true
}

// setXattr sets the xattr, failures only cost the unchanged check of the
// next run.
func setXattr(path, key string, value []byte) {
	if err := xattr.Set(path, key, value); err != nil {
		if xattr.Unsupported(err) {
			logrus.Debugf("storage: xattrs unsupported for %s", path)
			return
		}

		logrus.Warnf("storage: failed to set xattr %s on %s: %v", key, path, err)
	}
}
