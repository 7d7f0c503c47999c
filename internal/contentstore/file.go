package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/example/imgclassify/internal/pipeline"
)

const (
	lockRetryDelay = 10 * time.Millisecond
	shardLockName  = ".lock"
)

// FileBackend stores blobs on a local (or shared) filesystem. Files are
// sharded by the first two hex characters of the fingerprint and guarded by
// one advisory lock file per shard so several processes may share the
// directory.
type FileBackend struct {
	dir string
}

// NewFileBackend prepares dir and its 256 shard directories.
func NewFileBackend(dir string) (*FileBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	for i := 0; i < 256; i++ {
		if err := os.MkdirAll(filepath.Join(abs, fmt.Sprintf("%02x", i)), 0o755); err != nil {
			return nil, fmt.Errorf("create shard %02x: %w", i, errors.Join(pipeline.ErrStoreUnavailable, err))
		}
	}
	return &FileBackend{dir: abs}, nil
}

func (b *FileBackend) path(fp pipeline.Fingerprint) string {
	s := fp.String()
	return filepath.Join(b.dir, s[:2], s)
}

func (b *FileBackend) Exists(ctx context.Context, fp pipeline.Fingerprint) (bool, error) {
	if !fp.Valid() {
		return false, fmt.Errorf("invalid fingerprint %q", fp)
	}
	_, err := os.Stat(b.path(fp))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Join(pipeline.ErrStoreUnavailable, err)
}

// Write takes the shard lock, re-checks existence and writes
// through a temp file renamed into place, so readers never see partial data.
func (b *FileBackend) Write(ctx context.Context, fp pipeline.Fingerprint, content []byte) (bool, error) {
	if !fp.Valid() {
		return false, fmt.Errorf("invalid fingerprint %q", fp)
	}
	final := b.path(fp)

	lock := flock.New(filepath.Join(filepath.Dir(final), shardLockName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return false, errors.Join(pipeline.ErrStoreUnavailable, err)
	}
	if !locked {
		return false, errors.Join(pipeline.ErrStoreUnavailable, ctx.Err())
	}
	defer lock.Unlock() //nolint:errcheck

	if _, err := os.Stat(final); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, errors.Join(pipeline.ErrStoreUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), fp.String()+".*.tmp")
	if err != nil {
		return false, errors.Join(pipeline.ErrStoreUnavailable, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.Write(content)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return false, errors.Join(pipeline.ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return false, errors.Join(pipeline.ErrStoreUnavailable, err)
	}
	return true, nil
}

func (b *FileBackend) Read(ctx context.Context, fp pipeline.Fingerprint) ([]byte, error) {
	if !fp.Valid() {
		return nil, pipeline.ErrNotFound
	}
	content, err := os.ReadFile(b.path(fp))
	if errors.Is(err, os.ErrNotExist) {
		return nil, pipeline.ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(pipeline.ErrStoreUnavailable, err)
	}
	return content, nil
}

// Ping verifies the root directory is still present.
func (b *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return errors.Join(pipeline.ErrStoreUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", b.dir, pipeline.ErrStoreUnavailable)
	}
	return nil
}
