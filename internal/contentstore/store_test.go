package contentstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/pipeline"
)

func TestPutTwiceStoresOnce(t *testing.T) {
	backend := NewMemoryBackend()
	store := New(backend, zap.NewNop())
	ctx := context.Background()

	first, err := store.PutResult(ctx, []byte("image-bytes"))
	require.NoError(t, err)
	second, err := store.PutResult(ctx, []byte("image-bytes"))
	require.NoError(t, err)

	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.True(t, first.Stored)
	require.False(t, second.Stored)
	require.Equal(t, 1, backend.Writes())
	require.Equal(t, 1, backend.Len())
}

func TestConcurrentPutOfSameContentWritesOnce(t *testing.T) {
	backend := NewMemoryBackend()
	store := New(backend, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	fps := make([]pipeline.Fingerprint, 16)
	for i := range fps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp, err := store.Put(ctx, []byte("racing"))
			assert.NoError(t, err)
			fps[i] = fp
		}(i)
	}
	wg.Wait()

	for _, fp := range fps {
		require.Equal(t, fps[0], fp)
	}
	require.Equal(t, 1, backend.Writes())
}

func TestGetRoundTripsAndReportsNotFound(t *testing.T) {
	store := New(NewMemoryBackend(), zap.NewNop())
	ctx := context.Background()

	fp, err := store.Put(ctx, []byte("payload"))
	require.NoError(t, err)

	got, err := store.Get(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = store.Get(ctx, pipeline.ComputeFingerprint([]byte("never stored")))
	require.ErrorIs(t, err, pipeline.ErrNotFound)

	_, err = store.Get(ctx, "../../etc/passwd")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) Exists(context.Context, pipeline.Fingerprint) (bool, error) {
	return false, errors.Join(pipeline.ErrStoreUnavailable, errors.New("disk gone"))
}

func TestPutPropagatesStoreUnavailable(t *testing.T) {
	store := New(failingBackend{NewMemoryBackend()}, zap.NewNop())
	_, err := store.Put(context.Background(), []byte("x"))
	require.ErrorIs(t, err, pipeline.ErrStoreUnavailable)
}

func TestKeyLocksReleaseEntries(t *testing.T) {
	locks := newKeyLocks()
	require.NoError(t, locks.do("a", func() error { return nil }))
	require.Empty(t, locks.locks)
}
