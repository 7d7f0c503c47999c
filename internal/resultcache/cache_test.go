package resultcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/imgclassify/internal/pipeline"
)

func TestLookupMiss(t *testing.T) {
	c := New(NewMemoryKV(), DefaultOptions(), zap.NewNop())
	_, err := c.Lookup(context.Background(), JobKey("nope"))
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestStoreThenLookupAcrossInstances(t *testing.T) {
	kv := NewMemoryKV()
	writer := New(kv, DefaultOptions(), zap.NewNop())
	reader := New(kv, DefaultOptions(), zap.NewNop())
	ctx := context.Background()

	want := pipeline.NewPrediction("dog", 0.97)
	require.NoError(t, writer.Store(ctx, JobKey("job-1"), want))

	got, err := reader.Lookup(ctx, JobKey("job-1"))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFirstWriteWinsForFingerprint(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := New(NewMemoryKV(), DefaultOptions(), zap.New(core))
	ctx := context.Background()
	key := FingerprintKey(pipeline.ComputeFingerprint([]byte("img")))

	r1 := pipeline.NewPrediction("dog", 0.97)
	r2 := pipeline.NewPrediction("cat", 0.51)
	require.NoError(t, c.Store(ctx, key, r1))
	require.NoError(t, c.Store(ctx, key, r2))

	got, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	require.Equal(t, r1, got)
	require.Equal(t, 1, logs.FilterMessage("conflicting prediction for key, keeping first value").Len())

	// A fresh instance without the local copy must agree.
	fresh := New(c.kv, Options{}, zap.NewNop())
	got, err = fresh.Lookup(ctx, key)
	require.NoError(t, err)
	require.Equal(t, r1, got)
}

func TestIdempotentStoreDoesNotWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := New(NewMemoryKV(), DefaultOptions(), zap.New(core))
	ctx := context.Background()
	key := FingerprintKey(pipeline.ComputeFingerprint([]byte("img")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Store(ctx, key, pipeline.NewPrediction("dog", 0.97)))
		}()
	}
	wg.Wait()

	require.Zero(t, logs.Len())
}

func TestUnclassifiedRoundTrips(t *testing.T) {
	c := New(NewMemoryKV(), DefaultOptions(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, JobKey("failed"), pipeline.Unclassified()))
	got, err := c.Lookup(ctx, JobKey("failed"))
	require.NoError(t, err)
	require.False(t, got.Classified)
}

func TestJobEntriesExpireButFingerprintEntriesDoNot(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	c := New(kv, Options{JobTTL: time.Minute}, zap.NewNop())
	ctx := context.Background()
	fpKey := FingerprintKey(pipeline.ComputeFingerprint([]byte("img")))

	require.NoError(t, c.Store(ctx, JobKey("job-1"), pipeline.NewPrediction("dog", 0.9)))
	require.NoError(t, c.Store(ctx, fpKey, pipeline.NewPrediction("dog", 0.9)))

	now = now.Add(2 * time.Minute)

	_, err := c.Lookup(ctx, JobKey("job-1"))
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	_, err = c.Lookup(ctx, fpKey)
	require.NoError(t, err)
}

func TestRepeatedJobLookupsBeforeExpiry(t *testing.T) {
	c := New(NewMemoryKV(), DefaultOptions(), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, JobKey("job-1"), pipeline.NewPrediction("dog", 0.9)))

	for i := 0; i < 3; i++ {
		_, err := c.Lookup(ctx, JobKey("job-1"))
		require.NoError(t, err)
	}
}

type downKV struct{}

func (downKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.Join(pipeline.ErrCacheUnavailable, errors.New("connection refused"))
}

func (downKV) Get(context.Context, string) (string, error) {
	return "", errors.Join(pipeline.ErrCacheUnavailable, errors.New("connection refused"))
}

func (downKV) Ping(context.Context) error {
	return pipeline.ErrCacheUnavailable
}

func TestOutagesSurfaceAsCacheUnavailable(t *testing.T) {
	c := New(downKV{}, DefaultOptions(), zap.NewNop())
	ctx := context.Background()

	require.ErrorIs(t, c.Store(ctx, JobKey("j"), pipeline.NewPrediction("dog", 1)), pipeline.ErrCacheUnavailable)
	_, err := c.Lookup(ctx, JobKey("j"))
	require.ErrorIs(t, err, pipeline.ErrCacheUnavailable)
	require.ErrorIs(t, c.Ping(ctx), pipeline.ErrCacheUnavailable)
}

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "prediction:job:abc", JobKey("abc").String())
	require.Equal(t, "prediction:fingerprint:ff", FingerprintKey("ff").String())
}
