package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/pipeline"
)

type brpopReply struct {
	value []string
	err   error
}

type stubListClient struct {
	pushed  []interface{}
	pushErr error
	replies []brpopReply
	keys    []string
}

func (s *stubListClient) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	s.keys = append(s.keys, key)
	if s.pushErr != nil {
		return redis.NewIntResult(0, s.pushErr)
	}
	s.pushed = append(s.pushed, values...)
	return redis.NewIntResult(int64(len(s.pushed)), nil)
}

func (s *stubListClient) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	if len(s.replies) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return redis.NewStringSliceResult(reply.value, reply.err)
}

func (s *stubListClient) LLen(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(s.pushed)), nil)
}

func TestRedisQueueEnqueueEncodesDescriptor(t *testing.T) {
	client := &stubListClient{}
	q := newRedisQueue(client, "service_queue", time.Millisecond, zap.NewNop())

	job := pipeline.JobDescriptor{JobID: "job-1", Fingerprint: pipeline.ComputeFingerprint([]byte("a"))}
	require.NoError(t, q.Enqueue(context.Background(), job))

	require.Equal(t, []string{"service_queue"}, client.keys)
	require.Len(t, client.pushed, 1)
	var decoded pipeline.JobDescriptor
	require.NoError(t, json.Unmarshal(client.pushed[0].([]byte), &decoded))
	require.Equal(t, job, decoded)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRedisQueueEnqueueOutage(t *testing.T) {
	client := &stubListClient{pushErr: errors.New("connection refused")}
	q := newRedisQueue(client, "service_queue", time.Millisecond, zap.NewNop())

	err := q.Enqueue(context.Background(), pipeline.JobDescriptor{JobID: "job-1"})
	require.ErrorIs(t, err, pipeline.ErrQueueUnavailable)
}

func TestRedisQueueDequeueSkipsEmptyPollsAndGarbage(t *testing.T) {
	client := &stubListClient{replies: []brpopReply{
		{err: redis.Nil},
		{value: []string{"service_queue", "not-json"}},
		{value: []string{"service_queue", `{"job_id":"job-7","fingerprint":"abc"}`}},
	}}
	q := newRedisQueue(client, "service_queue", time.Millisecond, zap.NewNop())

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, pipeline.JobDescriptor{JobID: "job-7", Fingerprint: "abc"}, job)
}

func TestRedisQueueDequeueOutage(t *testing.T) {
	client := &stubListClient{replies: []brpopReply{{err: errors.New("i/o timeout")}}}
	q := newRedisQueue(client, "service_queue", time.Millisecond, zap.NewNop())

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, pipeline.ErrQueueUnavailable)
}

func TestRedisQueueDequeueStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := newRedisQueue(&stubListClient{}, "service_queue", time.Millisecond, zap.NewNop())

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
