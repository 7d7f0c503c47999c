package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/imgclassify/internal/pipeline"
)

// DefaultBlockTimeout bounds each BRPOP so cancellation is noticed promptly.
const DefaultBlockTimeout = time.Second

// listClient is the subset of go-redis used by RedisQueue.
type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisQueue is a Redis list used as a queue: producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	client       listClient
	name         string
	blockTimeout time.Duration
	logger       *zap.Logger
}

// NewRedisQueue constructs a queue on the list called name.
func NewRedisQueue(client redis.Cmdable, name string, logger *zap.Logger) *RedisQueue {
	return newRedisQueue(client, name, DefaultBlockTimeout, logger)
}

func newRedisQueue(client listClient, name string, blockTimeout time.Duration, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client:       client,
		name:         name,
		blockTimeout: blockTimeout,
		logger:       logger.Named("redis_queue"),
	}
}

// Enqueue appends job to the tail of the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job pipeline.JobDescriptor) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return errors.Join(pipeline.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue pops the oldest descriptor, waiting as long as ctx allows.
// Entries that cannot be decoded are logged and discarded.
func (q *RedisQueue) Dequeue(ctx context.Context) (pipeline.JobDescriptor, error) {
	for {
		if err := ctx.Err(); err != nil {
			return pipeline.JobDescriptor{}, err
		}
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.name).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return pipeline.JobDescriptor{}, ctxErr
			}
			return pipeline.JobDescriptor{}, errors.Join(pipeline.ErrQueueUnavailable, err)
		}
		if len(res) != 2 {
			q.logger.Warn("unexpected brpop reply", zap.Strings("reply", res))
			continue
		}

		var job pipeline.JobDescriptor
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil || job.JobID == "" {
			q.logger.Error("discarding malformed job descriptor", zap.String("payload", res[1]), zap.Error(err))
			continue
		}
		return job, nil
	}
}

// Len reports how many descriptors are pending.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, errors.Join(pipeline.ErrQueueUnavailable, err)
	}
	return n, nil
}
