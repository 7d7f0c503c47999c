package connect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("down")

type recordingSleeper struct {
	calls []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{MaxAttempts: 5, Delay: 3 * time.Second, Sleep: sleeper.sleep, Logger: zap.NewNop()}

	attempts := 0
	err := policy.Do(context.Background(), "redis", errDown, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeper.calls)
}

func TestDoFailsAfterBudget(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{MaxAttempts: 4, Delay: time.Second, Sleep: sleeper.sleep}

	attempts := 0
	probeErr := errors.New("connection refused")
	err := policy.Do(context.Background(), "redis", errDown, func(context.Context) error {
		attempts++
		return probeErr
	})

	require.Error(t, err)
	require.ErrorIs(t, err, errDown)
	require.ErrorIs(t, err, probeErr)
	require.Equal(t, 4, attempts)
	require.Len(t, sleeper.calls, 3)
}

func TestDoDefaultsAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{Sleep: sleeper.sleep}

	attempts := 0
	_ = policy.Do(context.Background(), "redis", errDown, func(context.Context) error {
		attempts++
		return errors.New("nope")
	})
	require.Equal(t, DefaultMaxAttempts, attempts)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 10, Delay: time.Hour}

	attempts := 0
	err := policy.Do(ctx, "redis", errDown, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("nope")
	})

	require.ErrorIs(t, err, errDown)
	require.Equal(t, 1, attempts)
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
