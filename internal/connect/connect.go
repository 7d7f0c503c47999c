// Package connect establishes connectivity to backing stores at startup with
// a bounded number of fixed-delay attempts.
package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy describes how often and how patiently a dependency is probed.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       Sleeper
	Logger      *zap.Logger
}

// DefaultPolicy returns the startup policy used by both binaries.
func DefaultPolicy(logger *zap.Logger) Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay, Logger: logger}
}

// Do runs probe until it succeeds or the attempt budget is spent. When every
// attempt fails the last error is returned wrapped with unavailable, so
// callers can match the outage with errors.Is.
func (p Policy) Do(ctx context.Context, name string, unavailable error, probe func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("dependency", name))

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = probe(ctx); err == nil {
			if attempt > 1 {
				logger.Info("dependency reachable after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		logger.Warn("dependency not reachable", zap.Error(err), zap.Int("attempt", attempt), zap.Int("max_attempts", attempts))
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}
	if unavailable == nil {
		return fmt.Errorf("%s: giving up: %w", name, err)
	}
	return fmt.Errorf("%s: giving up: %w", name, errors.Join(unavailable, err))
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
