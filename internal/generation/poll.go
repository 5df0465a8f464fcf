package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/mirageapp/mirage/internal/common"
)

// PollPolicy bounds a fixed-interval poll: an initial delay before the
// first attempt, a fixed interval between attempts, and a hard attempt
// ceiling. Total wait is bounded by
// InitialDelay + MaxAttempts*Interval regardless of vendor behavior.
type PollPolicy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// DefaultPollPolicy is roughly a four minute ceiling
var DefaultPollPolicy = PollPolicy{
	InitialDelay: 5 * time.Second,
	Interval:     10 * time.Second,
	MaxAttempts:  24,
}

// PolicyFromConfig converts a config poll section, falling back to defaults
// for missing or unparsable fields.
func PolicyFromConfig(cfg common.PollConfig) PollPolicy {
	policy := PollPolicy{
		InitialDelay: common.Duration(cfg.InitialDelay, DefaultPollPolicy.InitialDelay),
		Interval:     common.Duration(cfg.Interval, DefaultPollPolicy.Interval),
		MaxAttempts:  cfg.MaxAttempts,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPollPolicy.MaxAttempts
	}
	return policy
}

// PollFunc checks a pending vendor task once. Returning done=true ends the
// poll successfully. A permanent error aborts immediately; a transient
// error counts as a failed attempt and polling continues.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poll drives fn through the bounded fixed-interval schedule. It is the one
// poll primitive shared by every capability - per-capability loops differ
// only in policy, never in mechanism. Returns ErrPollExhausted (wrapped
// with the last transient error, if any) when the ceiling is hit.
func Poll(ctx context.Context, policy PollPolicy, fn PollFunc) error {
	if err := sleep(ctx, policy.InitialDelay); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, policy.Interval); err != nil {
				return err
			}
		}

		done, err := fn(ctx)
		if err != nil {
			if IsPermanent(err) {
				return err
			}
			lastErr = err
			continue
		}
		if done {
			return nil
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrPollExhausted, policy.MaxAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrPollExhausted, policy.MaxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
