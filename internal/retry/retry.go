// Package retry implements the pipeline's capped exponential backoff on top
// of github.com/cenkalti/backoff/v5. It replaces a hand-rolled
// goroutine-based retry manager with a deterministic, inspectable policy
// object callers can construct, log, and test directly.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
)

// Policy is a capped exponential backoff envelope. The zero value is not
// usable; build one with NewPolicy or the package-level presets.
type Policy struct {
	Multiplier  float64
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxAttempts uint
}

// TransferPolicy is the retry envelope the transfer task (C12) uses for both
// the copier invocation and the pre-clean step (spec §4.10): multiplier 1.5,
// 20s floor, 300s ceiling, 5 attempts.
func TransferPolicy() Policy {
	return Policy{
		Multiplier:  1.5,
		MinInterval: 20 * time.Second,
		MaxInterval: 300 * time.Second,
		MaxAttempts: 5,
	}
}

// backOff builds the underlying exponential backoff for this policy.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.MinInterval,
		MaxInterval:         p.MaxInterval,
		Multiplier:          p.Multiplier,
		RandomizationFactor: 0,
	}
}

// Attempt reports details the caller can log for "Retry count: N" lines.
type Attempt struct {
	Count int
	Err   error
}

// Do runs fn, retrying on error per the policy, up to MaxAttempts times.
// taskSlot identifies the caller for the retry_attempts_total metric and
// carries no other behavior. Each failed attempt is logged and recorded via
// metrics.RecordRetryAttempt before the next sleep — this is the hook
// per-step logs use to print "Retry count: N".
func Do(ctx context.Context, policy Policy, logger *logrus.Entry, taskSlot string, fn func(attempt int) error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := fn(attempt)
		if err == nil {
			return struct{}{}, nil
		}
		metrics.RecordRetryAttempt(taskSlot)
		if logger != nil {
			logger.WithError(err).WithField("retry_count", attempt-1).Warn("operation failed, will retry if attempts remain")
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.MaxAttempts),
	)
	return err
}
