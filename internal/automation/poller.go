// SPDX-License-Identifier: MIT

package automation

import (
	"context"
	"time"
)

// PollPolicy bounds the verification loop.
type PollPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultPollPolicy matches the behavior operators expect from the portal:
// six checks, two seconds apart, then give up.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Attempts: 6, Interval: 2 * time.Second}
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 6
	}
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	return p
}

// poll runs check up to policy.Attempts times, policy.Interval apart, until
// it returns true. A check error counts as "not yet verified", not as a
// failure; only an exhausted budget fails. After every attempt, observe
// fires with the attempt count so the caller can persist progress for
// external watchers.
func poll(ctx context.Context, kind string, policy PollPolicy, check func(ctx context.Context) (bool, error), observe func(attempt int)) error {
	policy = policy.withDefaults()

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		ok, err := check(ctx)
		if observe != nil {
			observe(attempt)
		}
		if err == nil && ok {
			return nil
		}

		if attempt == policy.Attempts {
			break
		}
		select {
		case <-time.After(policy.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &VerificationTimeoutError{Kind: kind, Attempts: policy.Attempts}
}
