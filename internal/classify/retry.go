package classify

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds every call made through WithRetry.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts"`
	Timeout  time.Duration `yaml:"timeout"`
	Backoff  time.Duration `yaml:"backoff"`
}

// DefaultRetryPolicy mirrors three attempts with 1s, 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 30 * time.Second, Backoff: time.Second}
}

type retrying struct {
	inner  Classifier
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry decorates c with a per-attempt timeout and exponential backoff.
// After the last attempt the error is reported as ErrFailure.
func WithRetry(c Classifier, policy RetryPolicy) Classifier {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	return &retrying{inner: c, policy: policy, sleep: sleepContext}
}

func (r *retrying) ID() string { return r.inner.ID() }

func (r *retrying) Classify(ctx context.Context, title, abstract string, rules TagRules) (Outcome, error) {
	var lastErr error
	delay := r.policy.Backoff

	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		out, err := r.attempt(ctx, title, abstract, rules)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == r.policy.Attempts || ctx.Err() != nil {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
		delay *= 2
	}

	return Outcome{}, Failure(r.inner.ID(), fmt.Errorf("after %d attempts: %w", r.policy.Attempts, lastErr))
}

func (r *retrying) attempt(ctx context.Context, title, abstract string, rules TagRules) (Outcome, error) {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}
	return r.inner.Classify(ctx, title, abstract, rules)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
