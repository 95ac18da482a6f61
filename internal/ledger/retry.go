package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultRetryAttempts = 4
	defaultRetryBase     = 50 * time.Millisecond
	defaultRetryMax      = time.Second
	retryJitterPercent   = 20
)

// RetryPolicy bounds the backoff applied to Unavailable failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultRetryBase
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = defaultRetryMax
		if p.MaxDelay < p.BaseDelay {
			p.MaxDelay = p.BaseDelay
		}
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	b = retry.WithJitterPercent(retryJitterPercent, b)
	return retry.WithMaxRetries(uint64(p.Attempts-1), b)
}

type retryingStore struct {
	next   Store
	policy RetryPolicy
}

// WithRetry wraps store so that operations failing with ErrUnavailable are
// retried with capped exponential backoff. Transact reruns the whole function;
// other errors are returned immediately.
func WithRetry(store Store, policy RetryPolicy) Store {
	return &retryingStore{next: store, policy: policy.normalized()}
}

func (s *retryingStore) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy.backoff(), func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *retryingStore) Get(ctx context.Context, collection Collection, key string) (Record, error) {
	var rec Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.next.Get(ctx, collection, key)
		return err
	})
	return rec, err
}

func (s *retryingStore) Scan(ctx context.Context, collection Collection) ([]Record, error) {
	var recs []Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		recs, err = s.next.Scan(ctx, collection)
		return err
	})
	return recs, err
}

func (s *retryingStore) Put(ctx context.Context, collection Collection, key string, value any) (Record, error) {
	var rec Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.next.Put(ctx, collection, key, value)
		return err
	})
	return rec, err
}

func (s *retryingStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.next.Transact(ctx, fn)
	})
}
