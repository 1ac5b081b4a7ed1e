package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
	"github.com/DoyleJ11/live-score-backend/internal/engine"
)

const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultMaxRetries     = 3
	RetryInitialInterval  = 100 * time.Millisecond
	RetryMaxInterval      = 2 * time.Second
	RetryMaxElapsedTime   = 15 * time.Second
)

type RetryPolicy struct {
	AttemptTimeout  time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Retrying bounds every call to the wrapped store with a per-attempt timeout
// and exponential backoff, and maps exhausted writes onto
// apperr.ErrPersistFailed / apperr.ErrDeleteFailed.
type Retrying struct {
	inner  Store
	policy RetryPolicy
	log    *zap.Logger
}

func NewRetrying(inner Store, policy RetryPolicy, log *zap.Logger) *Retrying {
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultAttemptTimeout
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = RetryInitialInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{inner: inner, policy: policy, log: log}
}

func (r *Retrying) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx)
}

func (r *Retrying) do(ctx context.Context, op string, id string, fn func(ctx context.Context) error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()
		err := fn(actx)
		if errors.Is(err, apperr.ErrSessionNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, r.newBackoff(ctx), func(err error, next time.Duration) {
		r.log.Warn("store call failed, retrying",
			zap.String("op", op),
			zap.String("match_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

func (r *Retrying) LoadSession(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := r.do(ctx, "load", id, func(ctx context.Context) error {
		var err error
		rec, err = r.inner.LoadSession(ctx, id)
		return err
	})
	return rec, err
}

func (r *Retrying) SaveSession(ctx context.Context, rec Record) error {
	err := r.do(ctx, "save", rec.ID, func(ctx context.Context) error {
		return r.inner.SaveSession(ctx, rec)
	})
	if err != nil {
		return apperr.Wrap(apperr.CodePersistFailed, "save match", err)
	}
	return nil
}

func (r *Retrying) DeleteSession(ctx context.Context, id string) error {
	err := r.do(ctx, "delete", id, func(ctx context.Context) error {
		return r.inner.DeleteSession(ctx, id)
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeDeleteFailed, "delete match", err)
	}
	return nil
}

func (r *Retrying) AppendComment(ctx context.Context, id string, c engine.Comment) error {
	err := r.do(ctx, "append_comment", id, func(ctx context.Context) error {
		return r.inner.AppendComment(ctx, id, c)
	})
	if err != nil {
		return apperr.Wrap(apperr.CodePersistFailed, "append comment", err)
	}
	return nil
}
