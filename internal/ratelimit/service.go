package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dErrors "civis/pkg/domain-errors"
	"civis/pkg/requestcontext"
)

// Store is the counter backend. Incr bumps the counter for key, starting a
// fresh window of the given length when the key is new, and returns the
// post-increment count plus the remaining window.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
	Reset(ctx context.Context, key string) error
}

type Service struct {
	store    Store
	logger   *slog.Logger
	failOpen bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithFailClosed makes Allow deny requests when the counter backend is
// unreachable. The default is to allow and log, so a Redis outage degrades
// rate limiting rather than taking down login.
func WithFailClosed() Option {
	return func(s *Service) { s.failOpen = false }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	svc := &Service{
		store:    store,
		logger:   slog.Default(),
		failOpen: true,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Allow counts one event against the scope/subject window and reports
// whether it fits under the rule.
func (s *Service) Allow(ctx context.Context, scope, subject string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	key := Key(scope, subject)
	count, remaining, err := s.store.Incr(ctx, key, rule.Window)
	if err != nil {
		if s.failOpen {
			s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
				"scope", scope, "error", err)
			return Decision{Allowed: true, Remaining: -1}, nil
		}
		return Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
	}

	now := requestcontext.Now(ctx)
	resetAt := now.Add(remaining)
	if count > int64(rule.Limit) {
		retryAfter := int(remaining.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: rule.Limit - int(count),
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the counter for a scope/subject, used after a successful
// login so earlier failures stop counting against the caller.
func (s *Service) Reset(ctx context.Context, scope, subject string) error {
	if err := s.store.Reset(ctx, Key(scope, subject)); err != nil {
		s.logger.WarnContext(ctx, "rate limit reset failed", "scope", scope, "error", err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
	}
	return nil
}
