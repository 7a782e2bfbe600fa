package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civis/internal/ratelimit/store/memory"
	dErrors "civis/pkg/domain-errors"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "rl:login_email:asha@example.org", Key("login_email", "Asha@Example.org"))
	assert.Equal(t, "rl:login_ip:2001_db8__", Key("login_ip", "2001:db8::"))
	assert.Equal(t, "rl:login_email:unknown", Key("login_email", "  "))
}

func TestService_Allow(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	store := memory.New().WithClock(func() time.Time { return clock })
	svc, err := New(store)
	require.NoError(t, err)

	ctx := context.Background()
	rule := Rule{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		dec, err := svc.Allow(ctx, "login_email", "asha@example.org", rule)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, 2-i, dec.Remaining)
	}

	dec, err := svc.Allow(ctx, "login_email", "asha@example.org", rule)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Positive(t, dec.RetryAfter)

	t.Run("other subjects are unaffected", func(t *testing.T) {
		dec, err := svc.Allow(ctx, "login_email", "other@example.org", rule)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		clock = base.Add(61 * time.Second)
		dec, err := svc.Allow(ctx, "login_email", "asha@example.org", rule)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, 2, dec.Remaining)
	})
}

func TestService_Allow_ZeroRuleBypasses(t *testing.T) {
	svc, err := New(memory.New())
	require.NoError(t, err)

	dec, err := svc.Allow(context.Background(), "login_email", "asha@example.org", Rule{})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestService_Reset(t *testing.T) {
	store := memory.New()
	svc, err := New(store)
	require.NoError(t, err)

	ctx := context.Background()
	rule := Rule{Limit: 1, Window: time.Minute}

	_, err = svc.Allow(ctx, "login_email", "asha@example.org", rule)
	require.NoError(t, err)
	dec, err := svc.Allow(ctx, "login_email", "asha@example.org", rule)
	require.NoError(t, err)
	require.False(t, dec.Allowed)

	require.NoError(t, svc.Reset(ctx, "login_email", "asha@example.org"))

	dec, err = svc.Allow(ctx, "login_email", "asha@example.org", rule)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("backend down")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("backend down")
}

func TestService_BackendOutage(t *testing.T) {
	ctx := context.Background()
	rule := Rule{Limit: 1, Window: time.Minute}

	t.Run("fails open by default", func(t *testing.T) {
		svc, err := New(failingStore{})
		require.NoError(t, err)

		dec, err := svc.Allow(ctx, "login_email", "asha@example.org", rule)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	})

	t.Run("fails closed when configured", func(t *testing.T) {
		svc, err := New(failingStore{}, WithFailClosed())
		require.NoError(t, err)

		_, err = svc.Allow(ctx, "login_email", "asha@example.org", rule)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnavailable))
	})
}
