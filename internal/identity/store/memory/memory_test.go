package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civis/internal/identity"
	"civis/pkg/platform/sentinel"
)

func seedIdentity(t *testing.T, s *Store) *identity.Identity {
	t.Helper()
	rec, err := identity.New("asha@example.org", "Asha Verma", "hash")
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), rec))
	return rec
}

func TestStore_CreateAndFind(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)

	found, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Email, found.Email)

	t.Run("email lookup is case insensitive", func(t *testing.T) {
		found, err := s.FindByEmail(ctx, "ASHA@Example.org")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, found.ID)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		dup, err := identity.New("Asha@example.org", "Someone Else", "hash")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Create(ctx, dup), sentinel.ErrConflict)
	})

	t.Run("unknown id", func(t *testing.T) {
		other, err := identity.New("other@example.org", "Other", "hash")
		require.NoError(t, err)
		_, findErr := s.FindByID(ctx, other.ID)
		assert.ErrorIs(t, findErr, sentinel.ErrNotFound)
	})

	t.Run("reads are snapshots", func(t *testing.T) {
		a, err := s.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		a.Name = "Mutated"
		b, err := s.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "Asha Verma", b.Name)
	})
}

func TestStore_LoginFailures(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i < 5; i++ {
		lock, err := s.RecordLoginFailure(ctx, rec.ID, 5, 15*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, i, lock.FailureCount)
		assert.False(t, lock.IsLockedAt(now))
	}

	lock, err := s.RecordLoginFailure(ctx, rec.ID, 5, 15*time.Minute, now)
	require.NoError(t, err)
	assert.True(t, lock.IsLockedAt(now))
	assert.False(t, lock.IsLockedAt(now.Add(16*time.Minute)))

	require.NoError(t, s.ResetLockout(ctx, rec.ID, now))
	found, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, found.Lockout.FailureCount)
	assert.Nil(t, found.Lockout.LockedUntil)
	require.NotNil(t, found.LastLoginAt)
	assert.True(t, found.LastLoginAt.Equal(now))
}

func TestStore_LockAccount(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)
	until := time.Now().Add(15 * time.Minute)

	require.NoError(t, s.LockAccount(ctx, rec.ID, until))

	found, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, found.Lockout.IsLockedAt(time.Now()))
}

func TestStore_ChallengeCAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)
	expires := time.Now().Add(5 * time.Minute)

	ch, err := s.SetChallenge(ctx, rec.ID, identity.OTPChallenge{CodeHash: "h1", ExpiresAt: expires})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.Version)

	t.Run("attempts count under matching version", func(t *testing.T) {
		n, err := s.IncChallengeAttempts(ctx, rec.ID, ch.Version)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.IncChallengeAttempts(ctx, rec.ID, ch.Version)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		_, err := s.IncChallengeAttempts(ctx, rec.ID, ch.Version+7)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
		_, err = s.UpdateChallenge(ctx, rec.ID, ch.Version+7, identity.OTPChallenge{CodeHash: "h2"})
		assert.ErrorIs(t, err, sentinel.ErrConflict)
		assert.ErrorIs(t, s.ClearChallenge(ctx, rec.ID, ch.Version+7), sentinel.ErrConflict)
	})

	t.Run("update bumps the version", func(t *testing.T) {
		next, err := s.UpdateChallenge(ctx, rec.ID, ch.Version, identity.OTPChallenge{
			CodeHash:    "h2",
			ExpiresAt:   expires,
			ResendCount: 1,
		})
		require.NoError(t, err)
		assert.Greater(t, next.Version, ch.Version)
		assert.Zero(t, next.Attempts)

		// The old version is dead now.
		_, err = s.IncChallengeAttempts(ctx, rec.ID, ch.Version)
		assert.ErrorIs(t, err, sentinel.ErrConflict)

		require.NoError(t, s.ClearChallenge(ctx, rec.ID, next.Version))
		found, err := s.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, found.Challenge)
	})

	t.Run("versions stay unique across clears", func(t *testing.T) {
		again, err := s.SetChallenge(ctx, rec.ID, identity.OTPChallenge{CodeHash: "h3", ExpiresAt: expires})
		require.NoError(t, err)
		assert.Greater(t, again.Version, ch.Version)
	})
}

func TestStore_Sessions(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)
	expires := time.Now().Add(time.Hour)

	for i := 0; i < 4; i++ {
		entry := identity.SessionEntry{
			SessionID: fmt.Sprintf("sess-%d", i),
			ExpiresAt: expires,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AddSession(ctx, rec.ID, entry, 3))
	}

	found, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, found.Sessions, 3)
	assert.Nil(t, found.FindSession("sess-0"), "oldest entry is evicted")
	assert.NotNil(t, found.FindSession("sess-3"))

	require.NoError(t, s.RevokeSession(ctx, rec.ID, "sess-2"))
	found, err = s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, found.FindSession("sess-2").Revoked)
	assert.False(t, found.FindSession("sess-3").Revoked)

	t.Run("revoking an unknown session is a no-op", func(t *testing.T) {
		assert.NoError(t, s.RevokeSession(ctx, rec.ID, "nope"))
	})
}

func TestStore_Biometric(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)
	now := time.Now()

	profile := identity.BiometricProfile{
		Enabled:          true,
		TemplateEnvelope: "sealed",
		SampleCount:      5,
		Quality:          0.9,
	}
	require.NoError(t, s.SetBiometric(ctx, rec.ID, profile))

	for i := 0; i < 4; i++ {
		p, err := s.RecordBiometricFailure(ctx, rec.ID, 5, 15*time.Minute, now)
		require.NoError(t, err)
		assert.False(t, p.IsLockedAt(now))
	}
	p, err := s.RecordBiometricFailure(ctx, rec.ID, 5, 15*time.Minute, now)
	require.NoError(t, err)
	assert.True(t, p.IsLockedAt(now))

	require.NoError(t, s.ResetBiometricFailures(ctx, rec.ID))
	found, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, found.Biometric.FailureCount)
	assert.True(t, found.Biometric.Enabled)

	require.NoError(t, s.DisableBiometric(ctx, rec.ID))
	found, err = s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, found.Biometric.Enabled)
	assert.Empty(t, found.Biometric.TemplateEnvelope)
}

func TestStore_ApplyVerification(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := seedIdentity(t, s)

	require.NoError(t, s.ApplyVerification(ctx, rec.ID, identity.VerificationUpdate{
		KYCLevel:           identity.KYCLevelPartial,
		DocumentVerified:   true,
		NationalIDEnvelope: "sealed-doc",
	}))

	found, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.KYCLevelPartial, found.KYCLevel)
	assert.True(t, found.DocumentVerified)
	assert.False(t, found.TaxIDVerified)
	assert.Equal(t, "sealed-doc", found.NationalIDEnvelope)

	require.NoError(t, s.ApplyVerification(ctx, rec.ID, identity.VerificationUpdate{
		KYCLevel:      identity.KYCLevelVerified,
		TaxIDVerified: true,
		TaxIDEnvelope: "sealed-tax",
	}))

	found, err = s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.KYCLevelVerified, found.KYCLevel)
	assert.True(t, found.DocumentVerified, "earlier verification is preserved")
	assert.True(t, found.TaxIDVerified)
}
