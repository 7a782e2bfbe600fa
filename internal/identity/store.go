package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for identity records.
//
// Reads return snapshots; mutations are expressed as narrow per-field
// operations so that implementations can make each one atomic. Methods that
// take an expectedVersion compare-and-set against the challenge slot and
// return sentinel.ErrConflict when the slot changed underneath the caller.
// Lookups for unknown identities return sentinel.ErrNotFound.
type Store interface {
	Create(ctx context.Context, rec *Identity) error
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// UpdatePasswordHash swaps the stored hash, used for cost migration.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error

	// RecordLoginFailure atomically increments the failure counter and, when
	// it reaches threshold, starts a lock window of lockFor from now. The
	// post-increment lockout state is returned.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (Lockout, error)

	// ResetLockout zeroes the failure counter, clears any lock window and
	// stamps the last successful login.
	ResetLockout(ctx context.Context, id uuid.UUID, now time.Time) error

	// LockAccount starts a lock window immediately, regardless of the
	// failure counter. Used when the challenge attempt budget is exhausted.
	LockAccount(ctx context.Context, id uuid.UUID, until time.Time) error

	// SetChallenge installs a fresh challenge in the slot, replacing whatever
	// was there. Implementations assign a version greater than any previously
	// issued for this identity.
	SetChallenge(ctx context.Context, id uuid.UUID, ch OTPChallenge) (OTPChallenge, error)

	// UpdateChallenge replaces the slot contents iff the stored version still
	// equals expectedVersion; the stored version is bumped.
	UpdateChallenge(ctx context.Context, id uuid.UUID, expectedVersion int64, ch OTPChallenge) (OTPChallenge, error)

	// IncChallengeAttempts bumps the attempt counter iff the version matches,
	// returning the post-increment count. The version is not bumped, so
	// consecutive wrong guesses against the same code keep counting.
	IncChallengeAttempts(ctx context.Context, id uuid.UUID, expectedVersion int64) (int, error)

	// ClearChallenge empties the slot iff the version matches.
	ClearChallenge(ctx context.Context, id uuid.UUID, expectedVersion int64) error

	// MarkEmailVerified sets the email-verified flag.
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error

	// AddSession appends a session entry. When the identity already holds
	// maxSessions live entries the oldest is evicted first.
	AddSession(ctx context.Context, id uuid.UUID, s SessionEntry, maxSessions int) error

	// RevokeSession marks the entry revoked; unknown session IDs are a no-op.
	RevokeSession(ctx context.Context, id uuid.UUID, sessionID string) error

	SetBiometric(ctx context.Context, id uuid.UUID, b BiometricProfile) error

	// RecordBiometricFailure mirrors RecordLoginFailure for the biometric
	// counter, which is independent of the account lockout.
	RecordBiometricFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (BiometricProfile, error)

	// ResetBiometricFailures zeroes the biometric counter and lock window.
	ResetBiometricFailures(ctx context.Context, id uuid.UUID) error

	// DisableBiometric clears the profile including the stored template.
	DisableBiometric(ctx context.Context, id uuid.UUID) error

	// ApplyVerification persists a KYC outcome: flags, level and encrypted
	// document envelopes in one write.
	ApplyVerification(ctx context.Context, id uuid.UUID, upd VerificationUpdate) error
}
