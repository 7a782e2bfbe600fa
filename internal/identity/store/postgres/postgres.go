// Package postgres persists identity records in PostgreSQL via pgx.
//
// The store is pure I/O; business rules live in the services. Counter and
// challenge mutations are single guarded statements so concurrent requests
// cannot interleave between read and write.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"civis/internal/identity"
	"civis/pkg/platform/sentinel"
)

//go:embed schema.sql
var schemaSQL string

const pgUniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the identities table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure identities schema: %w", err)
	}
	return nil
}

const identityColumns = `
	id, email, name, phone, password_hash, role, permissions,
	kyc_level, email_verified, document_verified, tax_id_verified,
	national_id_envelope, tax_id_envelope,
	failure_count, locked_until,
	challenge_code_hash, challenge_expires_at, challenge_attempts,
	challenge_resend_count, challenge_last_resend_at, challenge_version,
	bio_enabled, bio_template_envelope, bio_sample_count, bio_quality,
	bio_failure_count, bio_locked_until, bio_updated_at,
	sessions, last_login_at, created_at, updated_at`

func (s *Store) Create(ctx context.Context, rec *identity.Identity) error {
	perms, err := json.Marshal(rec.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	sessions, err := json.Marshal(rec.Sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	query := `
		INSERT INTO identities (
			id, email, name, phone, password_hash, role, permissions,
			kyc_level, email_verified, national_id_envelope, tax_id_envelope,
			sessions, created_at, updated_at
		)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.Email, rec.Name, rec.Phone, rec.PasswordHash, rec.Role, perms,
		rec.KYCLevel, rec.EmailVerified, rec.NationalIDEnvelope, rec.TaxIDEnvelope,
		sessions, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = lower($1)`
	return s.scanOne(s.pool.QueryRow(ctx, query, email))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return s.exec(ctx, "update password hash",
		`UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (s *Store) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (identity.Lockout, error) {
	query := `
		UPDATE identities SET
			failure_count = failure_count + 1,
			locked_until = CASE WHEN failure_count + 1 >= $2 THEN $3::timestamptz ELSE locked_until END,
			updated_at = now()
		WHERE id = $1
		RETURNING failure_count, locked_until
	`
	var out identity.Lockout
	err := s.pool.QueryRow(ctx, query, id, threshold, now.Add(lockFor)).
		Scan(&out.FailureCount, &out.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Lockout{}, sentinel.ErrNotFound
		}
		return identity.Lockout{}, fmt.Errorf("record login failure: %w", err)
	}
	return out, nil
}

func (s *Store) ResetLockout(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.exec(ctx, "reset lockout", `
		UPDATE identities SET
			failure_count = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		WHERE id = $1`, id, now)
}

func (s *Store) LockAccount(ctx context.Context, id uuid.UUID, until time.Time) error {
	return s.exec(ctx, "lock account",
		`UPDATE identities SET locked_until = $2, updated_at = now() WHERE id = $1`, id, until)
}

func (s *Store) SetChallenge(ctx context.Context, id uuid.UUID, ch identity.OTPChallenge) (identity.OTPChallenge, error) {
	query := `
		UPDATE identities SET
			challenge_code_hash = $2,
			challenge_expires_at = $3,
			challenge_attempts = $4,
			challenge_resend_count = $5,
			challenge_last_resend_at = $6,
			challenge_version = challenge_version + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING challenge_version
	`
	err := s.pool.QueryRow(ctx, query, id,
		ch.CodeHash, ch.ExpiresAt, ch.Attempts, ch.ResendCount, ch.LastResendAt,
	).Scan(&ch.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.OTPChallenge{}, sentinel.ErrNotFound
		}
		return identity.OTPChallenge{}, fmt.Errorf("set challenge: %w", err)
	}
	return ch, nil
}

func (s *Store) UpdateChallenge(ctx context.Context, id uuid.UUID, expectedVersion int64, ch identity.OTPChallenge) (identity.OTPChallenge, error) {
	query := `
		UPDATE identities SET
			challenge_code_hash = $3,
			challenge_expires_at = $4,
			challenge_attempts = $5,
			challenge_resend_count = $6,
			challenge_last_resend_at = $7,
			challenge_version = challenge_version + 1,
			updated_at = now()
		WHERE id = $1 AND challenge_code_hash IS NOT NULL AND challenge_version = $2
		RETURNING challenge_version
	`
	err := s.pool.QueryRow(ctx, query, id, expectedVersion,
		ch.CodeHash, ch.ExpiresAt, ch.Attempts, ch.ResendCount, ch.LastResendAt,
	).Scan(&ch.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.OTPChallenge{}, sentinel.ErrConflict
		}
		return identity.OTPChallenge{}, fmt.Errorf("update challenge: %w", err)
	}
	return ch, nil
}

func (s *Store) IncChallengeAttempts(ctx context.Context, id uuid.UUID, expectedVersion int64) (int, error) {
	query := `
		UPDATE identities SET
			challenge_attempts = challenge_attempts + 1,
			updated_at = now()
		WHERE id = $1 AND challenge_code_hash IS NOT NULL AND challenge_version = $2
		RETURNING challenge_attempts
	`
	var attempts int
	if err := s.pool.QueryRow(ctx, query, id, expectedVersion).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, sentinel.ErrConflict
		}
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) ClearChallenge(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	query := `
		UPDATE identities SET
			challenge_code_hash = NULL,
			challenge_expires_at = NULL,
			challenge_attempts = 0,
			challenge_resend_count = 0,
			challenge_last_resend_at = NULL,
			updated_at = now()
		WHERE id = $1 AND challenge_code_hash IS NOT NULL AND challenge_version = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("clear challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "mark email verified",
		`UPDATE identities SET email_verified = TRUE, updated_at = now() WHERE id = $1`, id)
}

func (s *Store) AddSession(ctx context.Context, id uuid.UUID, sess identity.SessionEntry, maxSessions int) error {
	entry, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	// Append, then keep only the newest maxSessions entries. The whole
	// trim happens inside the one UPDATE so concurrent logins stay additive.
	query := `
		UPDATE identities SET
			sessions = (
				SELECT COALESCE(jsonb_agg(e), '[]'::jsonb) FROM (
					SELECT e FROM jsonb_array_elements(sessions || $2::jsonb) AS e
					ORDER BY e->>'created_at' DESC
					LIMIT $3
				) trimmed
			),
			updated_at = now()
		WHERE id = $1
	`
	return s.execTag(ctx, "add session", query, id, entry, maxSessions)
}

func (s *Store) RevokeSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	query := `
		UPDATE identities SET
			sessions = (
				SELECT COALESCE(jsonb_agg(
					CASE WHEN e->>'session_id' = $2
						THEN jsonb_set(e, '{revoked}', 'true')
						ELSE e END
				), '[]'::jsonb)
				FROM jsonb_array_elements(sessions) AS e
			),
			updated_at = now()
		WHERE id = $1
	`
	return s.execTag(ctx, "revoke session", query, id, sessionID)
}

func (s *Store) SetBiometric(ctx context.Context, id uuid.UUID, b identity.BiometricProfile) error {
	return s.exec(ctx, "set biometric", `
		UPDATE identities SET
			bio_enabled = $2, bio_template_envelope = $3, bio_sample_count = $4,
			bio_quality = $5, bio_failure_count = $6, bio_locked_until = $7,
			bio_updated_at = $8, updated_at = now()
		WHERE id = $1`,
		id, b.Enabled, b.TemplateEnvelope, b.SampleCount, b.Quality,
		b.FailureCount, b.LockedUntil, b.UpdatedAt)
}

func (s *Store) RecordBiometricFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (identity.BiometricProfile, error) {
	query := `
		UPDATE identities SET
			bio_failure_count = bio_failure_count + 1,
			bio_locked_until = CASE WHEN bio_failure_count + 1 >= $2 THEN $3::timestamptz ELSE bio_locked_until END,
			updated_at = now()
		WHERE id = $1
		RETURNING bio_enabled, bio_template_envelope, bio_sample_count, bio_quality,
			bio_failure_count, bio_locked_until, bio_updated_at
	`
	var out identity.BiometricProfile
	err := s.pool.QueryRow(ctx, query, id, threshold, now.Add(lockFor)).Scan(
		&out.Enabled, &out.TemplateEnvelope, &out.SampleCount, &out.Quality,
		&out.FailureCount, &out.LockedUntil, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.BiometricProfile{}, sentinel.ErrNotFound
		}
		return identity.BiometricProfile{}, fmt.Errorf("record biometric failure: %w", err)
	}
	return out, nil
}

func (s *Store) ResetBiometricFailures(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "reset biometric failures",
		`UPDATE identities SET bio_failure_count = 0, bio_locked_until = NULL, updated_at = now() WHERE id = $1`, id)
}

func (s *Store) DisableBiometric(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "disable biometric", `
		UPDATE identities SET
			bio_enabled = FALSE, bio_template_envelope = '', bio_sample_count = 0,
			bio_quality = 0, bio_failure_count = 0, bio_locked_until = NULL,
			bio_updated_at = NULL, updated_at = now()
		WHERE id = $1`, id)
}

func (s *Store) ApplyVerification(ctx context.Context, id uuid.UUID, upd identity.VerificationUpdate) error {
	return s.exec(ctx, "apply verification", `
		UPDATE identities SET
			kyc_level = $2,
			document_verified = document_verified OR $3,
			tax_id_verified = tax_id_verified OR $4,
			national_id_envelope = CASE WHEN $5 <> '' THEN $5 ELSE national_id_envelope END,
			tax_id_envelope = CASE WHEN $6 <> '' THEN $6 ELSE tax_id_envelope END,
			updated_at = now()
		WHERE id = $1`,
		id, upd.KYCLevel, upd.DocumentVerified, upd.TaxIDVerified,
		upd.NationalIDEnvelope, upd.TaxIDEnvelope)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	return s.execTag(ctx, op, query, args...)
}

func (s *Store) execTag(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) scanOne(row pgx.Row) (*identity.Identity, error) {
	var (
		rec          identity.Identity
		permsRaw     []byte
		sessionsRaw  []byte
		chCodeHash   *string
		chExpiresAt  *time.Time
		chAttempts   int
		chResends    int
		chLastResend *time.Time
		chVersion    int64
	)
	err := row.Scan(
		&rec.ID, &rec.Email, &rec.Name, &rec.Phone, &rec.PasswordHash, &rec.Role, &permsRaw,
		&rec.KYCLevel, &rec.EmailVerified, &rec.DocumentVerified, &rec.TaxIDVerified,
		&rec.NationalIDEnvelope, &rec.TaxIDEnvelope,
		&rec.Lockout.FailureCount, &rec.Lockout.LockedUntil,
		&chCodeHash, &chExpiresAt, &chAttempts, &chResends, &chLastResend, &chVersion,
		&rec.Biometric.Enabled, &rec.Biometric.TemplateEnvelope, &rec.Biometric.SampleCount,
		&rec.Biometric.Quality, &rec.Biometric.FailureCount, &rec.Biometric.LockedUntil,
		&rec.Biometric.UpdatedAt,
		&sessionsRaw, &rec.LastLoginAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	if len(permsRaw) > 0 {
		if err := json.Unmarshal(permsRaw, &rec.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	if len(sessionsRaw) > 0 {
		if err := json.Unmarshal(sessionsRaw, &rec.Sessions); err != nil {
			return nil, fmt.Errorf("unmarshal sessions: %w", err)
		}
	}
	if chCodeHash != nil && chExpiresAt != nil {
		rec.Challenge = &identity.OTPChallenge{
			CodeHash:     *chCodeHash,
			ExpiresAt:    *chExpiresAt,
			Attempts:     chAttempts,
			ResendCount:  chResends,
			LastResendAt: chLastResend,
			Version:      chVersion,
		}
	}
	return &rec, nil
}
