// Package memory provides an in-memory identity store for tests and local
// development. All mutations run under the store lock, so the per-field
// operations get the same atomicity the SQL store achieves with guarded
// single-statement updates.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"civis/internal/identity"
	"civis/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*identity.Identity
	byEmail  map[string]uuid.UUID
	versions map[uuid.UUID]int64
}

func New() *Store {
	return &Store{
		byID:     make(map[uuid.UUID]*identity.Identity),
		byEmail:  make(map[string]uuid.UUID),
		versions: make(map[uuid.UUID]int64),
	}
}

func (s *Store) Create(_ context.Context, rec *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(rec.Email)
	if _, exists := s.byEmail[key]; exists {
		return sentinel.ErrConflict
	}
	cp := clone(rec)
	s.byID[rec.ID] = cp
	s.byEmail[key] = rec.ID
	return nil
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.PasswordHash = hash
		return nil
	})
}

func (s *Store) RecordLoginFailure(_ context.Context, id uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (identity.Lockout, error) {
	var out identity.Lockout
	err := s.mutate(id, func(rec *identity.Identity) error {
		rec.Lockout.FailureCount++
		if rec.Lockout.FailureCount >= threshold {
			until := now.Add(lockFor)
			rec.Lockout.LockedUntil = &until
		}
		out = rec.Lockout
		return nil
	})
	return out, err
}

func (s *Store) ResetLockout(_ context.Context, id uuid.UUID, now time.Time) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.Lockout = identity.Lockout{}
		t := now
		rec.LastLoginAt = &t
		return nil
	})
}

func (s *Store) LockAccount(_ context.Context, id uuid.UUID, until time.Time) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.Lockout.LockedUntil = &until
		return nil
	})
}

func (s *Store) SetChallenge(_ context.Context, id uuid.UUID, ch identity.OTPChallenge) (identity.OTPChallenge, error) {
	var out identity.OTPChallenge
	err := s.mutate(id, func(rec *identity.Identity) error {
		s.versions[id]++
		ch.Version = s.versions[id]
		rec.Challenge = &ch
		out = ch
		return nil
	})
	return out, err
}

func (s *Store) UpdateChallenge(_ context.Context, id uuid.UUID, expectedVersion int64, ch identity.OTPChallenge) (identity.OTPChallenge, error) {
	var out identity.OTPChallenge
	err := s.mutate(id, func(rec *identity.Identity) error {
		if rec.Challenge == nil || rec.Challenge.Version != expectedVersion {
			return sentinel.ErrConflict
		}
		s.versions[id]++
		ch.Version = s.versions[id]
		rec.Challenge = &ch
		out = ch
		return nil
	})
	return out, err
}

func (s *Store) IncChallengeAttempts(_ context.Context, id uuid.UUID, expectedVersion int64) (int, error) {
	var attempts int
	err := s.mutate(id, func(rec *identity.Identity) error {
		if rec.Challenge == nil || rec.Challenge.Version != expectedVersion {
			return sentinel.ErrConflict
		}
		rec.Challenge.Attempts++
		attempts = rec.Challenge.Attempts
		return nil
	})
	return attempts, err
}

func (s *Store) ClearChallenge(_ context.Context, id uuid.UUID, expectedVersion int64) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		if rec.Challenge == nil || rec.Challenge.Version != expectedVersion {
			return sentinel.ErrConflict
		}
		rec.Challenge = nil
		return nil
	})
}

func (s *Store) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.EmailVerified = true
		return nil
	})
}

func (s *Store) AddSession(_ context.Context, id uuid.UUID, sess identity.SessionEntry, maxSessions int) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.Sessions = append(rec.Sessions, sess)
		if maxSessions > 0 && len(rec.Sessions) > maxSessions {
			rec.Sessions = rec.Sessions[len(rec.Sessions)-maxSessions:]
		}
		return nil
	})
}

func (s *Store) RevokeSession(_ context.Context, id uuid.UUID, sessionID string) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		if e := rec.FindSession(sessionID); e != nil {
			e.Revoked = true
		}
		return nil
	})
}

func (s *Store) SetBiometric(_ context.Context, id uuid.UUID, b identity.BiometricProfile) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.Biometric = b
		return nil
	})
}

func (s *Store) RecordBiometricFailure(_ context.Context, id uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (identity.BiometricProfile, error) {
	var out identity.BiometricProfile
	err := s.mutate(id, func(rec *identity.Identity) error {
		rec.Biometric.FailureCount++
		if rec.Biometric.FailureCount >= threshold {
			until := now.Add(lockFor)
			rec.Biometric.LockedUntil = &until
		}
		out = rec.Biometric
		return nil
	})
	return out, err
}

func (s *Store) ResetBiometricFailures(_ context.Context, id uuid.UUID) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.Biometric.FailureCount = 0
		rec.Biometric.LockedUntil = nil
		return nil
	})
}

func (s *Store) DisableBiometric(_ context.Context, id uuid.UUID) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.Biometric = identity.BiometricProfile{}
		return nil
	})
}

func (s *Store) ApplyVerification(_ context.Context, id uuid.UUID, upd identity.VerificationUpdate) error {
	return s.mutate(id, func(rec *identity.Identity) error {
		rec.KYCLevel = upd.KYCLevel
		if upd.DocumentVerified {
			rec.DocumentVerified = true
		}
		if upd.TaxIDVerified {
			rec.TaxIDVerified = true
		}
		if upd.NationalIDEnvelope != "" {
			rec.NationalIDEnvelope = upd.NationalIDEnvelope
		}
		if upd.TaxIDEnvelope != "" {
			rec.TaxIDEnvelope = upd.TaxIDEnvelope
		}
		return nil
	})
}

func (s *Store) mutate(id uuid.UUID, fn func(*identity.Identity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func clone(rec *identity.Identity) *identity.Identity {
	cp := *rec
	if rec.Challenge != nil {
		ch := *rec.Challenge
		cp.Challenge = &ch
	}
	cp.Sessions = append([]identity.SessionEntry(nil), rec.Sessions...)
	if rec.Permissions != nil {
		perms := make(map[string][]string, len(rec.Permissions))
		for k, v := range rec.Permissions {
			perms[k] = append([]string(nil), v...)
		}
		cp.Permissions = perms
	}
	return &cp
}
