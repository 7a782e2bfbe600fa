// Package identity owns the durable identity record: credentials, lockout
// state, the single one-time-code challenge slot, biometric profile, refresh
// sessions, and the verification flags that make up the KYC level.
//
// Plaintext secrets never appear on this record. Passwords and one-time codes
// are stored as hashes; document numbers and biometric templates as
// authenticated ciphertext envelopes.
package identity

import (
	"time"

	"github.com/google/uuid"

	dErrors "civis/pkg/domain-errors"
)

// Role determines baseline permissions.
type Role string

const (
	RoleCitizen  Role = "citizen"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// IsValid checks the role against the supported set.
func (r Role) IsValid() bool {
	switch r {
	case RoleCitizen, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// Assurance levels; level 0 means only the email channel was ever verified.
const (
	KYCLevelEmail    = 0
	KYCLevelPartial  = 1
	KYCLevelVerified = 2
)

// DefaultPermissions is the per-domain permission set granted at registration.
func DefaultPermissions() map[string][]string {
	return map[string][]string{
		"healthcare":  {"read", "book_appointment"},
		"agriculture": {"read", "request_advisory"},
		"urban":       {"read", "file_complaint"},
	}
}

// Lockout is the durable per-account failure counter and lock window.
type Lockout struct {
	FailureCount int        `json:"failure_count"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
}

// IsLockedAt reports whether the account lock is active at the given instant.
func (l Lockout) IsLockedAt(now time.Time) bool {
	return l.LockedUntil != nil && now.Before(*l.LockedUntil)
}

// RemainingAt returns the remaining lock duration at the given instant.
func (l Lockout) RemainingAt(now time.Time) time.Duration {
	if l.LockedUntil == nil {
		return 0
	}
	if d := l.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// OTPChallenge is the single live one-time-code slot on an identity. The
// Version field is the optimistic-concurrency token: resend and verify racing
// for the slot are serialized by compare-and-set on it.
type OTPChallenge struct {
	CodeHash     string     `json:"code_hash"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Attempts     int        `json:"attempts"`
	ResendCount  int        `json:"resend_count"`
	LastResendAt *time.Time `json:"last_resend_at,omitempty"`
	Version      int64      `json:"version"`
}

// IsExpiredAt reports whether the challenge has passed its expiry.
func (c OTPChallenge) IsExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// BiometricProfile is the biometric sub-record. Its failure counter and lock
// window are independent of the account lockout.
type BiometricProfile struct {
	Enabled          bool       `json:"enabled"`
	TemplateEnvelope string     `json:"template_envelope,omitempty"`
	SampleCount      int        `json:"sample_count"`
	Quality          float64    `json:"quality"`
	FailureCount     int        `json:"failure_count"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// IsLockedAt reports whether biometric verification is locked at the instant.
func (b BiometricProfile) IsLockedAt(now time.Time) bool {
	return b.LockedUntil != nil && now.Before(*b.LockedUntil)
}

// RemainingAt returns the remaining biometric lock duration.
func (b BiometricProfile) RemainingAt(now time.Time) time.Duration {
	if b.LockedUntil == nil {
		return 0
	}
	if d := b.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// SessionEntry binds one refresh token to one logged-in device. Entries are
// additive: concurrent logins from other devices never clobber each other.
type SessionEntry struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Device    string    `json:"device,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Revoked   bool      `json:"revoked"`
}

// IsUsableAt reports whether the entry can still back a token refresh.
func (s SessionEntry) IsUsableAt(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// Identity is the durable record, exclusively owned by the credential store.
type Identity struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`

	Permissions map[string][]string `json:"permissions"`

	KYCLevel         int  `json:"kyc_level"`
	EmailVerified    bool `json:"email_verified"`
	DocumentVerified bool `json:"document_verified"`
	TaxIDVerified    bool `json:"tax_id_verified"`

	// Encrypted PII, opaque envelope strings; never plaintext at rest.
	NationalIDEnvelope string `json:"-"`
	TaxIDEnvelope      string `json:"-"`

	Lockout   Lockout          `json:"-"`
	Challenge *OTPChallenge    `json:"-"`
	Biometric BiometricProfile `json:"-"`
	Sessions  []SessionEntry   `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// New creates an identity record with domain invariant validation.
func New(email, name, passwordHash string) (*Identity, error) {
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email cannot be empty")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash cannot be empty")
	}

	now := time.Now()
	return &Identity{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         RoleCitizen,
		Permissions:  DefaultPermissions(),
		KYCLevel:     KYCLevelEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// FindSession returns the session entry with the given ID, or nil.
func (i *Identity) FindSession(sessionID string) *SessionEntry {
	for idx := range i.Sessions {
		if i.Sessions[idx].SessionID == sessionID {
			return &i.Sessions[idx]
		}
	}
	return nil
}

// VerificationUpdate records the outcome of a KYC verification pass. Envelope
// fields hold already-encrypted document numbers; empty strings leave the
// stored value untouched.
type VerificationUpdate struct {
	KYCLevel           int
	DocumentVerified   bool
	TaxIDVerified      bool
	NationalIDEnvelope string
	TaxIDEnvelope      string
}
