// Package login implements the multi-factor authentication flow: password
// check, one-time code challenge, optional biometric step-up, and the token
// session lifecycle.
package login

import (
	"time"

	"github.com/google/uuid"
)

// Config holds the flow thresholds. Zero values are replaced with defaults
// by New.
type Config struct {
	MaxLoginFailures int
	LockDuration     time.Duration

	OTPTTL         time.Duration
	MaxOTPAttempts int
	ResendCooldown time.Duration
	MaxResends     int

	MaxSessions int

	NotifyTimeout time.Duration

	// Fixed-window limits applied before any credential work.
	LoginPerEmail  int
	LoginPerIP     int
	RateWindow     time.Duration
	ResendPerEmail int
}

func DefaultConfig() Config {
	return Config{
		MaxLoginFailures: 5,
		LockDuration:     15 * time.Minute,
		OTPTTL:           5 * time.Minute,
		MaxOTPAttempts:   5,
		ResendCooldown:   60 * time.Second,
		MaxResends:       3,
		MaxSessions:      10,
		NotifyTimeout:    3 * time.Second,
		LoginPerEmail:    10,
		LoginPerIP:       30,
		RateWindow:       15 * time.Minute,
		ResendPerEmail:   10,
	}
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

type SubmitInput struct {
	Email    string
	Password string
	Device   string
	IP       string
}

type VerifyInput struct {
	Email  string
	Code   string
	Device string
	IP     string
}

// Step names returned to the client so it knows what to do next.
const (
	StepOTP       = "otp_required"
	StepBiometric = "biometric_required"
	StepDone      = "authenticated"
)

// ChallengeInfo describes a pending one-time code.
type ChallengeInfo struct {
	Step         string    `json:"step"`
	MaskedEmail  string    `json:"masked_email"`
	ExpiresAt    time.Time `json:"expires_at"`
	ResendsLeft  int       `json:"resends_left"`
	NextResendAt time.Time `json:"next_resend_at"`
	AttemptsLeft int       `json:"attempts_left"`
}

// TokenPair is the final authentication artifact.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccessGrant is the refresh outcome: a fresh access token under the same
// session, with the refresh token left untouched.
type AccessGrant struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Result is the outcome of a verification step. Exactly one of Tokens or
// StepUpToken is set depending on Step.
type Result struct {
	Step        string     `json:"step"`
	Tokens      *TokenPair `json:"tokens,omitempty"`
	StepUpToken string     `json:"step_up_token,omitempty"`
}

// Profile is the safe projection of an identity returned by Me and Register.
type Profile struct {
	ID            uuid.UUID           `json:"id"`
	Email         string              `json:"email"`
	Name          string              `json:"name"`
	Role          string              `json:"role"`
	KYCLevel      int                 `json:"kyc_level"`
	EmailVerified bool                `json:"email_verified"`
	Permissions   map[string][]string `json:"permissions"`
	LastLoginAt   *time.Time          `json:"last_login_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}
