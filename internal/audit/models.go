// Package audit records security-relevant events from the authentication
// surface: login attempts, lockouts, step-up outcomes, KYC decisions.
package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so channel workers and Kafka sinks can fan out.
// Subject carries masked identifiers only; plaintext PII never enters the
// audit stream.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Action    string            `json:"action"`
	Outcome   string            `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Well-known actions.
const (
	ActionRegister        = "identity_registered"
	ActionLoginSubmit     = "login_submitted"
	ActionOTPVerified     = "otp_verified"
	ActionOTPFailed       = "otp_failed"
	ActionOTPResent       = "otp_resent"
	ActionAccountLocked   = "account_locked"
	ActionTokenRefreshed  = "token_refreshed"
	ActionLogout          = "logout"
	ActionBiometricEnroll = "biometric_enrolled"
	ActionBiometricVerify = "biometric_verified"
	ActionBiometricLocked = "biometric_locked"
	ActionKYCInitiated    = "kyc_initiated"
	ActionKYCVerified     = "kyc_verified"
	ActionKYCRejected     = "kyc_rejected"
	ActionTamperDetected  = "tamper_detected"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)
