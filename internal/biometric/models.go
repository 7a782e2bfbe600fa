// Package biometric coordinates face-template enrollment and the optional
// step-up verification after the one-time code. Matching itself happens in
// an external service; this package owns thresholds, lockout and template
// custody.
package biometric

import "time"

// Config holds the step-up policy. Zero values get defaults from New.
type Config struct {
	// MatchThreshold is the minimum similarity score accepted as the same
	// person.
	MatchThreshold float64
	// RequiredSamples is the exact number of face samples an enrollment
	// must supply.
	RequiredSamples int
	// MinQuality rejects enrollments whose aggregate capture quality is
	// too low to match reliably later.
	MinQuality float64

	MaxFailures  int
	LockDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MatchThreshold:  0.50,
		RequiredSamples: 5,
		MinQuality:      0.40,
		MaxFailures:     5,
		LockDuration:    15 * time.Minute,
	}
}

// EnrollInput carries the capture payload for template creation. Samples are
// base64-encoded images straight from the client.
type EnrollInput struct {
	Samples []string
}

// Status is the safe projection of the biometric profile.
type Status struct {
	Enabled      bool       `json:"enabled"`
	SampleCount  int        `json:"sample_count"`
	Quality      float64    `json:"quality"`
	Locked       bool       `json:"locked"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	FailuresLeft int        `json:"failures_left"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}
