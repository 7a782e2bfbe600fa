// Package ratelimit provides fixed-window request limiting for the
// authentication surface. Scopes partition counters by operation (login,
// resend, kyc) and subjects key them by email or client IP.
package ratelimit

import (
	"strings"
	"time"
)

// Rule bounds one scope: at most Limit events per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds; 0 when allowed
}

// Key builds the counter key for a scope and subject. Subjects are lowered
// and stripped of the key separator so attacker-controlled input cannot
// collide counters across scopes.
func Key(scope, subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	subject = strings.ReplaceAll(subject, ":", "_")
	if subject == "" {
		subject = "unknown"
	}
	return "rl:" + scope + ":" + subject
}
