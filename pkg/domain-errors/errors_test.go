package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "registry unreachable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInvalidOTP, CodeOf(New(CodeInvalidOTP, "incorrect code")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("raw error")))

	// The code survives further wrapping.
	wrapped := fmt.Errorf("handling login: %w", New(CodeAccountLocked, "locked"))
	assert.Equal(t, CodeAccountLocked, CodeOf(wrapped))
}

func TestIs(t *testing.T) {
	err := New(CodeInvalidToken, "bad signature")
	assert.True(t, Is(err, CodeInvalidToken))
	assert.False(t, Is(err, CodeTokenExpired))
	assert.False(t, Is(errors.New("raw"), CodeInvalidToken))
	assert.False(t, Is(nil, CodeInvalidToken))
}

func TestWithMetaDoesNotMutate(t *testing.T) {
	base := New(CodeAccountLocked, "account temporarily locked")
	withRetry := base.WithMeta("retry_after", 900)
	withBoth := withRetry.WithMeta("attempts_left", 0)

	assert.Nil(t, base.Meta)
	assert.Equal(t, map[string]any{"retry_after": 900}, withRetry.Meta)
	assert.Equal(t, map[string]any{"retry_after": 900, "attempts_left": 0}, withBoth.Meta)
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "incorrect code", MessageOf(New(CodeInvalidOTP, "incorrect code")))

	// Internal detail never reaches clients.
	assert.Equal(t, "", MessageOf(Wrap(errors.New("pq: relation missing"), CodeInternal, "query failed")))
	assert.Equal(t, "", MessageOf(errors.New("raw error")))
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeWeakPassword, http.StatusBadRequest},
		{CodeInvalidCredentials, http.StatusUnauthorized},
		{CodeInvalidOTP, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeEmailExists, http.StatusConflict},
		{CodeInvalidState, http.StatusConflict},
		{CodeAccountLocked, http.StatusLocked},
		{CodeFaceAuthLocked, http.StatusLocked},
		{CodeResendCooldown, http.StatusTooManyRequests},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
		{CodeTamperDetected, http.StatusInternalServerError},
		{Code("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ToHTTPStatus(tt.code))
		})
	}
}
