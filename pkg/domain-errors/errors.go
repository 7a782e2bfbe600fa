// Package domainerrors defines coded errors that cross the service boundary.
//
// Services return these instead of raw infrastructure errors so transport can
// translate them into stable HTTP responses without leaking internals. Codes
// are deliberately coarse: a client learns that credentials were wrong, never
// which credential.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of failure. Security-flow codes use the wire
// spelling clients see; generic codes use lowercase snake.
type Code string

const (
	// Generic.
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// Authentication.
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidOTP         Code = "INVALID_OTP"
	CodeNoOTPPending       Code = "NO_OTP_PENDING"
	CodeOTPExpired         Code = "OTP_EXPIRED"
	CodeFaceMismatch       Code = "FACE_MISMATCH"

	// Lockout.
	CodeAccountLocked  Code = "ACCOUNT_LOCKED"
	CodeFaceAuthLocked Code = "FACE_AUTH_LOCKED"
	CodeResendCooldown Code = "RESEND_COOLDOWN"
	CodeResendLimit    Code = "RESEND_LIMIT"
	CodeRateLimited    Code = "TOO_MANY_REQUESTS"

	// Token.
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeInvalidTokenType Code = "INVALID_TOKEN_TYPE"

	// Integrity.
	CodeTamperDetected Code = "TAMPER_DETECTED"

	// Dependency.
	CodeUnavailable Code = "SERVICE_UNAVAILABLE"

	// Registration and KYC.
	CodeEmailExists        Code = "EMAIL_EXISTS"
	CodeWeakPassword       Code = "WEAK_PASSWORD"
	CodeInvalidDocument    Code = "INVALID_DOCUMENT"
	CodeInvalidTaxID       Code = "INVALID_TAX_ID"
	CodeKYCRequestMismatch Code = "KYC_REQUEST_MISMATCH"
	CodeKYCVerifyFailed    Code = "KYC_VERIFICATION_FAILED"
	CodeNameMismatch       Code = "IDENTITY_NAME_MISMATCH"
)

// Error is a coded domain error. Meta carries response hints (retry_after,
// attempts_remaining) that transport may surface; never secrets.
type Error struct {
	Code    Code
	Message string
	Meta    map[string]any
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a domain error with the given code and client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and client-safe message to an underlying error. The
// cause is kept for logging but never serialized to clients.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// WithMeta returns a copy of the error carrying response metadata.
func (e *Error) WithMeta(key string, value any) *Error {
	clone := *e
	clone.Meta = make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		clone.Meta[k] = v
	}
	clone.Meta[key] = value
	return &clone
}

// Is reports whether err carries the given domain code.
func Is(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// CodeOf extracts the domain code from err, or CodeInternal if err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MetaOf extracts response metadata from err, if any.
func MetaOf(err error) map[string]any {
	var de *Error
	if errors.As(err, &de) {
		return de.Meta
	}
	return nil
}

// MessageOf extracts the client-safe message from err. Internal errors get a
// generic message so infrastructure detail never reaches clients.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != CodeInternal {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a domain code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeWeakPassword, CodeInvalidDocument, CodeInvalidTaxID,
		CodeNoOTPPending, CodeOTPExpired, CodeKYCRequestMismatch, CodeKYCVerifyFailed,
		CodeNameMismatch, CodeInvariantViolation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidCredentials, CodeInvalidOTP, CodeFaceMismatch,
		CodeTokenExpired, CodeInvalidToken, CodeInvalidTokenType:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeEmailExists, CodeInvalidState:
		return http.StatusConflict
	case CodeAccountLocked, CodeFaceAuthLocked:
		return http.StatusLocked
	case CodeResendCooldown, CodeResendLimit, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
