// Package httputil centralizes JSON encoding/decoding for HTTP handlers so
// every endpoint shares one error envelope and one decoding policy.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "civis/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; none of our operations carry large
// payloads except biometric samples, which get their own limit at the handler.
const maxBodyBytes = 1 << 20

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error to the shared JSON error envelope.
// Internal errors omit the description so infrastructure detail stays out of
// client responses. Meta keys (retry_after, attempts_remaining) are flattened
// into the envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]any{
		"error": string(code),
	}
	if msg := dErrors.MessageOf(err); msg != "" {
		body["error_description"] = msg
	}
	for k, v := range dErrors.MetaOf(err) {
		body[k] = v
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Decode parses a JSON request body into dst, rejecting unknown fields and
// trailing data. Each operation has exactly one accepted shape; anything else
// is an input error, not something to silently normalize.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}
