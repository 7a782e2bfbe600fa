package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "civis/pkg/domain-errors"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "INTERNAL_ERROR", body["error"])
		assert.NotContains(t, body, "error_description")
	})

	t.Run("input error includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "email is required"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "INVALID_INPUT", body["error"])
		assert.Equal(t, "email is required", body["error_description"])
	})

	t.Run("meta keys are flattened into the envelope", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeAccountLocked, "account locked").
			WithMeta("retry_after", 900))

		assert.Equal(t, http.StatusLocked, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "ACCOUNT_LOCKED", body["error"])
		assert.EqualValues(t, 900, body["retry_after"])
	})

	t.Run("plain errors map to internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
	})
}

func TestDecode(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}

	newReq := func(body string) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}

	t.Run("valid body", func(t *testing.T) {
		var dst payload
		require.NoError(t, Decode(newReq(`{"email":"citizen@example.org"}`), &dst))
		assert.Equal(t, "citizen@example.org", dst.Email)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		var dst payload
		err := Decode(newReq(`{"email":"a@b.c","debug":true}`), &dst)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("trailing data rejected", func(t *testing.T) {
		var dst payload
		err := Decode(newReq(`{"email":"a@b.c"}{"email":"x@y.z"}`), &dst)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		var dst payload
		err := Decode(newReq(`{"email":`), &dst)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}
