package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civis/internal/kyc"
	"civis/pkg/platform/sentinel"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestInitiate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/verifications", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"request_id":     "req-42",
			"masked_channel": "XXXXXX4321",
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAPIKey("registry-key"))
	require.NoError(t, err)

	requestID, maskedChannel, err := c.Initiate(context.Background(), kyc.DocNationalID, "199203154321")
	require.NoError(t, err)
	assert.Equal(t, "req-42", requestID)
	assert.Equal(t, "XXXXXX4321", maskedChannel)
	assert.Equal(t, "Bearer registry-key", gotAuth)
	assert.Equal(t, "national_id", gotBody["doc_type"])
	assert.Equal(t, "199203154321", gotBody["number"])
}

func TestConfirm(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		var gotBody map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/verifications/req-42/confirm", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":          "verified",
				"registered_name": "Asha Verma",
			})
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)

		name, ok, err := c.Confirm(context.Background(), kyc.ConfirmRequest{
			RequestID:    "req-42",
			Number:       "199203154321",
			SecondNumber: "abcde1234f",
			Code:         "654321",
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Asha Verma", name)
		assert.Equal(t, "199203154321", gotBody["number"])
		assert.Equal(t, "abcde1234f", gotBody["second_number"])
		assert.Equal(t, "654321", gotBody["code"])
	})

	t.Run("second number is omitted when absent", func(t *testing.T) {
		var raw map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "verified"})
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)

		_, _, err = c.Confirm(context.Background(), kyc.ConfirmRequest{
			RequestID: "req-42",
			Number:    "199203154321",
			Code:      "654321",
		})
		require.NoError(t, err)
		assert.NotContains(t, raw, "second_number")
	})

	t.Run("rejected is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "rejected"})
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)

		_, ok, err := c.Confirm(context.Background(), kyc.ConfirmRequest{
			RequestID: "req-42",
			Number:    "199203154321",
			Code:      "654321",
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, _, err = c.Initiate(context.Background(), kyc.DocNationalID, "199203154321")
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestClientErrorsAreNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("document rejected"))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, _, err = c.Initiate(context.Background(), kyc.DocNationalID, "199203154321")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Contains(t, err.Error(), "document rejected")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := c.Initiate(context.Background(), kyc.DocNationalID, "199203154321")
		require.ErrorIs(t, err, sentinel.ErrUnavailable)
	}
	require.Equal(t, int32(5), hits.Load())

	// The open breaker rejects without touching the registry.
	_, _, err = c.Initiate(context.Background(), kyc.DocNationalID, "199203154321")
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, int32(5), hits.Load())
}

func TestUnreachableRegistry(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)

	_, _, err = c.Initiate(context.Background(), kyc.DocNationalID, "199203154321")
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
