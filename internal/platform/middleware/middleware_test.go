package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "civis/pkg/domain-errors"
	"civis/pkg/requestcontext"
	"civis/pkg/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestID(t *testing.T) {
	t.Run("honors upstream ID", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.RequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "upstream-42")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, "upstream-42", seen)
		assert.Equal(t, "upstream-42", rr.Header().Get("X-Request-Id"))
	})

	t.Run("generates one when missing", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.RequestID(r.Context())
		}))

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
		assert.Equal(t, seen, rr.Header().Get("X-Request-Id"))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "INTERNAL_ERROR")
}

func TestClientMetadata(t *testing.T) {
	capture := func(r *http.Request) (ip, device string) {
		var gotIP, gotDevice string
		h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotIP = requestcontext.ClientIP(r.Context())
			gotDevice = requestcontext.UserAgent(r.Context())
		}))
		h.ServeHTTP(httptest.NewRecorder(), r)
		return gotIP, gotDevice
	}

	t.Run("first forwarded address wins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 10.0.0.2")
		ip, _ := capture(req)
		assert.Equal(t, "203.0.113.7", ip)
	})

	t.Run("real IP header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-Ip", " 203.0.113.9 ")
		ip, _ := capture(req)
		assert.Equal(t, "203.0.113.9", ip)
	})

	t.Run("falls back to the remote address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:39812"
		ip, _ := capture(req)
		assert.Equal(t, "198.51.100.4", ip)
	})

	t.Run("condenses the user agent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		_, device := capture(req)
		assert.Contains(t, device, "Chrome 120")
		assert.Contains(t, device, " on ")
	})
}

func TestDeviceLabel(t *testing.T) {
	t.Run("browser major version only", func(t *testing.T) {
		label := deviceLabel("Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0")
		assert.Contains(t, label, "Firefox 115")
		assert.NotContains(t, label, "115.0")
	})

	t.Run("empty agent", func(t *testing.T) {
		assert.Equal(t, "", deviceLabel(""))
	})

	t.Run("unparseable agent is truncated", func(t *testing.T) {
		raw := strings.Repeat("x", 200)
		label := deviceLabel(raw)
		assert.LessOrEqual(t, len(label), 64)
	})
}

type fakeVerifier struct {
	identity requestcontext.Identity
	err      error
}

func (v *fakeVerifier) VerifyAccessIdentity(string) (requestcontext.Identity, error) {
	if v.err != nil {
		return requestcontext.Identity{}, v.err
	}
	return v.identity, nil
}

func TestRequireAuth(t *testing.T) {
	userID := uuid.New()

	testutil.Given(t, "a protected handler", func(t *testing.T) {
		verifier := &fakeVerifier{identity: requestcontext.Identity{UserID: userID, Email: "asha@example.org"}}

		var caller requestcontext.Identity
		var called bool
		h := RequireAuth(verifier, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, called = requestcontext.CallerIdentity(r.Context())
		}))

		testutil.When(t, "the request carries a valid bearer token", func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer good-token")
			h.ServeHTTP(httptest.NewRecorder(), req)

			testutil.Then(t, "the caller identity is installed", func(t *testing.T) {
				require.True(t, called)
				assert.Equal(t, userID, caller.UserID)
				assert.Equal(t, "asha@example.org", caller.Email)
			})
		})

		testutil.When(t, "the header is missing", func(t *testing.T) {
			called = false
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

			testutil.Then(t, "the request is rejected", func(t *testing.T) {
				assert.False(t, called)
				testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
			})
		})
	})

	t.Run("verifier error is written as-is", func(t *testing.T) {
		verifier := &fakeVerifier{err: dErrors.New(dErrors.CodeTokenExpired, "token has expired")}
		h := RequireAuth(verifier, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer stale-token")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "TOKEN_EXPIRED")
	})

	t.Run("empty bearer value", func(t *testing.T) {
		verifier := &fakeVerifier{err: errors.New("must not be called")}
		h := RequireAuth(verifier, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer ")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})
}
