// Package httptransport wires the HTTP surface: public authentication
// endpoints, token-protected account endpoints, and operational probes.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civis/internal/platform/metrics"
	"civis/internal/platform/middleware"
	"civis/internal/token"
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/requestcontext"
)

// Deps collects everything the router mounts.
type Deps struct {
	Logger    *slog.Logger
	Login     LoginService
	Biometric BiometricService
	KYC       KYCService
	Tokens    *token.Service

	// Ready reports backend health for the readiness probe.
	Ready func() error
}

// NewRouter assembles the full route tree.
func NewRouter(d Deps) *chi.Mux {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := &accessVerifier{tokens: d.Tokens}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(logger))
	r.Use(metrics.Middleware)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(d.Ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	newAuthHandler(d.Login, logger).Register(r, verifier)
	newBiometricHandler(d.Biometric, d.Tokens, logger).Register(r, verifier)
	newKYCHandler(d.KYC, logger).Register(r, verifier)

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReadyz(ready func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

type accessVerifier struct {
	tokens *token.Service
}

func (v *accessVerifier) VerifyAccessIdentity(raw string) (requestcontext.Identity, error) {
	claims, err := v.tokens.VerifyAccess(raw)
	if err != nil {
		return requestcontext.Identity{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return requestcontext.Identity{}, dErrors.New(dErrors.CodeInvalidToken, "malformed token subject")
	}
	return requestcontext.Identity{
		UserID:      userID,
		Email:       claims.Email,
		Role:        claims.Role,
		KYCLevel:    claims.KYCLevel,
		Permissions: claims.Permissions,
	}, nil
}
