package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"civis/internal/biometric"
	"civis/internal/login"
	"civis/internal/platform/middleware"
	"civis/internal/token"
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/platform/httputil"
	"civis/pkg/requestcontext"
)

// BiometricService is the step-up coordinator as the transport sees it.
type BiometricService interface {
	Enroll(ctx context.Context, userID uuid.UUID, in biometric.EnrollInput) (*biometric.Status, error)
	Verify(ctx context.Context, userID uuid.UUID, sample, device, ip string) (*login.TokenPair, error)
	Disable(ctx context.Context, userID uuid.UUID) error
	Status(ctx context.Context, userID uuid.UUID) (*biometric.Status, error)
}

type biometricHandler struct {
	svc    BiometricService
	tokens *token.Service
	logger *slog.Logger
}

func newBiometricHandler(svc BiometricService, tokens *token.Service, logger *slog.Logger) *biometricHandler {
	return &biometricHandler{svc: svc, tokens: tokens, logger: logger}
}

func (h *biometricHandler) Register(r chi.Router, verifier middleware.AccessVerifier) {
	r.Route("/biometric", func(r chi.Router) {
		// Verification is authorized by the step-up token from the OTP
		// step, not by a full session.
		r.Post("/verify", h.handleVerify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(verifier, h.logger))
			r.Post("/register", h.handleEnroll)
			r.Delete("/register", h.handleDisable)
			r.Get("/status", h.handleStatus)
		})
	})
}

type enrollRequest struct {
	Samples []string `json:"samples"`
}

func (h *biometricHandler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	var req enrollRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	status, err := h.svc.Enroll(r.Context(), caller.UserID, biometric.EnrollInput{Samples: req.Samples})
	if err != nil {
		h.fail(r, w, err, "biometric enroll")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, status)
}

type verifyRequest struct {
	StepUpToken string `json:"step_up_token"`
	Sample      string `json:"sample"`
}

func (h *biometricHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.StepUpToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "step_up_token is required"))
		return
	}

	claims, err := h.tokens.VerifyStepUp(req.StepUpToken)
	if err != nil {
		h.fail(r, w, err, "biometric verify")
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidToken, "malformed token subject"))
		return
	}

	ctx := r.Context()
	pair, err := h.svc.Verify(ctx, userID, req.Sample,
		requestcontext.UserAgent(ctx), requestcontext.ClientIP(ctx))
	if err != nil {
		h.fail(r, w, err, "biometric verify")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, login.Result{Step: login.StepDone, Tokens: pair})
}

func (h *biometricHandler) handleDisable(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	if err := h.svc.Disable(r.Context(), caller.UserID); err != nil {
		h.fail(r, w, err, "biometric disable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *biometricHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	status, err := h.svc.Status(r.Context(), caller.UserID)
	if err != nil {
		h.fail(r, w, err, "biometric status")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *biometricHandler) fail(r *http.Request, w http.ResponseWriter, err error, op string) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.DebugContext(ctx, op+" rejected",
			"request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
