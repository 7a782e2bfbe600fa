package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"civis/internal/login"
	"civis/internal/platform/middleware"
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/platform/httputil"
	"civis/pkg/requestcontext"
)

// LoginService is the authentication flow as the transport sees it.
type LoginService interface {
	Register(ctx context.Context, in login.RegisterInput) (*login.Profile, error)
	Submit(ctx context.Context, in login.SubmitInput) (*login.ChallengeInfo, error)
	VerifyCode(ctx context.Context, in login.VerifyInput) (*login.Result, error)
	ResendCode(ctx context.Context, email string) (*login.ChallengeInfo, error)
	Refresh(ctx context.Context, refreshToken string) (*login.AccessGrant, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID uuid.UUID) (*login.Profile, error)
}

type authHandler struct {
	login  LoginService
	logger *slog.Logger
}

func newAuthHandler(svc LoginService, logger *slog.Logger) *authHandler {
	return &authHandler{login: svc, logger: logger}
}

func (h *authHandler) Register(r chi.Router, verifier middleware.AccessVerifier) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/verify-code", h.handleVerifyCode)
		r.Post("/resend-code", h.handleResendCode)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(verifier, h.logger))
			r.Get("/me", h.handleMe)
		})
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func (h *authHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	profile, err := h.login.Register(r.Context(), login.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		h.fail(r, w, err, "register")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, profile)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *authHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx := r.Context()
	info, err := h.login.Submit(ctx, login.SubmitInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   requestcontext.UserAgent(ctx),
		IP:       requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.fail(r, w, err, "login")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *authHandler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "code is required"))
		return
	}

	ctx := r.Context()
	result, err := h.login.VerifyCode(ctx, login.VerifyInput{
		Email:  req.Email,
		Code:   req.Code,
		Device: requestcontext.UserAgent(ctx),
		IP:     requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.fail(r, w, err, "verify code")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type resendCodeRequest struct {
	Email string `json:"email"`
}

func (h *authHandler) handleResendCode(w http.ResponseWriter, r *http.Request) {
	var req resendCodeRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	info, err := h.login.ResendCode(r.Context(), req.Email)
	if err != nil {
		h.fail(r, w, err, "resend code")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *authHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "refresh_token is required"))
		return
	}

	grant, err := h.login.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(r, w, err, "refresh")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grant)
}

func (h *authHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "refresh_token is required"))
		return
	}

	if err := h.login.Logout(r.Context(), req.RefreshToken); err != nil {
		h.fail(r, w, err, "logout")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	profile, err := h.login.Me(r.Context(), caller.UserID)
	if err != nil {
		h.fail(r, w, err, "me")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// fail logs server-side failures with the request ID and writes the coded
// response. Client errors stay at debug level to keep the log usable.
func (h *authHandler) fail(r *http.Request, w http.ResponseWriter, err error, op string) {
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
