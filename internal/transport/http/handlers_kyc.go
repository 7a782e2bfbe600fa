package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"civis/internal/kyc"
	"civis/internal/platform/middleware"
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/platform/httputil"
	"civis/pkg/requestcontext"
)

// KYCService is the verification orchestrator as the transport sees it.
type KYCService interface {
	Initiate(ctx context.Context, userID uuid.UUID, docType kyc.DocType, number string) (*kyc.InitiateResult, error)
	Verify(ctx context.Context, userID uuid.UUID, in kyc.VerifyInput) (*kyc.VerifyResult, error)
	Status(ctx context.Context, userID uuid.UUID) (*kyc.StatusResult, error)
}

type kycHandler struct {
	svc    KYCService
	logger *slog.Logger
}

func newKYCHandler(svc KYCService, logger *slog.Logger) *kycHandler {
	return &kycHandler{svc: svc, logger: logger}
}

func (h *kycHandler) Register(r chi.Router, verifier middleware.AccessVerifier) {
	r.Route("/kyc", func(r chi.Router) {
		r.Use(middleware.RequireAuth(verifier, h.logger))
		r.Post("/initiate", h.handleInitiate)
		r.Post("/verify", h.handleVerify)
		r.Get("/status", h.handleStatus)
	})
}

type initiateRequest struct {
	DocType string `json:"doc_type"`
	Number  string `json:"number"`
}

func (h *kycHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	var req initiateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.svc.Initiate(r.Context(), caller.UserID,
		kyc.DocType(req.DocType), strings.ToUpper(strings.TrimSpace(req.Number)))
	if err != nil {
		h.fail(r, w, err, "kyc initiate")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, result)
}

type kycVerifyRequest struct {
	RequestID            string `json:"request_id"`
	DocumentNumber       string `json:"document_number"`
	SecondDocumentNumber string `json:"second_document_number"`
	Code                 string `json:"code"`
}

func (h *kycHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	var req kycVerifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.RequestID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "request_id is required"))
		return
	}
	if req.DocumentNumber == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "document_number is required"))
		return
	}
	if req.Code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "code is required"))
		return
	}

	result, err := h.svc.Verify(r.Context(), caller.UserID, kyc.VerifyInput{
		RequestID:    req.RequestID,
		Number:       strings.ToUpper(strings.TrimSpace(req.DocumentNumber)),
		SecondNumber: strings.ToUpper(strings.TrimSpace(req.SecondDocumentNumber)),
		Code:         strings.TrimSpace(req.Code),
	})
	if err != nil {
		h.fail(r, w, err, "kyc verify")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *kycHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestcontext.CallerIdentity(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	status, err := h.svc.Status(r.Context(), caller.UserID)
	if err != nil {
		h.fail(r, w, err, "kyc status")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *kycHandler) fail(r *http.Request, w http.ResponseWriter, err error, op string) {
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
