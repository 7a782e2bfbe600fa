package kyc

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"civis/internal/audit"
	"civis/internal/crypto/envelope"
	"civis/internal/identity"
	"civis/internal/login"
	"civis/internal/ratelimit"
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/platform/privacy"
	"civis/pkg/platform/sentinel"
	"civis/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// Registry is the external document registry behind the two-step flow.
// Initiate triggers a one-time code to the document holder's registered
// channel; Confirm presents that code together with the claimed documents.
type Registry interface {
	Initiate(ctx context.Context, docType DocType, number string) (requestID, maskedChannel string, err error)
	Confirm(ctx context.Context, req ConfirmRequest) (registeredName string, ok bool, err error)
}

// PendingStore holds initiated requests until confirmed or expired.
type PendingStore interface {
	Put(ctx context.Context, userID uuid.UUID, p Pending, ttl time.Duration) error
	Get(ctx context.Context, userID uuid.UUID) (*Pending, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

type Service struct {
	store    identity.Store
	registry Registry
	pending  PendingStore
	crypt    *envelope.Service
	limiter  login.Limiter
	auditor  login.AuditPublisher
	logger   *slog.Logger
	config   Config
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.config = cfg }
}

func WithLimiter(l login.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithAuditPublisher(p login.AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(store identity.Store, registry Registry, pending PendingStore, crypt *envelope.Service, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if registry == nil {
		return nil, errors.New("registry client is required")
	}
	if pending == nil {
		return nil, errors.New("pending store is required")
	}
	if crypt == nil {
		return nil, errors.New("envelope service is required")
	}

	svc := &Service{
		store:    store,
		registry: registry,
		pending:  pending,
		crypt:    crypt,
		logger:   slog.Default(),
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Initiate validates the document format locally, opens a registry request
// and parks it under a TTL. Only the request ID goes back to the client.
func (s *Service) Initiate(ctx context.Context, userID uuid.UUID, docType DocType, number string) (*InitiateResult, error) {
	if err := ValidateNumber(docType, number); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		dec, err := s.limiter.Allow(ctx, "kyc_initiate", userID.String(), ratelimit.Rule{
			Limit:  s.config.InitiatePerUser,
			Window: s.config.RateWindow,
		})
		if err != nil {
			return nil, err
		}
		if !dec.Allowed {
			return nil, dErrors.New(dErrors.CodeRateLimited, "too many verification attempts").
				WithMeta("retry_after", dec.RetryAfter)
		}
	}

	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if alreadyVerified(rec, docType) {
		return nil, dErrors.New(dErrors.CodeConflict, "this document is already verified")
	}

	requestID, maskedChannel, err := s.registry.Initiate(ctx, docType, number)
	if err != nil {
		return nil, s.registryError(err)
	}

	now := requestcontext.Now(ctx)
	p := Pending{
		RequestID: requestID,
		DocType:   docType,
		Number:    number,
		CreatedAt: now,
	}
	if err := s.pending.Put(ctx, userID, p, s.config.PendingTTL); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to park verification request")
	}

	s.emit(ctx, audit.Event{
		UserID:  userID.String(),
		Subject: privacy.MaskDocumentNumber(number),
		Action:  audit.ActionKYCInitiated,
		Outcome: audit.OutcomeSuccess,
		Meta:    map[string]string{"doc_type": string(docType)},
	})

	return &InitiateResult{
		RequestID:     requestID,
		DocType:       docType,
		MaskedChannel: maskedChannel,
		ExpiresAt:     now.Add(s.config.PendingTTL),
	}, nil
}

// Verify confirms the pending registry request with the one-time code,
// compares the registered holder name against the account name, and on
// success stores the encrypted documents and raises the KYC level. A second
// document number verifies alongside the initiated one, escalating straight
// to full assurance.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, in VerifyInput) (*VerifyResult, error) {
	if in.Code == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "verification code is required")
	}

	p, err := s.pending.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeKYCRequestMismatch, "no verification request is pending")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pending request")
	}
	if p.RequestID != in.RequestID {
		return nil, dErrors.New(dErrors.CodeKYCRequestMismatch, "request ID does not match the pending verification")
	}
	if in.Number != p.Number {
		return nil, dErrors.New(dErrors.CodeKYCRequestMismatch, "document number does not match the initiated request")
	}

	secondType := DocType("")
	if in.SecondNumber != "" {
		secondType = OtherDoc(p.DocType)
		if err := ValidateNumber(secondType, in.SecondNumber); err != nil {
			return nil, err
		}
	}

	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	registeredName, ok, err := s.registry.Confirm(ctx, ConfirmRequest{
		RequestID:    in.RequestID,
		Number:       p.Number,
		SecondNumber: in.SecondNumber,
		Code:         in.Code,
	})
	if err != nil {
		return nil, s.registryError(err)
	}
	if !ok {
		// The registry said no; the request is spent either way.
		_ = s.pending.Delete(ctx, userID)
		s.emit(ctx, audit.Event{
			UserID:  userID.String(),
			Action:  audit.ActionKYCRejected,
			Outcome: audit.OutcomeDenied,
			Reason:  "registry rejected verification",
			Meta:    map[string]string{"doc_type": string(p.DocType)},
		})
		return nil, dErrors.New(dErrors.CodeKYCVerifyFailed, "the registry could not verify these documents")
	}

	similarity := NameSimilarity(rec.Name, registeredName)
	if similarity < s.config.NameThreshold {
		_ = s.pending.Delete(ctx, userID)
		s.emit(ctx, audit.Event{
			UserID:  userID.String(),
			Action:  audit.ActionKYCRejected,
			Outcome: audit.OutcomeDenied,
			Reason:  "registered name mismatch",
			Meta: map[string]string{
				"doc_type":   string(p.DocType),
				"similarity": strconv.Itoa(similarity),
			},
		})
		return nil, dErrors.New(dErrors.CodeNameMismatch, "the account name does not match the registered holder").
			WithMeta("similarity", similarity)
	}

	upd := identity.VerificationUpdate{}
	if err := sealInto(&upd, s.crypt, p.DocType, p.Number); err != nil {
		return nil, err
	}
	if secondType != "" {
		if err := sealInto(&upd, s.crypt, secondType, in.SecondNumber); err != nil {
			return nil, err
		}
	}
	upd.KYCLevel = levelFor(
		rec.DocumentVerified || upd.DocumentVerified,
		rec.TaxIDVerified || upd.TaxIDVerified,
	)
	if err := s.store.ApplyVerification(ctx, userID, upd); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification")
	}
	if err := s.pending.Delete(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear pending request", "user_id", userID, "error", err)
	}

	meta := map[string]string{
		"doc_type":  string(p.DocType),
		"kyc_level": strconv.Itoa(upd.KYCLevel),
	}
	if secondType != "" {
		meta["second_doc_type"] = string(secondType)
	}
	s.emit(ctx, audit.Event{
		UserID:  userID.String(),
		Subject: privacy.MaskDocumentNumber(p.Number),
		Action:  audit.ActionKYCVerified,
		Outcome: audit.OutcomeSuccess,
		Meta:    meta,
	})

	return &VerifyResult{
		KYCLevel:         upd.KYCLevel,
		DocumentVerified: rec.DocumentVerified || upd.DocumentVerified,
		TaxIDVerified:    rec.TaxIDVerified || upd.TaxIDVerified,
		NameMatch:        NameMatch{Similarity: similarity, Matched: true},
	}, nil
}

// Status reports verification progress, including any still-pending request.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*StatusResult, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &StatusResult{
		KYCLevel:         rec.KYCLevel,
		DocumentVerified: rec.DocumentVerified,
		TaxIDVerified:    rec.TaxIDVerified,
	}
	if p, err := s.pending.Get(ctx, userID); err == nil {
		out.PendingDocType = p.DocType
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) (*identity.Identity, error) {
	rec, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return rec, nil
}

func (s *Service) registryError(err error) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "registry unavailable, try again later")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "registry call failed")
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor != nil {
		s.auditor.Emit(ctx, e)
	}
}

func alreadyVerified(rec *identity.Identity, docType DocType) bool {
	switch docType {
	case DocNationalID:
		return rec.DocumentVerified
	case DocTaxID:
		return rec.TaxIDVerified
	}
	return false
}

// sealInto encrypts a verified document number into the update's envelope
// slot for its type.
func sealInto(upd *identity.VerificationUpdate, crypt *envelope.Service, docType DocType, number string) error {
	sealed, err := crypt.Encrypt(number)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect document number")
	}
	switch docType {
	case DocNationalID:
		upd.DocumentVerified = true
		upd.NationalIDEnvelope = sealed
	case DocTaxID:
		upd.TaxIDVerified = true
		upd.TaxIDEnvelope = sealed
	}
	return nil
}

// levelFor maps verified flags to the assurance level: one registry document
// gives partial assurance, both give full.
func levelFor(doc, tax bool) int {
	switch {
	case doc && tax:
		return identity.KYCLevelVerified
	case doc || tax:
		return identity.KYCLevelPartial
	default:
		return identity.KYCLevelEmail
	}
}
