package biometric

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
	dErrors "civis/pkg/domain-errors"
	"civis/pkg/platform/sentinel"
	"civis/pkg/requestcontext"
)

// Matcher is the external face service. Enroll condenses samples into a
// reusable template; Match scores a live sample against a template.
type Matcher interface {
	Enroll(ctx context.Context, samples []string) (template string, quality float64, err error)
	Match(ctx context.Context, template, sample string) (score float64, err error)
}

// SessionIssuer finishes the login after a successful step-up.
type SessionIssuer interface {
	IssueSession(ctx context.Context, rec *identity.Identity, device, ip string) (*login.TokenPair, error)
}

type Service struct {
	store    identity.Store
	matcher  Matcher
	crypt    *envelope.Service
	sessions SessionIssuer
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

func WithAuditPublisher(p login.AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(store identity.Store, matcher Matcher, crypt *envelope.Service, sessions SessionIssuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if matcher == nil {
		return nil, errors.New("matcher is required")
	}
	if crypt == nil {
		return nil, errors.New("envelope service is required")
	}
	if sessions == nil {
		return nil, errors.New("session issuer is required")
	}

	svc := &Service{
		store:    store,
		matcher:  matcher,
		crypt:    crypt,
		sessions: sessions,
		logger:   slog.Default(),
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Enroll creates or replaces the caller's face template. Requires an
// authenticated session, not a step-up token.
func (s *Service) Enroll(ctx context.Context, userID uuid.UUID, in EnrollInput) (*Status, error) {
	if len(in.Samples) != s.config.RequiredSamples {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "enrollment requires exactly "+
			strconv.Itoa(s.config.RequiredSamples)+" samples")
	}
	for _, sample := range in.Samples {
		if sample == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "empty sample in enrollment payload")
		}
	}

	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	template, quality, err := s.matcher.Enroll(ctx, in.Samples)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "face service unavailable")
	}
	if quality < s.config.MinQuality {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "capture quality too low, retake the samples").
			WithMeta("quality", quality)
	}

	sealed, err := s.crypt.Encrypt(template)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect template")
	}

	now := requestcontext.Now(ctx)
	profile := identity.BiometricProfile{
		Enabled:          true,
		TemplateEnvelope: sealed,
		SampleCount:      len(in.Samples),
		Quality:          quality,
		UpdatedAt:        &now,
	}
	if err := s.store.SetBiometric(ctx, rec.ID, profile); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store biometric profile")
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Action:  audit.ActionBiometricEnroll,
		Outcome: audit.OutcomeSuccess,
		Meta:    map[string]string{"quality": strconv.FormatFloat(quality, 'f', 2, 64)},
	})

	return statusOf(profile, s.config, now), nil
}

// Verify runs the step-up: decrypt the stored template, score the live
// sample, and either finish the login or count a failure. The lockout check
// runs before any external call, so a locked profile never reaches the face
// service.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, sample, device, ip string) (*login.TokenPair, error) {
	if sample == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "a face sample is required")
	}

	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.Biometric.Enabled {
		return nil, dErrors.New(dErrors.CodeInvalidState, "no biometric profile is enrolled")
	}

	now := requestcontext.Now(ctx)
	if rec.Biometric.IsLockedAt(now) {
		return nil, s.lockedError(rec.Biometric.RemainingAt(now))
	}

	template, err := s.crypt.Decrypt(rec.Biometric.TemplateEnvelope)
	if err != nil {
		if errors.Is(err, sentinel.ErrTampered) {
			s.emit(ctx, audit.Event{
				UserID:  rec.ID.String(),
				Action:  audit.ActionTamperDetected,
				Outcome: audit.OutcomeError,
				Reason:  "biometric template envelope",
			})
			return nil, dErrors.New(dErrors.CodeTamperDetected, "stored template failed integrity check")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open template")
	}

	score, err := s.matcher.Match(ctx, template, sample)
	if err != nil {
		// An unreachable matcher is not a mismatch; no failure is counted.
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "face service unavailable")
	}

	if score < s.config.MatchThreshold {
		profile, recErr := s.store.RecordBiometricFailure(ctx, rec.ID, s.config.MaxFailures, s.config.LockDuration, now)
		if recErr != nil {
			return nil, dErrors.Wrap(recErr, dErrors.CodeInternal, "failed to record failure")
		}
		s.emit(ctx, audit.Event{
			UserID:  rec.ID.String(),
			Action:  audit.ActionBiometricVerify,
			Outcome: audit.OutcomeDenied,
			Meta:    map[string]string{"failures": strconv.Itoa(profile.FailureCount)},
		})
		if profile.IsLockedAt(now) {
			s.emit(ctx, audit.Event{
				UserID:  rec.ID.String(),
				Action:  audit.ActionBiometricLocked,
				Outcome: audit.OutcomeDenied,
			})
			return nil, s.lockedError(profile.RemainingAt(now))
		}
		return nil, dErrors.New(dErrors.CodeFaceMismatch, "face verification failed").
			WithMeta("attempts_left", s.config.MaxFailures-profile.FailureCount)
	}

	if err := s.store.ResetBiometricFailures(ctx, rec.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to reset biometric failures", "user_id", rec.ID, "error", err)
	}

	pair, err := s.sessions.IssueSession(ctx, rec, device, ip)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Action:  audit.ActionBiometricVerify,
		Outcome: audit.OutcomeSuccess,
	})
	return pair, nil
}

// Disable removes the profile and template. Subsequent logins finish at the
// OTP step.
func (s *Service) Disable(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.load(ctx, userID); err != nil {
		return err
	}
	if err := s.store.DisableBiometric(ctx, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to disable biometric profile")
	}
	return nil
}

// Status reports the profile state without exposing the template.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return statusOf(rec.Biometric, s.config, requestcontext.Now(ctx)), nil
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

func (s *Service) lockedError(remaining time.Duration) error {
	retryAfter := int(remaining.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return dErrors.New(dErrors.CodeFaceAuthLocked, "face verification temporarily locked").
		WithMeta("retry_after", retryAfter)
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor != nil {
		s.auditor.Emit(ctx, e)
	}
}

func statusOf(p identity.BiometricProfile, cfg Config, now time.Time) *Status {
	left := cfg.MaxFailures - p.FailureCount
	if left < 0 {
		left = 0
	}
	return &Status{
		Enabled:      p.Enabled,
		SampleCount:  p.SampleCount,
		Quality:      p.Quality,
		Locked:       p.IsLockedAt(now),
		LockedUntil:  p.LockedUntil,
		FailuresLeft: left,
		UpdatedAt:    p.UpdatedAt,
	}
}
