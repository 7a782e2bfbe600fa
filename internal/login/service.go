package login

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"civis/internal/audit"
	"civis/internal/crypto/password"
	"civis/internal/identity"
	"civis/internal/ratelimit"
	"civis/internal/token"
	dErrors "civis/pkg/domain-errors"
	emailutil "civis/pkg/email"
	"civis/pkg/platform/privacy"
	"civis/pkg/platform/sentinel"
	"civis/pkg/requestcontext"
)

// Notifier delivers one-time codes out of band. Implementations must be safe
// for concurrent use.
type Notifier interface {
	SendLoginCode(ctx context.Context, email, name, code string) error
}

// Limiter is the slice of the rate limit service the flow needs.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string, rule ratelimit.Rule) (ratelimit.Decision, error)
	Reset(ctx context.Context, scope, subject string) error
}

// AuditPublisher records security events without blocking the request path.
type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Event)
}

type Service struct {
	store    identity.Store
	tokens   *token.Service
	hasher   *password.Hasher
	notifier Notifier
	limiter  Limiter
	auditor  AuditPublisher
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

func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(store identity.Store, tokens *token.Service, hasher *password.Hasher, notifier Notifier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}

	svc := &Service{
		store:    store,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		logger:   slog.Default(),
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a new identity at the lowest assurance level.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid email address")
	}
	if problems := password.ValidateStrength(in.Password); len(problems) > 0 {
		return nil, dErrors.New(dErrors.CodeWeakPassword, "password does not meet requirements").
			WithMeta("problems", problems)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		first, last := emailutil.DeriveNameFromEmail(email)
		name = first + " " + last
	}
	rec, err := identity.New(email, name, hash)
	if err != nil {
		return nil, err
	}
	rec.Phone = strings.TrimSpace(in.Phone)

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeEmailExists, "an account with this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create identity")
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Subject: privacy.MaskEmail(email),
		Action:  audit.ActionRegister,
		Outcome: audit.OutcomeSuccess,
	})
	s.logger.InfoContext(ctx, "identity registered", "user_id", rec.ID, "email", privacy.MaskEmail(email))

	return profileOf(rec), nil
}

// Submit is the first factor: email plus password. On success a one-time
// code is issued and delivered; the caller never learns whether the email
// exists.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*ChallengeInfo, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	now := requestcontext.Now(ctx)

	if err := s.allow(ctx, "login_email", email, s.config.LoginPerEmail); err != nil {
		return nil, err
	}
	if in.IP != "" {
		if err := s.allow(ctx, "login_ip", in.IP, s.config.LoginPerIP); err != nil {
			return nil, err
		}
	}

	rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Burn a hash comparison so unknown emails cost the same as
			// wrong passwords.
			_, _ = s.hasher.Verify(in.Password, dummyHash)
			return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	if rec.Lockout.IsLockedAt(now) {
		return nil, s.lockedError(rec.Lockout.RemainingAt(now))
	}

	ok, err := s.hasher.Verify(in.Password, rec.PasswordHash)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}
	if !ok {
		return nil, s.recordFailure(ctx, rec, email, in.IP, now)
	}

	if s.hasher.NeedsRehash(rec.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(in.Password); hashErr == nil {
			if upErr := s.store.UpdatePasswordHash(ctx, rec.ID, newHash); upErr != nil {
				s.logger.WarnContext(ctx, "password rehash failed", "user_id", rec.ID, "error", upErr)
			}
		}
	}

	code, err := generateCode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	ch, err := s.store.SetChallenge(ctx, rec.ID, identity.OTPChallenge{
		CodeHash:  hashCode(code),
		ExpiresAt: now.Add(s.config.OTPTTL),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}

	if err := s.deliver(ctx, rec, code); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Subject: privacy.MaskEmail(email),
		Action:  audit.ActionLoginSubmit,
		Outcome: audit.OutcomeSuccess,
		IP:      privacy.AnonymizeIP(in.IP),
	})

	return &ChallengeInfo{
		Step:         StepOTP,
		MaskedEmail:  privacy.MaskEmail(email),
		ExpiresAt:    ch.ExpiresAt,
		ResendsLeft:  s.config.MaxResends,
		NextResendAt: now.Add(s.config.ResendCooldown),
		AttemptsLeft: s.config.MaxOTPAttempts,
	}, nil
}

// VerifyCode is the second factor. A correct code either finishes the login
// or, when a biometric profile is enrolled, hands back a short-lived step-up
// token.
func (s *Service) VerifyCode(ctx context.Context, in VerifyInput) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	now := requestcontext.Now(ctx)

	rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNoOTPPending, "no verification is pending for this account")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	if rec.Lockout.IsLockedAt(now) {
		return nil, s.lockedError(rec.Lockout.RemainingAt(now))
	}
	if rec.Challenge == nil {
		return nil, dErrors.New(dErrors.CodeNoOTPPending, "no verification is pending for this account")
	}
	ch := *rec.Challenge
	if ch.IsExpiredAt(now) {
		// Best effort: the slot may already have been replaced.
		_ = s.store.ClearChallenge(ctx, rec.ID, ch.Version)
		return nil, dErrors.New(dErrors.CodeOTPExpired, "the code has expired, log in again")
	}

	if !codeMatches(in.Code, ch.CodeHash) {
		attempts, incErr := s.store.IncChallengeAttempts(ctx, rec.ID, ch.Version)
		if incErr != nil {
			if errors.Is(incErr, sentinel.ErrConflict) {
				return nil, dErrors.New(dErrors.CodeConflict, "the code changed, use the most recent one")
			}
			return nil, dErrors.Wrap(incErr, dErrors.CodeInternal, "failed to record attempt")
		}

		s.emit(ctx, audit.Event{
			UserID:  rec.ID.String(),
			Subject: privacy.MaskEmail(email),
			Action:  audit.ActionOTPFailed,
			Outcome: audit.OutcomeDenied,
			Meta:    map[string]string{"attempts": strconv.Itoa(attempts)},
		})

		if attempts >= s.config.MaxOTPAttempts {
			until := now.Add(s.config.LockDuration)
			if lockErr := s.store.LockAccount(ctx, rec.ID, until); lockErr != nil {
				return nil, dErrors.Wrap(lockErr, dErrors.CodeInternal, "failed to lock account")
			}
			// Best effort: the slot may already have been replaced.
			_ = s.store.ClearChallenge(ctx, rec.ID, ch.Version)
			s.emit(ctx, audit.Event{
				UserID:  rec.ID.String(),
				Subject: privacy.MaskEmail(email),
				Action:  audit.ActionAccountLocked,
				Outcome: audit.OutcomeDenied,
				Reason:  "otp attempts exhausted",
			})
			return nil, s.lockedError(s.config.LockDuration)
		}

		return nil, dErrors.New(dErrors.CodeInvalidOTP, "incorrect code").
			WithMeta("attempts_left", s.config.MaxOTPAttempts-attempts)
	}

	// Consume the slot; losing the race to a concurrent resend invalidates
	// this success because the code the user typed is no longer the live one.
	if err := s.store.ClearChallenge(ctx, rec.ID, ch.Version); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "the code changed, use the most recent one")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume challenge")
	}

	if !rec.EmailVerified {
		if err := s.store.MarkEmailVerified(ctx, rec.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to mark email verified", "user_id", rec.ID, "error", err)
		}
	}
	if err := s.store.ResetLockout(ctx, rec.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to reset lockout", "user_id", rec.ID, "error", err)
	}
	if s.limiter != nil {
		_ = s.limiter.Reset(ctx, "login_email", email)
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Subject: privacy.MaskEmail(email),
		Action:  audit.ActionOTPVerified,
		Outcome: audit.OutcomeSuccess,
		IP:      privacy.AnonymizeIP(in.IP),
	})

	if rec.Biometric.Enabled {
		stepUp, err := s.tokens.IssueStepUp(rec.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue step-up token")
		}
		return &Result{Step: StepBiometric, StepUpToken: stepUp}, nil
	}

	pair, err := s.IssueSession(ctx, rec, in.Device, in.IP)
	if err != nil {
		return nil, err
	}
	return &Result{Step: StepDone, Tokens: pair}, nil
}

// ResendCode reissues the pending code under cooldown and budget rules. The
// resend budget survives reissues so it cannot be reset by asking again.
func (s *Service) ResendCode(ctx context.Context, email string) (*ChallengeInfo, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := requestcontext.Now(ctx)

	if err := s.allow(ctx, "resend", email, s.config.ResendPerEmail); err != nil {
		return nil, err
	}

	rec, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNoOTPPending, "no verification is pending for this account")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	if rec.Lockout.IsLockedAt(now) {
		return nil, s.lockedError(rec.Lockout.RemainingAt(now))
	}
	if rec.Challenge == nil {
		return nil, dErrors.New(dErrors.CodeNoOTPPending, "no verification is pending for this account")
	}
	ch := *rec.Challenge
	if ch.IsExpiredAt(now) {
		// Best effort: the slot may already have been replaced.
		_ = s.store.ClearChallenge(ctx, rec.ID, ch.Version)
		return nil, dErrors.New(dErrors.CodeOTPExpired, "the code has expired, log in again")
	}

	if ch.ResendCount >= s.config.MaxResends {
		return nil, dErrors.New(dErrors.CodeResendLimit, "resend limit reached, log in again")
	}
	lastIssued := ch.ExpiresAt.Add(-s.config.OTPTTL)
	if ch.LastResendAt != nil {
		lastIssued = *ch.LastResendAt
	}
	if wait := s.config.ResendCooldown - now.Sub(lastIssued); wait > 0 {
		return nil, dErrors.New(dErrors.CodeResendCooldown, "wait before requesting another code").
			WithMeta("retry_after", int(wait.Seconds())+1)
	}

	code, err := generateCode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	next := identity.OTPChallenge{
		CodeHash:     hashCode(code),
		ExpiresAt:    now.Add(s.config.OTPTTL),
		ResendCount:  ch.ResendCount + 1,
		LastResendAt: &now,
	}
	updated, err := s.store.UpdateChallenge(ctx, rec.ID, ch.Version, next)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "the code changed, use the most recent one")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}

	if err := s.deliver(ctx, rec, code); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Subject: privacy.MaskEmail(email),
		Action:  audit.ActionOTPResent,
		Outcome: audit.OutcomeSuccess,
		Meta:    map[string]string{"resend_count": strconv.Itoa(updated.ResendCount)},
	})

	return &ChallengeInfo{
		Step:         StepOTP,
		MaskedEmail:  privacy.MaskEmail(email),
		ExpiresAt:    updated.ExpiresAt,
		ResendsLeft:  s.config.MaxResends - updated.ResendCount,
		NextResendAt: now.Add(s.config.ResendCooldown),
		AttemptsLeft: s.config.MaxOTPAttempts - updated.Attempts,
	}, nil
}

// IssueSession mints the access/refresh pair and records the session entry.
// It is shared by the OTP finish and the biometric step-up finish.
func (s *Service) IssueSession(ctx context.Context, rec *identity.Identity, device, ip string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(rec.ID, rec.Email, string(rec.Role), rec.KYCLevel, rec.Permissions)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}
	refresh, sessionID, expiresAt, err := s.tokens.IssueRefresh(rec.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue refresh token")
	}

	now := requestcontext.Now(ctx)
	entry := identity.SessionEntry{
		SessionID: sessionID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		Device:    device,
		IP:        privacy.AnonymizeIP(ip),
	}
	if err := s.store.AddSession(ctx, rec.ID, entry, s.config.MaxSessions); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record session")
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(s.tokens.AccessTTL()),
	}, nil
}

// Refresh trades a refresh token for a new access token. The refresh token
// itself is not rotated; its session entry stays in place until logout,
// revocation or expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AccessGrant, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "malformed token subject")
	}

	rec, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidToken, "unknown session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	now := requestcontext.Now(ctx)
	sess := rec.FindSession(claims.SessionID)
	if sess == nil || !sess.IsUsableAt(now) {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "session is no longer valid")
	}

	access, err := s.tokens.IssueAccess(rec.ID, rec.Email, string(rec.Role), rec.KYCLevel, rec.Permissions)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}

	s.emit(ctx, audit.Event{
		UserID:  rec.ID.String(),
		Action:  audit.ActionTokenRefreshed,
		Outcome: audit.OutcomeSuccess,
	})
	return &AccessGrant{
		AccessToken: access,
		ExpiresAt:   now.Add(s.tokens.AccessTTL()),
	}, nil
}

// Logout revokes the session behind a refresh token. Unknown or already
// revoked sessions succeed silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidToken, "malformed token subject")
	}
	if err := s.store.RevokeSession(ctx, userID, claims.SessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}
	s.emit(ctx, audit.Event{
		UserID:  userID.String(),
		Action:  audit.ActionLogout,
		Outcome: audit.OutcomeSuccess,
	})
	return nil
}

// Me returns the profile of the authenticated caller.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	rec, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return profileOf(rec), nil
}

func (s *Service) deliver(ctx context.Context, rec *identity.Identity, code string) error {
	notifyCtx, cancel := context.WithTimeout(ctx, s.config.NotifyTimeout)
	defer cancel()
	if err := s.notifier.SendLoginCode(notifyCtx, rec.Email, rec.Name, code); err != nil {
		s.logger.ErrorContext(ctx, "code delivery failed",
			"user_id", rec.ID, "email", privacy.MaskEmail(rec.Email), "error", err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "could not deliver the verification code")
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, rec *identity.Identity, email, ip string, now time.Time) error {
	lock, err := s.store.RecordLoginFailure(ctx, rec.ID, s.config.MaxLoginFailures, s.config.LockDuration, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login failure")
	}

	if lock.IsLockedAt(now) {
		s.emit(ctx, audit.Event{
			UserID:  rec.ID.String(),
			Subject: privacy.MaskEmail(email),
			Action:  audit.ActionAccountLocked,
			Outcome: audit.OutcomeDenied,
			Reason:  "password failures",
			IP:      privacy.AnonymizeIP(ip),
		})
		return s.lockedError(lock.RemainingAt(now))
	}

	return dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password").
		WithMeta("attempts_left", s.config.MaxLoginFailures-lock.FailureCount)
}

func (s *Service) lockedError(remaining time.Duration) error {
	retryAfter := int(remaining.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return dErrors.New(dErrors.CodeAccountLocked, "account temporarily locked").
		WithMeta("retry_after", retryAfter)
}

func (s *Service) allow(ctx context.Context, scope, subject string, limit int) error {
	if s.limiter == nil {
		return nil
	}
	dec, err := s.limiter.Allow(ctx, scope, subject, ratelimit.Rule{
		Limit:  limit,
		Window: s.config.RateWindow,
	})
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return dErrors.New(dErrors.CodeRateLimited, "too many requests").
			WithMeta("retry_after", dec.RetryAfter)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor != nil {
		s.auditor.Emit(ctx, e)
	}
}

func profileOf(rec *identity.Identity) *Profile {
	return &Profile{
		ID:            rec.ID,
		Email:         rec.Email,
		Name:          rec.Name,
		Role:          string(rec.Role),
		KYCLevel:      rec.KYCLevel,
		EmailVerified: rec.EmailVerified,
		Permissions:   rec.Permissions,
		LastLoginAt:   rec.LastLoginAt,
		CreatedAt:     rec.CreatedAt,
	}
}

// dummyHash keeps the unknown-email path on the same bcrypt cost as a real
// comparison. Generated once from an unguessable input.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
