// Package token issues and verifies the signed tokens used across the
// authentication flows: short-lived access tokens, long-lived refresh tokens,
// and the narrowly-scoped biometric step-up token.
//
// One symmetric algorithm (HS256) is accepted, ever. Verification rejects any
// other header algorithm including "none", enforces issuer, audience, expiry
// and the explicit token type claim, and reports failures through coarse
// domain codes so clients cannot distinguish which check failed.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "civis/pkg/domain-errors"
)

// Type is the explicit tokenType claim value.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// StepUpPurpose is the purpose claim carried by biometric step-up tokens.
const StepUpPurpose = "biometric-verify"

const (
	audienceCitizen = "citizen-portal"
	audienceRefresh = "token-refresh"
	audienceStepUp  = "step-up"

	signingAlg = "HS256"
)

// AccessClaims carries the verified-identity context embedded in access tokens.
type AccessClaims struct {
	UserID      string              `json:"user_id"`
	Email       string              `json:"email"`
	Role        string              `json:"role"`
	KYCLevel    int                 `json:"kyc_level"`
	Permissions map[string][]string `json:"permissions"`
	TokenType   Type                `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshClaims binds a refresh token to one session entry via a random
// session identifier.
type RefreshClaims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TokenType Type   `json:"token_type"`
	jwt.RegisteredClaims
}

// StepUpClaims authorizes exactly one biometric verification call.
type StepUpClaims struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Config carries the signing material and lifetimes. Secrets must be at least
// 32 bytes; shorter material is a startup error.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	StepUpTTL     time.Duration
}

// Service signs and verifies tokens. Construct once at startup and share.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	stepUpTTL     time.Duration
	now           func() time.Time
}

const minSecretLen = 32

// NewService validates the signing configuration and builds the service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.AccessSecret) < minSecretLen {
		return nil, errors.New("token: access secret must be at least 32 bytes")
	}
	if len(cfg.RefreshSecret) < minSecretLen {
		return nil, errors.New("token: refresh secret must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token: issuer is required")
	}

	svc := &Service{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		stepUpTTL:     cfg.StepUpTTL,
		now:           time.Now,
	}
	if svc.accessTTL <= 0 {
		svc.accessTTL = 15 * time.Minute
	}
	if svc.refreshTTL <= 0 {
		svc.refreshTTL = 7 * 24 * time.Hour
	}
	if svc.stepUpTTL <= 0 || svc.stepUpTTL > 5*time.Minute {
		svc.stepUpTTL = 5 * time.Minute
	}
	return svc, nil
}

// WithClock overrides the time source; tests use this to exercise expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AccessTTL exposes the configured access token lifetime for response bodies.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL exposes the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// StepUpTTL exposes the configured step-up token lifetime.
func (s *Service) StepUpTTL() time.Duration { return s.stepUpTTL }

// IssueAccess signs an access token carrying the identity context.
func (s *Service) IssueAccess(userID uuid.UUID, email, role string, kycLevel int, permissions map[string][]string) (string, error) {
	now := s.now()
	claims := AccessClaims{
		UserID:      userID.String(),
		Email:       email,
		Role:        role,
		KYCLevel:    kycLevel,
		Permissions: permissions,
		TokenType:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  []string{audienceCitizen},
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefresh signs a refresh token bound to a fresh random session ID.
// Returns the token, the session ID for the session entry, and its expiry.
func (s *Service) IssueRefresh(userID uuid.UUID) (token, sessionID string, expiresAt time.Time, err error) {
	buf := make([]byte, 16)
	if _, err = rand.Read(buf); err != nil {
		return "", "", time.Time{}, fmt.Errorf("token: draw session id: %w", err)
	}
	sessionID = hex.EncodeToString(buf)

	now := s.now()
	expiresAt = now.Add(s.refreshTTL)
	claims := RefreshClaims{
		UserID:    userID.String(),
		SessionID: sessionID,
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  []string{audienceRefresh},
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("token: sign refresh token: %w", err)
	}
	return token, sessionID, expiresAt, nil
}

// IssueStepUp signs a short-lived token authorizing one biometric
// verification call for the given identity.
func (s *Service) IssueStepUp(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := StepUpClaims{
		UserID:  userID.String(),
		Purpose: StepUpPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  []string{audienceStepUp},
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.stepUpTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign step-up token: %w", err)
	}
	return signed, nil
}

// VerifyAccess checks an access token and returns its claims.
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret, audienceCitizen); err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, dErrors.New(dErrors.CodeInvalidTokenType, "invalid token type")
	}
	if claims.UserID == "" || claims.Email == "" {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	return claims, nil
}

// VerifyRefresh checks a refresh token and returns its claims. A token of any
// other type is rejected even when correctly signed.
func (s *Service) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret, audienceRefresh); err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, dErrors.New(dErrors.CodeInvalidTokenType, "invalid token type")
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	return claims, nil
}

// VerifyStepUp checks a step-up token, including its purpose binding.
func (s *Service) VerifyStepUp(tokenString string) (*StepUpClaims, error) {
	claims := &StepUpClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret, audienceStepUp); err != nil {
		return nil, err
	}
	if claims.Purpose != StepUpPurpose {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	if claims.UserID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	return claims, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims, secret []byte, audience string) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		// The keyfunc is the algorithm gate: "none", RSA, ECDSA and every other
		// header algorithm fails here before any signature comparison.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok || t.Method.Alg() != signingAlg {
			return nil, jwt.ErrTokenUnverifiable
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{signingAlg}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return dErrors.New(dErrors.CodeTokenExpired, "token has expired")
		}
		return dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	if !parsed.Valid {
		return dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	return nil
}
