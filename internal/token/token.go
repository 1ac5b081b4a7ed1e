package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
)

type Role string

const (
	RoleController Role = "umpire"
	RoleObserver   Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleController || r == RoleObserver
}

// Claims is the validated view of a token.
type Claims struct {
	SessionID string
	Role      Role
	Identity  string
	ExpiresAt time.Time
	// Token is the signed string these claims were read from. Reservations
	// are held by token, so membership checks compare against it.
	Token string
}

type Config struct {
	Secret        []byte
	Issuer        string
	ObserverTTL   time.Duration
	ControllerTTL time.Duration
	Now           func() time.Time
}

// Authority issues and verifies HS256 capability tokens. It holds no
// mutable state and is safe for concurrent use.
type Authority struct {
	secret        []byte
	issuer        string
	observerTTL   time.Duration
	controllerTTL time.Duration
	now           func() time.Time
}

// jwtClaims is the wire shape of a token.
type jwtClaims struct {
	jwt.RegisteredClaims
	MatchID string `json:"match_id,omitempty"`
	Role    Role   `json:"role"`
}

func New(cfg Config) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ObserverTTL <= 0 {
		cfg.ObserverTTL = 24 * time.Hour
	}
	if cfg.ControllerTTL <= 0 {
		cfg.ControllerTTL = 24 * time.Hour
	}
	return &Authority{
		secret:        cfg.Secret,
		issuer:        cfg.Issuer,
		observerTTL:   cfg.ObserverTTL,
		controllerTTL: cfg.ControllerTTL,
		now:           cfg.Now,
	}, nil
}

// Issue signs a token scoped to one session.
func (a *Authority) Issue(sessionID string, role Role, identity string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("issue token: unknown role %q", role)
	}
	if strings.TrimSpace(identity) == "" {
		return "", apperr.MissingField("identity")
	}
	ttl := a.observerTTL
	if role == RoleController {
		ttl = a.controllerTTL
	}
	now := a.now().UTC()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		MatchID: sessionID,
		Role:    role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueController signs an account-level controller token that is not bound
// to any session.
func (a *Authority) IssueController(controllerID string) (string, error) {
	return a.Issue("", RoleController, controllerID)
}

// Verify checks signature, structure and expiry.
func (a *Authority) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, apperr.ErrMalformedToken
	}

	var parsed jwtClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, apperr.Wrap(apperr.CodeMalformedToken, "malformed token", err)
	}

	if a.issuer != "" && parsed.Issuer != a.issuer {
		return Claims{}, apperr.New(apperr.CodeMalformedToken, "token issuer mismatch")
	}
	if !parsed.Role.Valid() {
		return Claims{}, apperr.New(apperr.CodeMalformedToken, "token role is invalid")
	}
	if parsed.Subject == "" {
		return Claims{}, apperr.New(apperr.CodeMalformedToken, "token subject is required")
	}
	if parsed.Role == RoleObserver && parsed.MatchID == "" {
		return Claims{}, apperr.New(apperr.CodeMalformedToken, "viewer token must name a match")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperr.New(apperr.CodeMalformedToken, "token exp is required")
	}

	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(a.now().UTC()) {
		return Claims{}, apperr.ErrExpiredToken
	}

	return Claims{
		SessionID: parsed.MatchID,
		Role:      parsed.Role,
		Identity:  parsed.Subject,
		ExpiresAt: exp,
		Token:     raw,
	}, nil
}
