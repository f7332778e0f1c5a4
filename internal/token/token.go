// Package token issues and verifies the signed bearer tokens that carry a
// principal's identity between requests. Tokens are self-contained: holding a
// validly signed, unexpired token is proof of identity with no storage lookup.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// signingMethod is pinned at the service. The verifier never honours an
// algorithm announced by the token itself.
var signingMethod = jwt.SigningMethodHS256

// Claims is the validated identity carried by a token.
type Claims struct {
	SubjectID string
	Role      capability.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// signedClaims is the wire shape used for signing and parsing.
type signedClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Config defines how tokens are signed and verified.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// Service signs and verifies tokens with a single shared secret.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a Service. Secret and a positive TTL are required;
// Now defaults to time.Now.
func NewService(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    now,
	}, nil
}

// Issue signs a token for the subject with expiry now+TTL. The role is the
// role at issuance; a later role change does not reach into live tokens.
func (s *Service) Issue(subjectID string, role capability.Role) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("subject id is required")
	}
	if !role.Valid() {
		return "", errors.New("role is not a member of the role set")
	}

	now := s.now().UTC()
	claims := signedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
}

// Verify parses and validates a raw token: structure first, then signature,
// then claims. Every failure is a tagged authentication error; the code tells
// operators which stage rejected the token, but clients only ever see the
// gateway's collapsed 401.
func (s *Service) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, shared.Authentication(shared.CodeTokenMalformed, "token is empty")
	}

	var parsed signedClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if s.issuer != "" && parsed.Issuer != s.issuer {
		return Claims{}, shared.Authentication(shared.CodeTokenMalformed, "token issuer mismatch")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, shared.Authentication(shared.CodeTokenMalformed, "token subject is required")
	}
	if parsed.IssuedAt == nil || parsed.ExpiresAt == nil {
		return Claims{}, shared.Authentication(shared.CodeTokenMalformed, "token iat and exp are required")
	}

	issuedAt := parsed.IssuedAt.Time.UTC()
	expiresAt := parsed.ExpiresAt.Time.UTC()
	if !expiresAt.After(issuedAt) {
		return Claims{}, shared.Authentication(shared.CodeTokenMalformed, "token exp must be after iat")
	}
	if !expiresAt.After(s.now().UTC()) {
		return Claims{}, shared.Authentication(shared.CodeTokenExpired, "token is expired")
	}

	role, err := capability.ParseRole(parsed.Role)
	if err != nil {
		return Claims{}, shared.Authentication(shared.CodeTokenMalformed, "token role is unknown")
	}

	return Claims{
		SubjectID: parsed.Subject,
		Role:      role,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// mapJWTError translates jwt library failures into the closed taxonomy.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return shared.Authentication(shared.CodeTokenSignature, "token signature is invalid").WithCause(err)
	default:
		return shared.Authentication(shared.CodeTokenMalformed, "token cannot be parsed").WithCause(err)
	}
}

// ExtractFromHeader pulls the raw token out of an Authorization header value.
// The scheme is matched case-insensitively and the value must be exactly two
// fields. The second return reports presence only; whether the token verifies
// is a separate question.
func ExtractFromHeader(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return "", false
	}
	if !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}
