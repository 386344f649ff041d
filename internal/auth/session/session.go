// Package session mints and validates signed session tokens for operators and
// employees. Tokens are self-contained; sign-out is recorded in a revocation
// list keyed by the token id.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"hrportal/pkg/domain"
	dErrors "hrportal/pkg/domain-errors"
	authmw "hrportal/pkg/platform/middleware/auth"
)

// revocationCheckTimeout bounds the revocation lookup made per request.
const revocationCheckTimeout = 500 * time.Millisecond

// Claims are the signed session claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RevocationList reports signed-out token ids.
type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Token is a freshly minted session.
type Token struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

type Service struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	revoked    RevocationList
	now        func() time.Time
}

type Option func(*Service)

func WithRevocationList(l RevocationList) Option {
	return func(s *Service) {
		s.revoked = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(signingKey, issuer string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the lifetime of minted tokens.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for subject with the given role.
func (s *Service) Issue(subject string, role domain.Role) (*Token, error) {
	if subject == "" || !role.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject and a valid role are required")
	}
	now := s.now()
	jti := uuid.NewString()
	expiresAt := now.Add(s.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}).SignedString(s.signingKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session")
	}
	return &Token{Value: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Parse verifies signature, issuer and expiry. It does not consult the
// revocation list.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// ValidateToken implements the bearer middleware's validator. A revocation
// store outage rejects the token.
func (s *Service) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := s.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if s.revoked != nil {
		ctx, cancel := context.WithTimeout(context.Background(), revocationCheckTimeout)
		defer cancel()
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "session status unavailable")
		}
		if revoked {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "session has been revoked")
		}
	}
	return &authmw.Claims{Subject: claims.Subject, Role: claims.Role}, nil
}
