package admin

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "kycflow/pkg/domain-errors"
)

const (
	tokenIssuer   = "kycflow"
	tokenAudience = "kycflow-admin"
	roleAdmin     = "admin"
)

// Claims carries the operator role on top of the registered set.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService mints and validates the operator bearer tokens. Tokens
// are HS256-signed and short-lived; there is no refresh flow, the
// operator exchanges the shared secret again when a token expires.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenService constructs a token service with the given signing
// key and token lifetime.
func NewTokenService(signingKey string, ttl time.Duration) *TokenService {
	return &TokenService{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue mints a fresh admin token.
func (s *TokenService) Issue(now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign admin token")
	}
	return signed, nil
}

// TTL reports the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// ValidateToken satisfies middleware.AdminTokenValidator.
func (s *TokenService) ValidateToken(tokenString string) error {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(tokenAudience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Role != roleAdmin {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return nil
}
