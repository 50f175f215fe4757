package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnonymousPrincipal names callers when authentication is disabled.
const AnonymousPrincipal = "anonymous"

// DefaultTokenTTL is the lifetime of issued tokens
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrAuthDisabled      = errors.New("authentication is disabled")
	ErrMissingPrincipal  = errors.New("token has no principal")
	ErrInvalidTokenClaim = errors.New("invalid token claims")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	Principal string `json:"principal"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 tokens. A zero secret disables it.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for secret. ttl <= 0 uses
// DefaultTokenTTL.
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateToken generates a JWT token naming principal
func (a *Authenticator) GenerateToken(principal string) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	if principal == "" {
		return "", ErrMissingPrincipal
	}

	now := a.now()
	claims := &JWTClaims{
		Principal: principal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*JWTClaims, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTokenClaim
	}
	if claims.Principal == "" {
		return nil, ErrMissingPrincipal
	}
	return claims, nil
}
