// Package auth signs and verifies the HMAC bearer tokens exchanged between
// the chat client and the thread API.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scope"`
}

// Sign issues an HS256 token for the given subject and tenant.
func Sign(secret, subject, tenantID string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Scopes:   scopes,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Parse verifies an HMAC-signed token and returns its claims.
func Parse(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenSource supplies bearer tokens for outgoing requests.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed bearer token. An empty StaticToken sends no
// Authorization header.
type StaticToken string

// Token returns the token unchanged.
func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// HMACTokenSource mints tokens locally and reuses each one until shortly
// before it expires.
type HMACTokenSource struct {
	secret   string
	subject  string
	tenantID string
	ttl      time.Duration

	mu      sync.Mutex
	current string
	expires time.Time
}

// NewHMACTokenSource creates a token source signing with secret.
func NewHMACTokenSource(secret, subject, tenantID string, ttl time.Duration) *HMACTokenSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &HMACTokenSource{
		secret:   secret,
		subject:  subject,
		tenantID: tenantID,
		ttl:      ttl,
	}
}

// Token returns a cached token or signs a new one.
func (s *HMACTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" && time.Until(s.expires) > s.ttl/10 {
		return s.current, nil
	}

	token, err := Sign(s.secret, s.subject, s.tenantID, nil, s.ttl)
	if err != nil {
		return "", err
	}
	s.current = token
	s.expires = time.Now().Add(s.ttl)
	return token, nil
}
