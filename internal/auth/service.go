// Package auth issues and validates bearer tokens for the read-only API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "trafficlite"

// DefaultTokenExpiry is used when no expiry is configured
const DefaultTokenExpiry = 24 * time.Hour

// Service signs and verifies HS256 tokens
type Service struct {
	secret      []byte
	tokenExpiry time.Duration
	now         func() time.Time
}

// Claims represents JWT token claims
type Claims struct {
	jwt.RegisteredClaims
}

// Token is an issued bearer token
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewService creates a new authentication service
func NewService(secret string, tokenExpiry time.Duration) (*Service, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth secret must be at least 32 characters")
	}
	if tokenExpiry <= 0 {
		tokenExpiry = DefaultTokenExpiry
	}
	return &Service{
		secret:      []byte(secret),
		tokenExpiry: tokenExpiry,
		now:         time.Now,
	}, nil
}

// IssueToken returns a signed token for subject
func (s *Service) IssueToken(subject string) (*Token, error) {
	if subject == "" {
		return nil, errors.New("token subject cannot be empty")
	}

	now := s.now()
	expiresAt := now.Add(s.tokenExpiry)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
