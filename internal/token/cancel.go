// Package token issues the signed tokens the service hands out: guest
// cancellation tokens and, for local tooling, member access tokens that
// mirror what the identity provider issues.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// DefaultMaxAge is how long a cancellation token stays valid.
const DefaultMaxAge = 7 * 24 * time.Hour

// salt separates cancellation keys from any other key derived from the
// same application secret.
const salt = "cancel-token"

// KindReservation is the only kind issued today.
const KindReservation = "reservation"

var ErrEmptySecret = errors.New("token secret is empty")

// cancelClaims binds a token to one object.
type cancelClaims struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	jwt.RegisteredClaims
}

// Service issues and verifies cancellation tokens.  It keeps no state:
// everything needed to check a token is inside the token and the key.
type Service struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService derives the signing key from secret.
func NewService(secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(salt), nil), key); err != nil {
		return nil, fmt.Errorf("derive cancel token key: %w", err)
	}
	s := &Service{key: key, maxAge: DefaultMaxAge, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Issue signs a token for (kind, id).
func (s *Service) Issue(kind string, id uint64) (string, error) {
	now := s.now()
	claims := cancelClaims{
		Kind: kind,
		ID:   strconv.FormatUint(id, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify reports whether tok carries a valid signature, has not expired
// and names exactly (kind, id).
func (s *Service) Verify(tok, kind string, id uint64) bool {
	if tok == "" {
		return false
	}
	var claims cancelClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return false
	}
	return claims.Kind == kind && claims.ID == strconv.FormatUint(id, 10)
}
