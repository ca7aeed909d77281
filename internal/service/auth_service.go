package service

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
)

// AuthService guards the admin surface. There are no user accounts: betting
// is keyed by wallet address, and the only protected operations are the
// admin/oracle endpoints, which exchange one shared secret for a short-lived
// HS256 bearer token.
type AuthService struct {
	secret   []byte
	tokenTTL time.Duration
}

// AdminClaims is the payload of an admin token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// NewAuthService builds an AuthService from the auth config. An empty
// AdminSecret disables the admin surface entirely: logins fail and the
// middleware rejects every request.
func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{
		secret:   []byte(cfg.AdminSecret),
		tokenTTL: cfg.TokenTTL,
	}
}

// Enabled reports whether an admin secret is configured.
func (s *AuthService) Enabled() bool {
	return len(s.secret) > 0
}

// Login exchanges the admin secret for a signed token. The comparison is
// constant-time so response timing does not leak how much of a guess matched.
func (s *AuthService) Login(secret string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, fmt.Errorf("auth_service.Login: %w", domain.ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(secret), s.secret) != 1 {
		return "", time.Time{}, fmt.Errorf("auth_service.Login: %w", domain.ErrBadAdminSecret)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: "admin",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth_service.Login: sign: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateToken checks the signature, algorithm, and expiry of an admin token.
func (s *AuthService) ValidateToken(tokenString string) (*AdminClaims, error) {
	if !s.Enabled() {
		return nil, domain.ErrTokenInvalid
	}
	tok, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AdminClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
