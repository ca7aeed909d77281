package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
)

func testAuth(secret string) *AuthService {
	return NewAuthService(config.AuthConfig{AdminSecret: secret, TokenTTL: time.Hour})
}

func TestAuthService_LoginRoundTrip(t *testing.T) {
	svc := testAuth("hunter2-hunter2")

	token, expiresAt, err := svc.Login("hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if token == "" {
		t.Fatal("Login() returned empty token")
	}
	if remaining := time.Until(expiresAt); remaining < 55*time.Minute || remaining > time.Hour {
		t.Errorf("token TTL = %s, want ~1h", remaining)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if claims.Role != "admin" || claims.Subject != "admin" {
		t.Errorf("claims = role %q subject %q, want admin/admin", claims.Role, claims.Subject)
	}
}

func TestAuthService_WrongSecret(t *testing.T) {
	svc := testAuth("correct-secret")

	_, _, err := svc.Login("wrong-secret")
	if !errors.Is(err, domain.ErrBadAdminSecret) {
		t.Errorf("Login(wrong) error = %v, want ErrBadAdminSecret", err)
	}
}

func TestAuthService_TamperedToken(t *testing.T) {
	svc := testAuth("correct-secret")

	token, _, err := svc.Login("correct-secret")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	// Flip the signature.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	forged := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	if _, err := svc.ValidateToken(forged); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("ValidateToken(forged) error = %v, want ErrTokenInvalid", err)
	}

	// A token signed by a different instance fails too.
	other, _, err := testAuth("other-secret").Login("other-secret")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if _, err := svc.ValidateToken(other); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("ValidateToken(foreign) error = %v, want ErrTokenInvalid", err)
	}
}

func TestAuthService_Disabled(t *testing.T) {
	svc := testAuth("")

	if svc.Enabled() {
		t.Error("Enabled() = true with empty secret")
	}
	if _, _, err := svc.Login("anything"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Login() with auth disabled error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.ValidateToken("whatever"); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("ValidateToken() with auth disabled error = %v, want ErrTokenInvalid", err)
	}
}
