package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-test-secret-test-secret!"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestParseToken(t *testing.T) {
	v := NewVerifier(testSecret)

	raw := signToken(t, testSecret, Claims{
		Email:     "dev@acme.io",
		Roles:     []string{"engineer", "oncall"},
		AppRoles:  []string{"power_user"},
		SessionID: "sess_42",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	p, err := v.ParseToken("Bearer " + raw)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if p.UserID != "user_123" {
		t.Errorf("Expected user_123, got %s", p.UserID)
	}
	if p.Email != "dev@acme.io" {
		t.Errorf("Expected dev@acme.io, got %s", p.Email)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "engineer" {
		t.Errorf("Unexpected roles: %v", p.Roles)
	}
	if len(p.AppRoles) != 1 || p.AppRoles[0] != "power_user" {
		t.Errorf("Unexpected app roles: %v", p.AppRoles)
	}
	if p.SessionID != "sess_42" {
		t.Errorf("Expected sess_42, got %s", p.SessionID)
	}
}

func TestParseToken_Rejections(t *testing.T) {
	v := NewVerifier(testSecret)

	expired := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := signToken(t, "another-secret-another-secret-oops!!", Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_123"},
	})
	noSubject := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrNoToken},
		{"bearer only", "Bearer ", ErrNoToken},
		{"garbage", "Bearer not.a.jwt", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong key", wrongKey, ErrInvalidToken},
		{"no subject", noSubject, ErrNoSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ParseToken(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseToken(%q) error = %v, want %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestParseToken_RejectsNonHMAC(t *testing.T) {
	v := NewVerifier(testSecret)

	// alg=none tokens must never validate
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_123"},
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	if _, err := v.ParseToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for alg=none, got %v", err)
	}
}
