// Package auth authenticates API callers.
//
// Authentication model:
// - Check and usage endpoints: HS256 JWT bearer tokens carrying identity claims
// - Admin endpoints: shared admin secret header
// - Health, metrics: no auth required
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/colinmxs/spendgate/internal/quota"
)

// Errors
var (
	ErrNoToken      = errors.New("bearer token required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoSubject    = errors.New("token has no subject")
)

// Claims are the identity claims spendgate reads from a verified token.
// Roles come from the token itself; app roles may additionally be fetched
// from the identity service during resolution.
type Claims struct {
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	AppRoles  []string `json:"app_roles,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens and extracts the principal.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// ParseToken validates raw and returns the principal it identifies.
// Accepts the token with or without a "Bearer " prefix.
func (v *Verifier) ParseToken(raw string) (*quota.Principal, error) {
	raw = strings.TrimPrefix(raw, "Bearer ")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrNoSubject
	}

	return &quota.Principal{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		AppRoles:  claims.AppRoles,
		SessionID: claims.SessionID,
	}, nil
}
