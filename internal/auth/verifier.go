// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package auth verifies bearer tokens and answers role questions. Token
// issuance is an external concern; this package only validates stateless
// signed claims.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, structure or
// expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity bound to a verified token.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens into claims. Implemented by TokenVerifier;
// redeclared as an interface so tests and the realtime gate can substitute
// fakes.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// TokenVerifier validates HMAC-SHA256 signed tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the given shared secret. The secret
// must be at least 32 bytes.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters, got %d", len(secret))
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates an encoded token, returning its claims. Any
// failure (malformed token, wrong algorithm, bad signature, expired) returns
// an error wrapping ErrInvalidToken.
func (v *TokenVerifier) Verify(encoded string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(encoded, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
