// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/models"
)

type ctxKey int

const claimsKey ctxKey = iota

// Identity returns the claims decoded by the authentication middleware, or
// nil when the request is anonymous.
func Identity(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// token extracts the bearer token from the Authorization header or, for
// clients that cannot set headers, the token query parameter.
func token(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// decode attaches the verified identity when a token is present. A missing
// token leaves the request anonymous; an invalid one fails the request so
// callers never proceed believing they are authenticated.
func (rt *Router) decode(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := token(r)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := rt.verifier.Verify(tok)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, models.Fail("Failed to validate token."))
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth rejects anonymous requests. Must run after decode.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Identity(r) == nil {
			writeJSON(w, http.StatusForbidden, models.Fail("No token was provided."))
			return
		}
		next.ServeHTTP(w, r)
	})
}
