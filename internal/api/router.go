// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package api provides the HTTP surface: the websocket endpoint, the rule
// and data endpoints, health and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/rules"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

// Router wires the HTTP handlers to their collaborators.
type Router struct {
	store    *store.Store
	manager  *rules.Manager
	verifier auth.Verifier
	gateway  http.Handler
	cfg      config.ServerConfig
}

// New creates the HTTP router. gateway serves the websocket endpoint.
func New(s *store.Store, manager *rules.Manager, verifier auth.Verifier, gateway http.Handler, cfg config.ServerConfig) *Router {
	return &Router{
		store:    s,
		manager:  manager,
		verifier: verifier,
		gateway:  gateway,
		cfg:      cfg,
	}
}

// Handler builds the route tree. Rule mutations require authentication;
// reads decode the identity when present and apply per-device policy in the
// handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", rt.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Handle("/ws", rt.gateway)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimit, rt.cfg.RateLimitWindow))
		r.Use(rt.decode)

		r.Get("/data", rt.listData)
		r.Get("/rules", rt.listRules)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Post("/rules", rt.createRule)
			r.Post("/rules/evaluate", rt.evaluateRule)
			r.Put("/rules/{id}", rt.updateRule)
			r.Delete("/rules/{id}", rt.deleteRule)
			r.Post("/rules/{id}/enable", rt.setRuleEnabled(true))
			r.Post("/rules/{id}/disable", rt.setRuleEnabled(false))
		})
	})

	return r
}
