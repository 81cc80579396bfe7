// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxmesh/fluxmesh/internal/logging"
)

// GCService runs badger's value-log garbage collector on an interval. It
// implements suture.Service so the supervisor tree owns its lifecycle.
type GCService struct {
	store *Store
}

// NewGCService creates the GC service for a store.
func NewGCService(s *Store) *GCService {
	return &GCService{store: s}
}

// Serve runs GC cycles until the context is canceled.
func (g *GCService) Serve(ctx context.Context) error {
	interval := g.store.gcInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Repeat while GC finds work; ErrNoRewrite means done.
			for {
				err := g.store.db.RunValueLogGC(0.5)
				if errors.Is(err, badger.ErrNoRewrite) {
					break
				}
				if err != nil {
					logging.Warn().Err(err).Msg("badger value log GC")
					break
				}
			}
		}
	}
}

// String names the service in supervisor logs.
func (g *GCService) String() string {
	return "store-gc"
}
