// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package store implements the device/rule repository on BadgerDB. Entities
// are stored as JSON documents under typed key prefixes, with additional
// index keys for address uniqueness and rule lookup by input/output device.
//
// Key layout:
//
//	user:<id>                      User document
//	devicetype:<id>                DeviceType document
//	device:<id>                    Device document
//	device_addr:<address>          device id (address uniqueness index)
//	data:<deviceID>:<seq>          DataPoint document, seq zero-padded
//	rule:<id>                      Rule document
//	rule_in:<inputDeviceID>:<id>   rule id (lookup index)
//	rule_out:<outputDeviceID>:<id> rule id (lookup index)
//
// The data sequence is global and monotonic, so per-device data keys sort in
// creation order and reverse iteration yields the most recent points first.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/metrics"
	"github.com/fluxmesh/fluxmesh/internal/validation"
)

// Sentinel errors for repository lookups and writes.
var (
	// ErrNotFound is returned when no document exists for a key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAddress is returned when a device address is already taken.
	ErrDuplicateAddress = errors.New("device address already in use")
)

// ValidationError wraps field-level validation failures from document writes,
// keeping them distinguishable from infrastructure errors.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("document validation failed on %d field(s)", len(e.Fields))
}

func validateDoc(v interface{}) error {
	if ferr := validation.ValidateStruct(v); ferr != nil {
		return &ValidationError{Fields: ferr.Fields()}
	}
	return nil
}

// Store is the badger-backed document repository.
type Store struct {
	db      *badger.DB
	dataSeq *badger.Sequence

	// outputLocks serializes read-modify-write sequences that maintain the
	// at-most-one-enabled-rule-per-output invariant, keyed by output device.
	outputLocks   map[string]*sync.Mutex
	outputLocksMu sync.Mutex

	gcInterval time.Duration
}

// Open creates a Store from database configuration.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	// badger logs through its own interface; route it to zerolog
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence([]byte("seq:data"), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening data sequence: %w", err)
	}

	return &Store{
		db:          db,
		dataSeq:     seq,
		outputLocks: make(map[string]*sync.Mutex),
		gcInterval:  cfg.GCInterval,
	}, nil
}

// Close releases the data sequence and closes the database.
func (s *Store) Close() error {
	if err := s.dataSeq.Release(); err != nil {
		logging.Warn().Err(err).Msg("releasing data sequence")
	}
	return s.db.Close()
}

// outputLock returns the mutex serializing enable operations for one output
// device. Locks are created lazily and never removed; the set of output
// devices is small and long-lived.
func (s *Store) outputLock(outputDeviceID string) *sync.Mutex {
	s.outputLocksMu.Lock()
	defer s.outputLocksMu.Unlock()
	mu, ok := s.outputLocks[outputDeviceID]
	if !ok {
		mu = &sync.Mutex{}
		s.outputLocks[outputDeviceID] = mu
	}
	return mu
}

func observe(op, entity string, start time.Time) {
	metrics.StoreOpDuration.WithLabelValues(op, entity).Observe(time.Since(start).Seconds())
}

// badgerLogger adapts badger's logger interface to zerolog. Badger is chatty
// at INFO during compaction, so its info output maps to debug level.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}
