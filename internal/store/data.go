// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package store

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/fluxmesh/fluxmesh/internal/models"
)

// AppendDataPoint validates and persists a new immutable data point for a
// device. The caller is responsible for the device existence, ownership and
// class checks; the store only enforces document validity.
func (s *Store) AppendDataPoint(deviceID string, values []models.DataValue) (*models.DataPoint, error) {
	defer observe("append", "data", time.Now())

	dp := &models.DataPoint{
		ID:        models.NewID(),
		DeviceID:  deviceID,
		Data:      values,
		CreatedAt: time.Now().UTC(),
	}
	if err := validateDoc(dp); err != nil {
		return nil, err
	}

	seq, err := s.dataSeq.Next()
	if err != nil {
		return nil, fmt.Errorf("next data sequence: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return setDoc(txn, dataKey(deviceID, seq), dp)
	})
	if err != nil {
		return nil, err
	}
	return dp, nil
}

// LastDataPoints returns up to n most recent data points for a device,
// newest first.
func (s *Store) LastDataPoints(deviceID string, n int) ([]models.DataPoint, error) {
	defer observe("last", "data", time.Now())

	points := make([]models.DataPoint, 0, n)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := dataDevicePrefix(deviceID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past every key in the prefix.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(points) < n; it.Next() {
			var dp models.DataPoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dp)
			}); err != nil {
				return err
			}
			points = append(points, dp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// ListDataPoints returns one page of a device's data points, newest first,
// along with the total count.
func (s *Store) ListDataPoints(deviceID string, page, limit int) ([]models.DataPoint, int, error) {
	defer observe("list", "data", time.Now())
	if page < 1 {
		page = 1
	}

	var (
		points = make([]models.DataPoint, 0, limit)
		total  int
		skip   = (page - 1) * limit
	)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := dataDevicePrefix(deviceID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if total >= skip && len(points) < limit {
				var dp models.DataPoint
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &dp)
				}); err != nil {
					return err
				}
				points = append(points, dp)
			}
			total++
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return points, total, nil
}
