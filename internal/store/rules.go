// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxmesh/fluxmesh/internal/models"
)

// SaveRule validates and persists a rule (create or update). When the rule is
// enabled, every other rule sharing its output device is disabled in the same
// transaction, so the at-most-one-enabled invariant holds for any observer
// once the call returns. The read-modify-write is serialized per output
// device, never globally.
func (s *Store) SaveRule(r *models.Rule) error {
	defer observe("save", "rule", time.Now())

	if r.ID == "" {
		r.ID = models.NewID()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := validateDoc(r); err != nil {
		return err
	}

	mu := s.outputLock(r.OutputDeviceID)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		// Updates may repoint the rule at different devices; drop stale
		// index entries first.
		var old models.Rule
		switch err := getDoc(txn, ruleKey(r.ID), &old); {
		case err == nil:
			if old.InputDeviceID != r.InputDeviceID {
				if err := txn.Delete(ruleInKey(old.InputDeviceID, r.ID)); err != nil {
					return fmt.Errorf("delete stale input index: %w", err)
				}
			}
			if old.OutputDeviceID != r.OutputDeviceID {
				if err := txn.Delete(ruleOutKey(old.OutputDeviceID, r.ID)); err != nil {
					return fmt.Errorf("delete stale output index: %w", err)
				}
			}
		case errors.Is(err, ErrNotFound):
			// create
		default:
			return err
		}

		if r.Enabled {
			if err := s.disableOthers(txn, r.OutputDeviceID, r.ID); err != nil {
				return err
			}
		}

		if err := setDoc(txn, ruleKey(r.ID), r); err != nil {
			return err
		}
		if err := txn.Set(ruleInKey(r.InputDeviceID, r.ID), []byte(r.ID)); err != nil {
			return fmt.Errorf("set input index: %w", err)
		}
		if err := txn.Set(ruleOutKey(r.OutputDeviceID, r.ID), []byte(r.ID)); err != nil {
			return fmt.Errorf("set output index: %w", err)
		}
		return nil
	})
}

// disableOthers sets enabled=false on every rule targeting outputDeviceID
// except keepID. Must run inside a transaction with the output lock held.
func (s *Store) disableOthers(txn *badger.Txn, outputDeviceID, keepID string) error {
	ids, err := indexIDs(txn, []byte(ruleOutPrefix+outputDeviceID+":"))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == keepID {
			continue
		}
		var other models.Rule
		if err := getDoc(txn, ruleKey(id), &other); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // dangling index entry
			}
			return err
		}
		if !other.Enabled {
			continue
		}
		other.Enabled = false
		other.UpdatedAt = time.Now().UTC()
		if err := setDoc(txn, ruleKey(id), &other); err != nil {
			return err
		}
	}
	return nil
}

// GetRule fetches a rule by id.
func (s *Store) GetRule(id string) (*models.Rule, error) {
	defer observe("get", "rule", time.Now())
	var r models.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		return getDoc(txn, ruleKey(id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRule removes a rule and its index entries.
func (s *Store) DeleteRule(id string) error {
	defer observe("delete", "rule", time.Now())
	return s.db.Update(func(txn *badger.Txn) error {
		var r models.Rule
		if err := getDoc(txn, ruleKey(id), &r); err != nil {
			return err
		}
		if err := txn.Delete(ruleKey(id)); err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
		if err := txn.Delete(ruleInKey(r.InputDeviceID, id)); err != nil {
			return fmt.Errorf("delete input index: %w", err)
		}
		if err := txn.Delete(ruleOutKey(r.OutputDeviceID, id)); err != nil {
			return fmt.Errorf("delete output index: %w", err)
		}
		return nil
	})
}

// ListRulesByOutput returns one page of the rules targeting an output
// device, along with the total count.
func (s *Store) ListRulesByOutput(outputDeviceID string, page, limit int) ([]models.Rule, int, error) {
	defer observe("list", "rule", time.Now())
	if page < 1 {
		page = 1
	}

	var (
		rules []models.Rule
		total int
	)
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := indexIDs(txn, []byte(ruleOutPrefix+outputDeviceID+":"))
		if err != nil {
			return err
		}
		total = len(ids)

		start := (page - 1) * limit
		if start >= len(ids) {
			return nil
		}
		end := start + limit
		if end > len(ids) {
			end = len(ids)
		}
		rules = make([]models.Rule, 0, end-start)
		for _, id := range ids[start:end] {
			var r models.Rule
			if err := getDoc(txn, ruleKey(id), &r); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			rules = append(rules, r)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// EnabledRulesByInput returns every enabled rule whose input device is
// inputDeviceID. Triggered evaluation after ingestion starts here.
func (s *Store) EnabledRulesByInput(inputDeviceID string) ([]models.Rule, error) {
	defer observe("by_input", "rule", time.Now())

	var rules []models.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := indexIDs(txn, []byte(ruleInPrefix+inputDeviceID+":"))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var r models.Rule
			if err := getDoc(txn, ruleKey(id), &r); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if r.Enabled {
				rules = append(rules, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// indexIDs collects the values of every index entry under prefix.
func indexIDs(txn *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var id string
		if err := it.Item().Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
