// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	userPrefix       = "user:"
	deviceTypePrefix = "devicetype:"
	devicePrefix     = "device:"
	deviceAddrPrefix = "device_addr:"
	dataPrefix       = "data:"
	rulePrefix       = "rule:"
	ruleInPrefix     = "rule_in:"
	ruleOutPrefix    = "rule_out:"
)

func userKey(id string) []byte       { return []byte(userPrefix + id) }
func deviceTypeKey(id string) []byte { return []byte(deviceTypePrefix + id) }
func deviceKey(id string) []byte     { return []byte(devicePrefix + id) }
func deviceAddrKey(a string) []byte  { return []byte(deviceAddrPrefix + a) }
func ruleKey(id string) []byte       { return []byte(rulePrefix + id) }

func dataKey(deviceID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", dataPrefix, deviceID, seq))
}

func dataDevicePrefix(deviceID string) []byte {
	return []byte(dataPrefix + deviceID + ":")
}

func ruleInKey(inputDeviceID, ruleID string) []byte {
	return []byte(ruleInPrefix + inputDeviceID + ":" + ruleID)
}

func ruleOutKey(outputDeviceID, ruleID string) []byte {
	return []byte(ruleOutPrefix + outputDeviceID + ":" + ruleID)
}

// getDoc reads and unmarshals a JSON document inside a transaction,
// translating badger.ErrKeyNotFound to ErrNotFound.
func getDoc(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// setDoc marshals and writes a JSON document inside a transaction.
func setDoc(txn *badger.Txn, key []byte, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
