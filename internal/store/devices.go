// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package store

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxmesh/fluxmesh/internal/models"
)

// PopulatedDevice is a device joined with its device type, the shape the
// realtime handlers and rule pipeline work with.
type PopulatedDevice struct {
	models.Device
	Type models.DeviceType `json:"type"`
}

// CreateUser persists a user document.
func (s *Store) CreateUser(u *models.User) error {
	defer observe("create", "user", time.Now())
	if u.ID == "" {
		u.ID = models.NewID()
	}
	if err := validateDoc(u); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setDoc(txn, userKey(u.ID), u)
	})
}

// GetUser fetches a user by id.
func (s *Store) GetUser(id string) (*models.User, error) {
	defer observe("get", "user", time.Now())
	var u models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getDoc(txn, userKey(id), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDeviceType persists a device type. Descriptor names must be unique
// within the type.
func (s *Store) CreateDeviceType(dt *models.DeviceType) error {
	defer observe("create", "devicetype", time.Now())
	if dt.ID == "" {
		dt.ID = models.NewID()
	}
	now := time.Now().UTC()
	if dt.CreatedAt.IsZero() {
		dt.CreatedAt = now
	}
	dt.UpdatedAt = now

	if err := validateDoc(dt); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(dt.DataDescriptors))
	for i, d := range dt.DataDescriptors {
		if _, dup := seen[d.Name]; dup {
			return &ValidationError{Fields: map[string]string{
				fmt.Sprintf("dataDescriptor[%d].name", i): "descriptor names must be unique within a device type",
			}}
		}
		seen[d.Name] = struct{}{}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return setDoc(txn, deviceTypeKey(dt.ID), dt)
	})
}

// GetDeviceType fetches a device type by id.
func (s *Store) GetDeviceType(id string) (*models.DeviceType, error) {
	defer observe("get", "devicetype", time.Now())
	var dt models.DeviceType
	err := s.db.View(func(txn *badger.Txn) error {
		return getDoc(txn, deviceTypeKey(id), &dt)
	})
	if err != nil {
		return nil, err
	}
	return &dt, nil
}

// CreateDevice persists a device, enforcing global address uniqueness and
// the existence of the referenced device type.
func (s *Store) CreateDevice(d *models.Device) error {
	defer observe("create", "device", time.Now())
	if d.ID == "" {
		d.ID = models.NewID()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	if err := validateDoc(d); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		var dt models.DeviceType
		if err := getDoc(txn, deviceTypeKey(d.DeviceTypeID), &dt); err != nil {
			if err == ErrNotFound {
				return &ValidationError{Fields: map[string]string{
					"deviceType": "referenced device type does not exist",
				}}
			}
			return err
		}

		if _, err := txn.Get(deviceAddrKey(d.Address)); err == nil {
			return ErrDuplicateAddress
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("checking address: %w", err)
		}

		if err := setDoc(txn, deviceKey(d.ID), d); err != nil {
			return err
		}
		return txn.Set(deviceAddrKey(d.Address), []byte(d.ID))
	})
}

// GetDevice fetches a device by id.
func (s *Store) GetDevice(id string) (*models.Device, error) {
	defer observe("get", "device", time.Now())
	var d models.Device
	err := s.db.View(func(txn *badger.Txn) error {
		return getDoc(txn, deviceKey(id), &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeviceWithType fetches a device joined with its device type.
func (s *Store) GetDeviceWithType(id string) (*PopulatedDevice, error) {
	defer observe("get", "device", time.Now())
	var pd PopulatedDevice
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getDoc(txn, deviceKey(id), &pd.Device); err != nil {
			return err
		}
		return getDoc(txn, deviceTypeKey(pd.DeviceTypeID), &pd.Type)
	})
	if err != nil {
		return nil, err
	}
	return &pd, nil
}

// GetDeviceWithTypeByAddress resolves a device through the address index and
// joins its device type. Data producers address devices this way.
func (s *Store) GetDeviceWithTypeByAddress(address string) (*PopulatedDevice, error) {
	defer observe("get_by_address", "device", time.Now())
	var pd PopulatedDevice
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviceAddrKey(address))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("address lookup: %w", err)
		}
		var deviceID string
		if err := item.Value(func(val []byte) error {
			deviceID = string(val)
			return nil
		}); err != nil {
			return err
		}
		if err := getDoc(txn, deviceKey(deviceID), &pd.Device); err != nil {
			return err
		}
		return getDoc(txn, deviceTypeKey(pd.DeviceTypeID), &pd.Type)
	})
	if err != nil {
		return nil, err
	}
	return &pd, nil
}
