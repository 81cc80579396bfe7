// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func seedDeviceType(t *testing.T, s *Store, class string) *models.DeviceType {
	t.Helper()
	dt := &models.DeviceType{
		ID:          models.NewID(),
		Name:        "thermostat",
		DeviceClass: class,
		DataDescriptors: []models.DataDescriptor{
			{Name: "temperature", Label: "Temperature", Min: -40, Max: 85},
		},
	}
	if err := s.CreateDeviceType(dt); err != nil {
		t.Fatalf("create device type: %v", err)
	}
	return dt
}

func seedDevice(t *testing.T, s *Store, typeID, ownerID, address string) *models.Device {
	t.Helper()
	d := &models.Device{
		ID:           models.NewID(),
		Name:         "living room sensor",
		DeviceTypeID: typeID,
		OwnerID:      ownerID,
		Visibility:   models.VisibilityPrivate,
		Address:      address,
	}
	if err := s.CreateDevice(d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	return d
}

func TestCreateDeviceDuplicateAddress(t *testing.T) {
	s := testStore(t)
	dt := seedDeviceType(t, s, models.DeviceClassInput)
	owner := models.NewID()

	seedDevice(t, s, dt.ID, owner, "sensor-addr-0001")

	dup := &models.Device{
		ID:           models.NewID(),
		Name:         "second sensor",
		DeviceTypeID: dt.ID,
		OwnerID:      owner,
		Visibility:   models.VisibilityPublic,
		Address:      "sensor-addr-0001",
	}
	if err := s.CreateDevice(dup); !errors.Is(err, ErrDuplicateAddress) {
		t.Fatalf("expected ErrDuplicateAddress, got %v", err)
	}
}

func TestCreateDeviceUnknownType(t *testing.T) {
	s := testStore(t)

	d := &models.Device{
		ID:           models.NewID(),
		Name:         "orphan",
		DeviceTypeID: models.NewID(),
		OwnerID:      models.NewID(),
		Visibility:   models.VisibilityPublic,
		Address:      "orphan-addr-0001",
	}
	err := s.CreateDevice(d)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["deviceType"]; !ok {
		t.Fatalf("expected deviceType field, got %v", verr.Fields)
	}
}

func TestCreateDeviceTypeDuplicateDescriptor(t *testing.T) {
	s := testStore(t)

	dt := &models.DeviceType{
		ID:          models.NewID(),
		Name:        "broken",
		DeviceClass: models.DeviceClassInput,
		DataDescriptors: []models.DataDescriptor{
			{Name: "temperature", Label: "Temperature"},
			{Name: "temperature", Label: "Temperature again"},
		},
	}
	err := s.CreateDeviceType(dt)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestGetDeviceWithTypeByAddress(t *testing.T) {
	s := testStore(t)
	dt := seedDeviceType(t, s, models.DeviceClassInput)
	d := seedDevice(t, s, dt.ID, models.NewID(), "sensor-addr-0002")

	pd, err := s.GetDeviceWithTypeByAddress("sensor-addr-0002")
	if err != nil {
		t.Fatalf("get by address: %v", err)
	}
	if pd.ID != d.ID {
		t.Errorf("device id = %s, want %s", pd.ID, d.ID)
	}
	if pd.Type.ID != dt.ID {
		t.Errorf("type id = %s, want %s", pd.Type.ID, dt.ID)
	}

	if _, err := s.GetDeviceWithTypeByAddress("no-such-address"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDataPointOrdering(t *testing.T) {
	s := testStore(t)
	dt := seedDeviceType(t, s, models.DeviceClassInput)
	d := seedDevice(t, s, dt.ID, models.NewID(), "sensor-addr-0003")

	var ids []string
	for i := 0; i < 5; i++ {
		dp, err := s.AppendDataPoint(d.ID, []models.DataValue{
			{Name: "temperature", Value: float64(i)},
		})
		if err != nil {
			t.Fatalf("append point %d: %v", i, err)
		}
		ids = append(ids, dp.ID)
	}

	points, err := s.LastDataPoints(d.ID, 3)
	if err != nil {
		t.Fatalf("last points: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	// Newest first.
	for i, dp := range points {
		want := ids[len(ids)-1-i]
		if dp.ID != want {
			t.Errorf("points[%d].ID = %s, want %s", i, dp.ID, want)
		}
	}
}

func TestDataPointOtherDeviceIsolated(t *testing.T) {
	s := testStore(t)
	dt := seedDeviceType(t, s, models.DeviceClassInput)
	a := seedDevice(t, s, dt.ID, models.NewID(), "sensor-addr-000a")
	b := seedDevice(t, s, dt.ID, models.NewID(), "sensor-addr-000b")

	if _, err := s.AppendDataPoint(a.ID, []models.DataValue{{Name: "temperature", Value: 1.0}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	points, err := s.LastDataPoints(b.ID, 5)
	if err != nil {
		t.Fatalf("last points: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("expected no points for device b, got %d", len(points))
	}
}

func TestListDataPointsPaging(t *testing.T) {
	s := testStore(t)
	dt := seedDeviceType(t, s, models.DeviceClassInput)
	d := seedDevice(t, s, dt.ID, models.NewID(), "sensor-addr-0004")

	for i := 0; i < 7; i++ {
		if _, err := s.AppendDataPoint(d.ID, []models.DataValue{
			{Name: "temperature", Value: float64(i)},
		}); err != nil {
			t.Fatalf("append point %d: %v", i, err)
		}
	}

	page1, total, err := s.ListDataPoints(d.ID, 1, 3)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 len = %d, want 3", len(page1))
	}

	page3, _, err := s.ListDataPoints(d.ID, 3, 3)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 1 {
		t.Fatalf("page 3 len = %d, want 1", len(page3))
	}
	// Last page holds the oldest point.
	if got := page3[0].Data[0].Value; got != 0.0 {
		t.Errorf("oldest value = %v, want 0", got)
	}
}

func TestAppendDataPointValidation(t *testing.T) {
	s := testStore(t)

	_, err := s.AppendDataPoint(models.NewID(), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty data, got %v", err)
	}
}

func seedRule(t *testing.T, s *Store, in, out string, enabled bool) *models.Rule {
	t.Helper()
	r := &models.Rule{
		ID:             models.NewID(),
		Name:           "follow temperature",
		InputDeviceID:  in,
		OutputDeviceID: out,
		Body:           "output.level = input.temperature",
		Enabled:        enabled,
		OwnerID:        models.NewID(),
	}
	if err := s.SaveRule(r); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	return r
}

func TestSaveRuleDisablesSiblings(t *testing.T) {
	s := testStore(t)
	in, out := models.NewID(), models.NewID()

	r1 := seedRule(t, s, in, out, true)
	r2 := seedRule(t, s, in, out, true)

	got1, err := s.GetRule(r1.ID)
	if err != nil {
		t.Fatalf("get r1: %v", err)
	}
	if got1.Enabled {
		t.Error("r1 should have been disabled when r2 was enabled")
	}
	got2, err := s.GetRule(r2.ID)
	if err != nil {
		t.Fatalf("get r2: %v", err)
	}
	if !got2.Enabled {
		t.Error("r2 should be enabled")
	}
}

func TestSaveRuleConcurrentEnables(t *testing.T) {
	s := testStore(t)
	in, out := models.NewID(), models.NewID()

	var rules []*models.Rule
	for i := 0; i < 8; i++ {
		rules = append(rules, seedRule(t, s, in, out, false))
	}

	var wg sync.WaitGroup
	for _, r := range rules {
		wg.Add(1)
		go func(r *models.Rule) {
			defer wg.Done()
			cp := *r
			cp.Enabled = true
			if err := s.SaveRule(&cp); err != nil {
				t.Errorf("enable %s: %v", r.ID, err)
			}
		}(r)
	}
	wg.Wait()

	enabled := 0
	for _, r := range rules {
		got, err := s.GetRule(r.ID)
		if err != nil {
			t.Fatalf("get %s: %v", r.ID, err)
		}
		if got.Enabled {
			enabled++
		}
	}
	if enabled != 1 {
		t.Fatalf("%d rules enabled, want exactly 1", enabled)
	}
}

func TestEnabledRulesByInput(t *testing.T) {
	s := testStore(t)
	in := models.NewID()

	r1 := seedRule(t, s, in, models.NewID(), true)
	r2 := seedRule(t, s, in, models.NewID(), true)
	seedRule(t, s, in, models.NewID(), false)
	seedRule(t, s, models.NewID(), models.NewID(), true)

	rules, err := s.EnabledRulesByInput(in)
	if err != nil {
		t.Fatalf("by input: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	found := map[string]bool{}
	for _, r := range rules {
		found[r.ID] = true
	}
	if !found[r1.ID] || !found[r2.ID] {
		t.Errorf("missing expected rules, got %v", found)
	}
}

func TestSaveRuleRepointsIndexes(t *testing.T) {
	s := testStore(t)
	oldIn, newIn := models.NewID(), models.NewID()

	r := seedRule(t, s, oldIn, models.NewID(), true)

	r.InputDeviceID = newIn
	if err := s.SaveRule(r); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	stale, err := s.EnabledRulesByInput(oldIn)
	if err != nil {
		t.Fatalf("by old input: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale index entry survived, got %d rules", len(stale))
	}
	fresh, err := s.EnabledRulesByInput(newIn)
	if err != nil {
		t.Fatalf("by new input: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("got %d rules on new input, want 1", len(fresh))
	}
}

func TestDeleteRule(t *testing.T) {
	s := testStore(t)
	in, out := models.NewID(), models.NewID()
	r := seedRule(t, s, in, out, true)

	if err := s.DeleteRule(r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetRule(r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	rules, err := s.EnabledRulesByInput(in)
	if err != nil {
		t.Fatalf("by input: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("index entry survived deletion")
	}

	if err := s.DeleteRule(models.NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestListRulesByOutput(t *testing.T) {
	s := testStore(t)
	out := models.NewID()

	for i := 0; i < 5; i++ {
		seedRule(t, s, models.NewID(), out, false)
	}

	page1, total, err := s.ListRulesByOutput(out, 1, 3)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 len = %d, want 3", len(page1))
	}
	page2, _, err := s.ListRulesByOutput(out, 2, 3)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 len = %d, want 2", len(page2))
	}
}
