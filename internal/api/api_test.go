// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rules"
	"github.com/fluxmesh/fluxmesh/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// wireResponse mirrors the envelope as clients decode it.
type wireResponse struct {
	Status string `json:"status"`
	Meta   struct {
		Message    string            `json:"message"`
		Validation map[string]string `json:"validation"`
		Paginate   *models.Paginate  `json:"paginate"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type apiFixture struct {
	store   *store.Store
	handler http.Handler
	owner   *auth.Claims
	input   *models.Device
	output  *models.Device
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	s, err := store.Open(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	verifier, err := auth.NewTokenVerifier(testSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	engine := rules.NewEngine(config.RulesConfig{
		EvalTimeout:  250 * time.Millisecond,
		MaxSteps:     10000,
		MaxScriptLen: 16 * 1024,
	})
	manager := rules.NewManager(s, engine)

	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	router := New(s, manager, verifier, gateway, config.ServerConfig{
		CORSOrigins:     []string{"*"},
		RateLimit:       1000,
		RateLimitWindow: time.Minute,
	})

	f := &apiFixture{store: s, handler: router.Handler()}
	f.owner = &auth.Claims{ID: models.NewID(), Username: "kim", Role: models.RoleUser}
	f.input = f.seedDevice(t, models.DeviceClassInput, f.owner.ID, models.VisibilityPrivate, "api-sensor-0001")
	f.output = f.seedDevice(t, models.DeviceClassOutput, f.owner.ID, models.VisibilityPrivate, "api-actor-00001")
	return f
}

func (f *apiFixture) seedDevice(t *testing.T, class, ownerID, visibility, address string) *models.Device {
	t.Helper()
	dt := &models.DeviceType{
		ID:          models.NewID(),
		Name:        class + " type",
		DeviceClass: class,
		DataDescriptors: []models.DataDescriptor{
			{Name: "temp", Label: "Temperature", Min: -40, Max: 85},
		},
	}
	if err := f.store.CreateDeviceType(dt); err != nil {
		t.Fatalf("create device type: %v", err)
	}
	d := &models.Device{
		ID:           models.NewID(),
		Name:         class + " device",
		DeviceTypeID: dt.ID,
		OwnerID:      ownerID,
		Visibility:   visibility,
		Address:      address,
	}
	if err := f.store.CreateDevice(d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	return d
}

func (f *apiFixture) token(t *testing.T, claims *auth.Claims) string {
	t.Helper()
	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return encoded
}

// do performs a request against the router and decodes the envelope.
func (f *apiFixture) do(t *testing.T, method, target, token string, body interface{}) (int, wireResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var resp wireResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func (f *apiFixture) draft() *rules.Draft {
	return &rules.Draft{
		Name:           "shadow temperature",
		InputDeviceID:  f.input.ID,
		OutputDeviceID: f.output.ID,
		Body:           "output.level = input.temp",
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	code, resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Meta.Message != "The service is healthy." {
		t.Errorf("message = %q", resp.Meta.Message)
	}
}

func TestAuthenticationMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/rules", "", f.draft())
	if code != http.StatusForbidden {
		t.Fatalf("anonymous status = %d, want 403", code)
	}
	if resp.Meta.Message != "No token was provided." {
		t.Errorf("message = %q", resp.Meta.Message)
	}

	code, resp = f.do(t, http.MethodPost, "/api/rules", "garbage-token", f.draft())
	if code != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d, want 401", code)
	}
	if resp.Meta.Message != "Failed to validate token." {
		t.Errorf("message = %q", resp.Meta.Message)
	}
}

func TestCreateRuleEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.owner)

	code, resp := f.do(t, http.MethodPost, "/api/rules", token, f.draft())
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Status != models.StatusSuccess {
		t.Fatalf("status = %q, meta = %+v", resp.Status, resp.Meta)
	}
	if resp.Meta.Message != "The rule was saved and is now active." {
		t.Errorf("message = %q", resp.Meta.Message)
	}

	var rule models.Rule
	if err := json.Unmarshal(resp.Data, &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if rule.OwnerID != f.owner.ID || !rule.Enabled {
		t.Errorf("rule = %+v", rule)
	}
}

func TestCreateRuleValidationEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.owner)

	draft := f.draft()
	draft.Name = ""
	code, resp := f.do(t, http.MethodPost, "/api/rules", token, draft)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Status != models.StatusFail {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Meta.Message != "The rule could not be saved. Check validation." {
		t.Errorf("message = %q", resp.Meta.Message)
	}
	if len(resp.Meta.Validation) == 0 {
		t.Error("validation fields missing")
	}
}

func TestCreateRuleBadBodyEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.owner)

	draft := f.draft()
	draft.Body = "output.level = input.temp +"
	_, resp := f.do(t, http.MethodPost, "/api/rules", token, draft)
	if resp.Status != models.StatusFail {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Meta.Message != "The rule could not be evaluated. Check validation." {
		t.Errorf("message = %q", resp.Meta.Message)
	}
	if resp.Meta.Validation["rule"] == "" {
		t.Error("validation detail missing")
	}
}

func TestEvaluateRuleEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.owner)

	_, resp := f.do(t, http.MethodPost, "/api/rules/evaluate", token, f.draft())
	if resp.Status != models.StatusSuccess {
		t.Fatalf("status = %q, meta = %+v", resp.Status, resp.Meta)
	}
	if resp.Meta.Message != "The rule was successfully evaluated." {
		t.Errorf("message = %q", resp.Meta.Message)
	}
	var sandbox map[string]json.RawMessage
	if err := json.Unmarshal(resp.Data, &sandbox); err != nil {
		t.Fatalf("decode sandbox: %v", err)
	}
	for _, key := range []string{"previous", "input", "output"} {
		if _, ok := sandbox[key]; !ok {
			t.Errorf("sandbox missing %q", key)
		}
	}
}

func TestRuleLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, f.owner)

	_, created := f.do(t, http.MethodPost, "/api/rules", token, f.draft())
	var rule models.Rule
	if err := json.Unmarshal(created.Data, &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}

	_, resp := f.do(t, http.MethodPost, "/api/rules/"+rule.ID+"/disable", token, nil)
	if resp.Meta.Message != "The rule is now disabled." {
		t.Errorf("disable message = %q", resp.Meta.Message)
	}

	_, resp = f.do(t, http.MethodPost, "/api/rules/"+rule.ID+"/enable", token, nil)
	if resp.Meta.Message != "The rule was saved and is now active." {
		t.Errorf("enable message = %q", resp.Meta.Message)
	}

	_, resp = f.do(t, http.MethodGet, "/api/rules?device="+f.output.ID, token, nil)
	if resp.Status != models.StatusSuccess {
		t.Fatalf("list status = %q", resp.Status)
	}
	if resp.Meta.Paginate == nil || resp.Meta.Paginate.Total != 1 {
		t.Errorf("paginate = %+v", resp.Meta.Paginate)
	}

	_, resp = f.do(t, http.MethodDelete, "/api/rules/"+rule.ID, token, nil)
	if resp.Meta.Message != "The rule was deleted." {
		t.Errorf("delete message = %q", resp.Meta.Message)
	}

	_, resp = f.do(t, http.MethodDelete, "/api/rules/"+rule.ID, token, nil)
	if resp.Meta.Message != "The rule could not be populated." {
		t.Errorf("second delete message = %q", resp.Meta.Message)
	}
}

func TestListRulesRequiresDevice(t *testing.T) {
	f := newAPIFixture(t)

	_, resp := f.do(t, http.MethodGet, "/api/rules", "", nil)
	if resp.Meta.Message != "You have not provided an output device ID." {
		t.Errorf("message = %q", resp.Meta.Message)
	}

	unknown := models.NewID()
	_, resp = f.do(t, http.MethodGet, "/api/rules?device="+unknown, "", nil)
	if resp.Meta.Message != "There is no device with the id "+unknown+"." {
		t.Errorf("message = %q", resp.Meta.Message)
	}
}

func TestListDataEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	public := f.seedDevice(t, models.DeviceClassInput, f.owner.ID, models.VisibilityPublic, "api-sensor-0002")

	for i := 0; i < 3; i++ {
		if _, err := f.store.AppendDataPoint(public.ID, []models.DataValue{
			{Name: "temp", Value: float64(i)},
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Public data is readable anonymously.
	_, resp := f.do(t, http.MethodGet, "/api/data?device="+public.ID, "", nil)
	if resp.Status != models.StatusSuccess {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Meta.Paginate == nil || resp.Meta.Paginate.Total != 3 {
		t.Errorf("paginate = %+v", resp.Meta.Paginate)
	}
	var points []models.DataPoint
	if err := json.Unmarshal(resp.Data, &points); err != nil {
		t.Fatalf("decode points: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points", len(points))
	}

	// Private data is not.
	_, resp = f.do(t, http.MethodGet, "/api/data?device="+f.input.ID, "", nil)
	if resp.Status != models.StatusFail || resp.Meta.Message != "You are not authorised." {
		t.Errorf("private device response = %+v", resp.Meta)
	}

	// The owner reads it fine.
	_, resp = f.do(t, http.MethodGet, "/api/data?device="+f.input.ID, f.token(t, f.owner), nil)
	if resp.Status != models.StatusSuccess {
		t.Errorf("owner read status = %q", resp.Status)
	}

	_, resp = f.do(t, http.MethodGet, "/api/data?device="+models.NewID(), "", nil)
	if resp.Meta.Message != "Data could not be retrieved - the specified device could not be found." {
		t.Errorf("unknown device message = %q", resp.Meta.Message)
	}
}
