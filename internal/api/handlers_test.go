package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/adapter/config"
	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
	"github.com/siddharth-mourya/powerlytic-be/internal/registry"
	"github.com/siddharth-mourya/powerlytic-be/internal/service"
	"github.com/siddharth-mourya/powerlytic-be/internal/store"
	"github.com/siddharth-mourya/powerlytic-be/internal/views"
)

// fakeCatalog backs the handlers with one in-memory device.
type fakeCatalog struct {
	device *domain.Device
	saved  bool
}

func (c *fakeCatalog) List() []*domain.Device {
	if c.device == nil {
		return nil
	}
	return []*domain.Device{c.device.Clone()}
}

func (c *fakeCatalog) Get(id string) (*domain.Device, error) {
	if c.device == nil || c.device.ID != id {
		return nil, domain.ErrDeviceNotFound
	}
	return c.device.Clone(), nil
}

func (c *fakeCatalog) Resolve(ctx context.Context, identifier string) (*domain.Device, error) {
	if c.device != nil && (c.device.ID == identifier || c.device.ExternalID == identifier) {
		return c.device.Clone(), nil
	}
	return nil, domain.ErrDeviceNotFound
}

func (c *fakeCatalog) Add(device *domain.Device) error {
	if c.device != nil && c.device.ID == device.ID {
		return domain.ErrDeviceExists
	}
	c.device = device.Clone()
	return nil
}

func (c *fakeCatalog) Delete(id string) error {
	if c.device == nil || c.device.ID != id {
		return domain.ErrDeviceNotFound
	}
	c.device = nil
	return nil
}

func (c *fakeCatalog) UpdatePort(deviceID, portKey string, update registry.PortUpdate) (*domain.Device, error) {
	if c.device == nil || c.device.ID != deviceID {
		return nil, domain.ErrDeviceNotFound
	}
	port, ok := c.device.Port(portKey)
	if !ok {
		return nil, domain.ErrPortNotFound
	}
	if update.Unit != nil {
		port.Unit = *update.Unit
	}
	return c.device.Clone(), nil
}

func (c *fakeCatalog) Save() error {
	c.saved = true
	return nil
}

// fakeSink records inserted batches and can fail on demand.
type fakeSink struct {
	batches [][]domain.Measurement
	err     error
}

func (s *fakeSink) InsertBatch(ctx context.Context, records []domain.Measurement) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

// fakeSource serves canned measurements to the view builder.
type fakeSource struct {
	latest []domain.Measurement
}

func (f *fakeSource) Latest(ctx context.Context, deviceID string) ([]domain.Measurement, error) {
	return f.latest, nil
}

func (f *fakeSource) Range(ctx context.Context, q store.RangeQuery) ([]domain.Measurement, error) {
	return f.latest, nil
}

func (f *fakeSource) Aggregate(ctx context.Context, q store.AggregateQuery) (store.Aggregate, error) {
	return store.Aggregate{}, nil
}

func apiTestDevice() *domain.Device {
	return &domain.Device{
		ID:             "dev-001",
		ExternalID:     "CFG-AA11",
		Name:           "Main Meter",
		OrganizationID: "org-001",
		Ports: []domain.Port{
			{Key: "AI_1", Type: domain.PortTypeAnalog, Calibration: domain.Calibration{Scaling: 0.5, Offset: 2}},
			{
				Key:  "MI_1",
				Type: domain.PortTypeModbus,
				Slaves: []domain.Slave{{
					ID: "1",
					Reads: []domain.Read{{
						ID:           "read-energy",
						Name:         "Energy",
						FunctionCode: 3,
						StartAddress: 100,
						BitsToRead:   16,
						Calibration:  domain.Calibration{Scaling: 1},
					}},
				}},
			},
		},
	}
}

type testEnv struct {
	router  http.Handler
	catalog *fakeCatalog
	sink    *fakeSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog := &fakeCatalog{device: apiTestDevice()}
	sink := &fakeSink{}
	transformer := service.NewTransformer(catalog, zerolog.Nop(), nil)
	builder := views.NewBuilder(&fakeSource{}, catalog, time.Hour)
	handlers := NewHandlers(transformer, sink, builder, catalog, nil, zerolog.Nop(), nil)
	mw := NewMiddleware(config.APIConfig{}, zerolog.Nop())
	return &testEnv{
		router:  NewRouter(handlers, mw, nil, nil),
		catalog: catalog,
		sink:    sink,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestAccepted(t *testing.T) {
	env := newTestEnv(t)

	payload := `{
		"deviceIdentifier": "dev-001",
		"measuredAt": "2026-03-01T12:00:00Z",
		"values": {
			"AI_1": 10,
			"MI_1": [{"slaveId": "1", "registers": [{"readId": "read-energy", "value": [100]}]}],
			"XX_9": 1
		}
	}`
	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/telemetry", payload)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stored != 2 || resp.Skipped != 1 {
		t.Errorf("response = %+v, want stored 2 skipped 1", resp)
	}
	if len(env.sink.batches) != 1 || len(env.sink.batches[0]) != 2 {
		t.Errorf("sink received %d batches", len(env.sink.batches))
	}
}

func TestIngestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		sinkErr  error
		noOrg    bool
		wantCode int
	}{
		{
			name:     "unknown device",
			payload:  `{"deviceIdentifier": "dev-404", "values": {"AI_1": 1}}`,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "missing organization",
			payload:  `{"deviceIdentifier": "dev-001", "values": {"AI_1": 1}}`,
			noOrg:    true,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "empty values",
			payload:  `{"deviceIdentifier": "dev-001", "values": {}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed json",
			payload:  `{"deviceIdentifier":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "store unavailable",
			payload:  `{"deviceIdentifier": "dev-001", "values": {"AI_1": 1}}`,
			sinkErr:  domain.ErrStoreUnavailable,
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.noOrg {
				env.catalog.device.OrganizationID = ""
			}
			env.sink.err = tt.sinkErr

			rec := doJSON(t, env.router, http.MethodPost, "/api/v1/telemetry", tt.payload)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var devices []domain.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "dev-001" {
		t.Errorf("devices = %+v", devices)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/api/v1/devices/dev-404", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodPut, "/api/v1/devices/dev-001/ports/AI_1", `{"unit": "psi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update port status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if !env.catalog.saved {
		t.Error("port update should persist the catalog")
	}

	rec = doJSON(t, env.router, http.MethodPut, "/api/v1/devices/dev-001/ports/XX_9", `{"unit": "psi"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("update unknown port status = %d, want 404", rec.Code)
	}
}

func TestCreateAndDeleteDevice(t *testing.T) {
	env := newTestEnv(t)

	body := `{"id": "dev-002", "name": "Pump", "organization_id": "org-001", "ports": [{"key": "DI_1", "type": "DIGITAL"}]}`
	rec := doJSON(t, env.router, http.MethodPost, "/api/v1/devices", body)
	if rec.Code != http.StatusConflict && rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, env.router, http.MethodDelete, "/api/v1/devices/dev-404", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown status = %d, want 404", rec.Code)
	}
}

func TestViewEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/devices/dev-001/snapshot",
		"/api/v1/devices/dev-001/table",
		"/api/v1/devices/dev-001/series?portKey=MI_1&readId=read-energy",
		"/api/v1/devices/dev-001/status",
	} {
		rec := doJSON(t, env.router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200; body %s", path, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, env.router, http.MethodGet, "/api/v1/devices/dev-001/series?limit=nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/api/v1/devices/dev-001/series?start=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad start status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, env.router, http.MethodGet, "/api/v1/devices/dev-001/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("export content type = %q, want text/csv", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	catalog := &fakeCatalog{device: apiTestDevice()}
	sink := &fakeSink{}
	transformer := service.NewTransformer(catalog, zerolog.Nop(), nil)
	builder := views.NewBuilder(&fakeSource{}, catalog, time.Hour)
	handlers := NewHandlers(transformer, sink, builder, catalog, nil, zerolog.Nop(), nil)
	mw := NewMiddleware(config.APIConfig{AuthEnabled: true, APIKey: "secret"}, zerolog.Nop())
	router := NewRouter(handlers, mw, nil, nil)

	payload := `{"deviceIdentifier": "dev-001", "values": {"AI_1": 1}}`

	// Missing key on the write surface
	rec := doJSON(t, router, http.MethodPost, "/api/v1/telemetry", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}

	// Correct key
	req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry", strings.NewReader(payload))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("valid key status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}

	// Read surface stays public
	rec = doJSON(t, router, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Errorf("public read status = %d, want 200", rec.Code)
	}
}
