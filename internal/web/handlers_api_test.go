package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zigbee-descriptors/internal/coordinator"
	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/devices"
	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/store"
	"zigbee-descriptors/internal/zcl"
	"zigbee-descriptors/internal/zcl/clusters"
)

const (
	lightIEEE  = "404CCAFFFE412210"
	lightShort = 0x3A7C
)

type testEnv struct {
	srv   *Server
	db    *store.BoltStore
	sim   *ncp.Sim
	coord *coordinator.Coordinator
}

func setupTestServer(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := zcl.NewRegistry(logger)
	clusters.RegisterStandard(registry)
	descs := descriptor.NewRegistry()
	if err := devices.RegisterBuiltin(descs); err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewBoltStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ieee, _ := coordinator.ParseIEEE(lightIEEE)
	sim := ncp.NewSim([8]byte{0x00, 0x12, 0x4B, 0x00, 0x00, 0x00, 0x00, 0x01}, logger)
	sim.AddDevice(ncp.SimDevice{
		IEEE:         ieee,
		ShortAddr:    lightShort,
		Manufacturer: "Espressif",
		Model:        "ESP32C6.Light",
		Endpoints: []ncp.SimEndpoint{
			{ID: 10, ProfileID: 0x0104, DeviceID: 0x0100, InClusters: []uint16{0x0000, 0x0003, 0x0006}},
		},
	})

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(sim, db, registry, descs, events, coordinator.Config{
		ConfigureAttempts:   1,
		ConfigureBackoff:    time.Millisecond,
		InterviewRetryDelay: time.Millisecond,
	}, logger)
	if err := coord.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(coord.Stop)

	srv := NewServer(coord, logger, opts...)
	t.Cleanup(srv.Stop)

	return &testEnv{srv: srv, db: db, sim: sim, coord: coord}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

// pair announces the simulated light and waits for pairing to finish.
func (e *testEnv) pair(t *testing.T) {
	t.Helper()
	if err := e.sim.Announce(lightShort); err != nil {
		t.Fatal(err)
	}
	e.coord.Devices().Wait()
}

func seedDevice(t *testing.T, db *store.BoltStore, ieee string, short uint16) {
	t.Helper()
	if err := db.SaveDevice(&store.Device{
		IEEEAddress:  ieee,
		ShortAddress: short,
		Manufacturer: "Test",
		Model:        "TestModel",
		Interviewed:  true,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestAPIListDevices(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("GET", "/api/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty list body = %s", got)
	}

	seedDevice(t, env.db, "00158D00012A3B4C", 0x1234)
	seedDevice(t, env.db, "00158D00012A3B4D", 0x1235)

	w = env.do("GET", "/api/devices", "")
	var devices []store.Device
	if err := json.NewDecoder(w.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Errorf("device count = %d, want 2", len(devices))
	}
}

func TestAPIGetDevice(t *testing.T) {
	env := setupTestServer(t)
	seedDevice(t, env.db, "00158D00012A3B4C", 0x1234)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"canonical", "/api/devices/00158D00012A3B4C", http.StatusOK},
		{"lowercase with colons", "/api/devices/00:15:8d:00:01:2a:3b:4c", http.StatusOK},
		{"not found", "/api/devices/FFFFFFFFFFFFFFFF", http.StatusNotFound},
		{"invalid", "/api/devices/not-an-ieee", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", tt.path, "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var dev store.Device
			if err := json.NewDecoder(w.Body).Decode(&dev); err != nil {
				t.Fatal(err)
			}
			if dev.IEEEAddress != "00158D00012A3B4C" {
				t.Errorf("ieee = %q", dev.IEEEAddress)
			}
		})
	}
}

func TestAPIDeleteDevice(t *testing.T) {
	env := setupTestServer(t)
	env.pair(t)

	w := env.do("DELETE", "/api/devices/"+lightIEEE, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if _, err := env.db.GetDevice(lightIEEE); err == nil {
		t.Error("expected device to be deleted")
	}
	if n := len(env.sim.RequestsOf(ncp.KindUnbind)); n != 1 {
		t.Errorf("unbind requests = %d, want 1", n)
	}

	w = env.do("DELETE", "/api/devices/"+lightIEEE, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIListAttempts(t *testing.T) {
	env := setupTestServer(t)
	env.pair(t)

	w := env.do("GET", "/api/devices/"+lightIEEE+"/attempts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var attempts []store.Attempt
	if err := json.NewDecoder(w.Body).Decode(&attempts); err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || !attempts[0].OK() || attempts[0].Descriptor != "M5NanoC6-Light" {
		t.Errorf("attempts = %+v", attempts)
	}

	w = env.do("GET", "/api/devices/FFFFFFFFFFFFFFFF/attempts", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIReconfigure(t *testing.T) {
	env := setupTestServer(t)
	env.pair(t)

	w := env.do("POST", "/api/devices/"+lightIEEE+"/reconfigure", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if n := len(env.sim.RequestsOf(ncp.KindConfigureReporting)); n != 2 {
		t.Errorf("configure reporting requests = %d, want 2", n)
	}

	env.sim.FailNext(ncp.KindBind, lightShort, ncp.ErrTimeout)
	w = env.do("POST", "/api/devices/"+lightIEEE+"/reconfigure", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("bind failure: status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if n := len(env.sim.RequestsOf(ncp.KindConfigureReporting)); n != 2 {
		t.Errorf("reporting issued after failed bind: %d requests", n)
	}
}

func TestAPIReconfigureErrors(t *testing.T) {
	env := setupTestServer(t)
	seedDevice(t, env.db, "00158D00012A3B4C", 0x1234)
	if err := env.db.SaveDevice(&store.Device{IEEEAddress: "00158D00012A3B4D", ShortAddress: 0x1235}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ieee string
		want int
	}{
		{"unknown device", "FFFFFFFFFFFFFFFF", http.StatusNotFound},
		{"no descriptor", "00158D00012A3B4C", http.StatusConflict},
		{"not interviewed", "00158D00012A3B4D", http.StatusConflict},
		{"invalid ieee", "xyz", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/api/devices/"+tt.ieee+"/reconfigure", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIReadAttributes(t *testing.T) {
	env := setupTestServer(t)
	seedDevice(t, env.db, lightIEEE, lightShort)

	body := `{"endpoint": 10, "cluster_id": 0, "attr_ids": [5]}`
	w := env.do("POST", "/api/devices/"+lightIEEE+"/read", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var results []coordinator.AttributeResult
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Value != "ESP32C6.Light" {
		t.Errorf("results = %+v", results)
	}

	env.sim.SetReachable(lightShort, false)
	w = env.do("POST", "/api/devices/"+lightIEEE+"/read", body)
	if w.Code != http.StatusBadGateway {
		t.Errorf("unreachable: status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestAPIReadAttributesValidation(t *testing.T) {
	env := setupTestServer(t)
	seedDevice(t, env.db, "00158D00012A3B4C", 0x1234)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"empty attr_ids", `{"endpoint":1,"cluster_id":6,"attr_ids":[]}`, http.StatusBadRequest},
		{"too many attr_ids", `{"endpoint":1,"cluster_id":6,"attr_ids":[` + repeatN("1", 51) + `]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/api/devices/00158D00012A3B4C/read", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIListDescriptors(t *testing.T) {
	env := setupTestServer(t)

	w := env.do("GET", "/api/descriptors", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var infos []descriptor.Info
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("descriptor count = %d, want 1", len(infos))
	}
	got := infos[0]
	if got.ZigbeeModel != "ESP32C6.Light" || got.Manufacturer != "Espressif" || got.Endpoint != 10 || got.Profile != "switch" {
		t.Errorf("descriptor = %+v", got)
	}
}

func TestAPIListClusters(t *testing.T) {
	env := setupTestServer(t)
	w := env.do("GET", "/api/clusters", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIVersion(t *testing.T) {
	env := setupTestServer(t, WithVersion("1.2.3"))
	w := env.do("GET", "/api/version", "")
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}

func TestAPISimulate(t *testing.T) {
	env := setupTestServer(t)
	if w := env.do("POST", "/api/simulate/0x3A7C/announce", ""); w.Code != http.StatusNotFound {
		t.Fatalf("without simulator: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	env.srv = NewServer(env.coord, slog.New(slog.NewTextHandler(io.Discard, nil)), WithSimulator(env.sim))
	t.Cleanup(env.srv.Stop)

	w := env.do("POST", "/api/simulate/0x3A7C/announce", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("announce: status = %d, want %d, body = %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	env.coord.Devices().Wait()

	dev, err := env.db.GetDevice(lightIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if !dev.Configured || dev.Descriptor != "M5NanoC6-Light" {
		t.Errorf("device after announce = %+v", dev)
	}

	if w := env.do("POST", "/api/simulate/14972/leave", ""); w.Code != http.StatusOK {
		t.Errorf("leave: status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, err := env.db.GetDevice(lightIEEE); err == nil {
		t.Error("device still stored after leave")
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/simulate/0x3A7C/leave", http.StatusNotFound},
		{"/api/simulate/0x1234/announce", http.StatusNotFound},
		{"/api/simulate/0x10000/announce", http.StatusBadRequest},
		{"/api/simulate/light/announce", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := env.do("POST", tt.path, ""); w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestServer(t, WithAPIKey("secret-key"))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct key", "secret-key", http.StatusOK},
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "wrong-key", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/devices", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			env.srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	env := setupTestServer(t, WithAllowedOrigins([]string{"http://ui.local"}))

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"preflight allowed", http.MethodOptions, "http://ui.local", http.StatusNoContent},
		{"preflight denied", http.MethodOptions, "http://evil.local", http.StatusForbidden},
		{"mutating denied", http.MethodDelete, "http://evil.local", http.StatusForbidden},
		{"read from any origin", http.MethodGet, "http://evil.local", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/devices"
			if tt.method == http.MethodDelete {
				path = "/api/devices/" + lightIEEE
			}
			req := httptest.NewRequest(tt.method, path, bytes.NewReader(nil))
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			env.srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func repeatN(s string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s
	}
	return strings.Join(parts, ",")
}
