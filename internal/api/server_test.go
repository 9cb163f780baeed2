package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/lwaudit/internal/audit"
	"github.com/nerrad567/lwaudit/internal/infrastructure/config"
	"github.com/nerrad567/lwaudit/internal/infrastructure/logging"
	"github.com/nerrad567/lwaudit/internal/monitor"
)

type fakeDevices []monitor.DeviceStatus

func (f fakeDevices) Devices() []monitor.DeviceStatus { return f }

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }
func (f fakeDB) Stats() sql.DBStats {
	return sql.DBStats{OpenConnections: 1, Idle: 1}
}

type fakeMQTT bool

func (f fakeMQTT) IsConnected() bool { return bool(f) }

// testServer creates a Server with a live view of 10 records and two devices.
// mutate may adjust the dependencies before New is called.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test"),
		LiveView: audit.NewLiveView(10),
		Devices: fakeDevices{
			{Address: "10.0.0.5", Status: monitor.StatusConnected, Since: time.Now()},
			{Address: "10.0.0.6", Status: monitor.StatusConnectFailed, Since: time.Now(), Error: "refused"},
		},
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

// setupHistory creates an in-memory repository with the audit_records schema.
func setupHistory(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE audit_records (
			id TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}
	t.Cleanup(func() { db.Close() })

	return audit.NewSQLiteRepository(db)
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func record(device, message string) audit.Record {
	return audit.Record{Time: time.Now(), Level: audit.LevelInfo, Device: device, Message: message}
}

// ─── Constructor ───────────────────────────────────────────────────

func TestNew_RequiredDeps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no live view", func(d *Deps) { d.LiveView = nil }},
		{"no devices", func(d *Deps) { d.Devices = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Deps{
				Logger:   logging.Default(),
				LiveView: audit.NewLiveView(1),
				Devices:  fakeDevices{},
			}
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, w, &resp)

	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Checks["database"] != "disabled" {
		t.Errorf("database check = %q, want disabled", resp.Checks["database"])
	}
	if _, ok := resp.Checks["mqtt"]; ok {
		t.Error("mqtt check reported without an MQTT client")
	}
}

func TestHealth_Dependencies(t *testing.T) {
	tests := []struct {
		name       string
		db         Database
		mqtt       ConnectionReporter
		wantCode   int
		wantStatus string
		wantDB     string
		wantMQTT   string
	}{
		{"healthy", fakeDB{}, fakeMQTT(true), http.StatusOK, "ok", "ok", "connected"},
		{"mqtt down", fakeDB{}, fakeMQTT(false), http.StatusOK, "ok", "ok", "disconnected"},
		{"database failing", fakeDB{err: errors.New("locked")}, fakeMQTT(true), http.StatusServiceUnavailable, "degraded", "error", "connected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) {
				d.Database = tt.db
				d.MQTT = tt.mqtt
			})
			w := get(t, srv, "/api/v1/health")

			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			decode(t, w, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Checks["database"] != tt.wantDB {
				t.Errorf("database = %q, want %q", resp.Checks["database"], tt.wantDB)
			}
			if resp.Checks["mqtt"] != tt.wantMQTT {
				t.Errorf("mqtt = %q, want %q", resp.Checks["mqtt"], tt.wantMQTT)
			}
		})
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/health")

	if got := w.Header().Get("X-Request-ID"); len(got) != 2*requestIDBytes {
		t.Errorf("X-Request-ID = %q, want %d hex characters", got, 2*requestIDBytes)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://studio.local"}
	})

	tests := []struct {
		name      string
		method    string
		origin    string
		wantCode  int
		wantAllow string
	}{
		{"preflight allowed", http.MethodOptions, "http://studio.local", http.StatusNoContent, "http://studio.local"},
		{"preflight denied", http.MethodOptions, "http://evil.example", http.StatusNoContent, ""},
		{"get allowed", http.MethodGet, "http://studio.local", http.StatusOK, "http://studio.local"},
		{"get denied", http.MethodGet, "http://evil.example", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORS_EmptyListAllowsAll(t *testing.T) {
	srv := testServer(t, nil)
	if !srv.isAllowedOrigin("http://anything") {
		t.Error("empty allow list rejected an origin")
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, nil)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", w.Code)
	}
	var resp Error
	decode(t, w, &resp)
	if resp.Code != ErrCodeInternal {
		t.Errorf("error code = %q, want %q", resp.Code, ErrCodeInternal)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/nope")

	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
	var resp Error
	decode(t, w, &resp)
	if resp.Code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

// ─── Records and History ───────────────────────────────────────────

func TestListRecords(t *testing.T) {
	srv := testServer(t, nil)
	for _, msg := range []string{"first", "second", "third"} {
		if err := srv.liveView.WriteRecord(record("10.0.0.5", msg)); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}

	w := get(t, srv, "/api/v1/records")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}

	var resp struct {
		Records  []audit.Record `json:"records"`
		Count    int            `json:"count"`
		Capacity int            `json:"capacity"`
	}
	decode(t, w, &resp)

	if resp.Count != 3 || len(resp.Records) != 3 {
		t.Fatalf("count = %d (%d records), want 3", resp.Count, len(resp.Records))
	}
	if resp.Capacity != 10 {
		t.Errorf("capacity = %d, want 10", resp.Capacity)
	}
	if resp.Records[0].Message != "first" || resp.Records[2].Message != "third" {
		t.Errorf("records out of order: %+v", resp.Records)
	}
}

func TestListRecords_Empty(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/records")

	if !strings.Contains(w.Body.String(), `"records":[]`) {
		t.Errorf("body = %s, want empty records array", w.Body.String())
	}
}

func TestListHistory_Disabled(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/history")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
	var resp Error
	decode(t, w, &resp)
	if resp.Code != ErrCodeUnavailable {
		t.Errorf("error code = %q, want %q", resp.Code, ErrCodeUnavailable)
	}
}

func TestListHistory(t *testing.T) {
	repo := setupHistory(t)
	srv := testServer(t, func(d *Deps) { d.History = repo })

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed := []audit.Record{
		{Time: base, Level: audit.LevelInfo, Device: audit.SystemLabel, Message: "Start the Livewire Audit Logger"},
		{Time: base.Add(time.Minute), Level: audit.LevelWarning, Device: "10.0.0.5", Message: "Cannot connect to LWRP"},
		{Time: base.Add(2 * time.Minute), Level: audit.LevelInfo, Device: "10.0.0.6", Message: "GPI Port 1 State Change: lL"},
		{Time: base.Add(3 * time.Minute), Level: audit.LevelInfo, Device: "10.0.0.6", Message: "GPI Port 1 State Change: LL"},
	}
	for _, rec := range seed {
		if _, err := repo.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	tests := []struct {
		name      string
		query     string
		wantTotal int
		wantFirst string
		wantLen   int
	}{
		{"all newest first", "", 4, "GPI Port 1 State Change: LL", 4},
		{"by device", "?device=10.0.0.6", 2, "GPI Port 1 State Change: LL", 2},
		{"by level any case", "?level=warning", 1, "Cannot connect to LWRP", 1},
		{"paged", "?limit=1&offset=1", 4, "GPI Port 1 State Change: lL", 1},
		{"since", "?since=2026-03-01T09:02:00Z", 2, "GPI Port 1 State Change: LL", 2},
		{"until", "?until=2026-03-01T09:01:00Z", 1, "Start the Livewire Audit Logger", 1},
		{"no match", "?device=10.9.9.9", 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, srv, "/api/v1/history"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("code = %d, want 200: %s", w.Code, w.Body.String())
			}

			var resp audit.ListResult
			decode(t, w, &resp)
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
			if len(resp.Records) != tt.wantLen {
				t.Fatalf("records = %d, want %d", len(resp.Records), tt.wantLen)
			}
			if tt.wantLen > 0 && resp.Records[0].Message != tt.wantFirst {
				t.Errorf("first = %q, want %q", resp.Records[0].Message, tt.wantFirst)
			}
		})
	}
}

func TestListHistory_BadParams(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.History = setupHistory(t) })

	for _, query := range []string{
		"?level=DEBUG",
		"?limit=abc",
		"?limit=-1",
		"?offset=-5",
		"?since=yesterday",
		"?until=2026-03-01",
		"?device=" + strings.Repeat("x", maxQueryParamLen+1),
	} {
		t.Run(query, func(t *testing.T) {
			w := get(t, srv, "/api/v1/history"+query)
			if w.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", w.Code)
			}
		})
	}
}

type failingHistory struct{}

func (failingHistory) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return nil, errors.New("disk I/O error")
}

func TestListHistory_QueryFailure(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.History = failingHistory{} })
	w := get(t, srv, "/api/v1/history")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "disk I/O") {
		t.Error("internal error detail leaked to client")
	}
}

// ─── Devices and Metrics ───────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/devices")

	var resp struct {
		Devices   []monitor.DeviceStatus `json:"devices"`
		Count     int                    `json:"count"`
		Connected int                    `json:"connected"`
	}
	decode(t, w, &resp)

	if resp.Count != 2 || resp.Connected != 1 {
		t.Errorf("count = %d connected = %d, want 2 and 1", resp.Count, resp.Connected)
	}
	if resp.Devices[1].Error != "refused" {
		t.Errorf("device error = %q, want refused", resp.Devices[1].Error)
	}
}

func TestMetrics(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Database = fakeDB{}
		d.MQTT = fakeMQTT(true)
	})
	if err := srv.liveView.WriteRecord(record("10.0.0.5", "x")); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	w := get(t, srv, "/api/v1/metrics")
	var m SystemMetrics
	decode(t, w, &m)

	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if m.Devices.Total != 2 || m.Devices.ByStatus["connected"] != 1 || m.Devices.ByStatus["connect_failed"] != 1 {
		t.Errorf("devices = %+v", m.Devices)
	}
	if m.LiveView.Records != 1 || m.LiveView.Capacity != 10 {
		t.Errorf("live view = %+v", m.LiveView)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v, want connected", m.MQTT)
	}
	if m.Database == nil || m.Database.OpenConnections != 1 {
		t.Errorf("database = %+v", m.Database)
	}
}

func TestMetrics_OptionalSectionsOmitted(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/metrics")

	body := w.Body.String()
	if strings.Contains(body, `"mqtt"`) || strings.Contains(body, `"database"`) {
		t.Errorf("optional sections present: %s", body)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start = nil, want error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() = nil, want error")
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck(cancelled) = nil, want error")
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck after Close = nil, want error")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := testServer(t, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { first.Close() })

	second := testServer(t, func(d *Deps) {
		d.Config.Port = first.Addr().(*net.TCPAddr).Port
	})
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("Start() on a bound port = nil, want error")
	}
}
