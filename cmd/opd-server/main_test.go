package main

import (
	"bytes"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/opd/internal/config"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/internal/platform/websocket"
)

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:           "8000",
		Env:            env,
		AuthIssuer:     "opd-core",
		AuthSigningKey: strings.Repeat("k", 32),
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		RequestTimeout: 5 * time.Second,
		QueueTopic:     "opd.queue",
		EventsChannel:  "opd:events",
	}
}

func newTestServer(env string) *server {
	cfg := testConfig(env)
	return newServer(cfg, nil, websocket.NewHub(), nil, []byte(cfg.AuthSigningKey), zerolog.Nop())
}

func TestNewServer_RegistersRoutes(t *testing.T) {
	srv := newTestServer("production")

	got := map[string]bool{}
	for _, r := range srv.echo.Routes() {
		got[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /health",
		"GET /health/db",
		"GET /ws",
		"POST /api/v1/visits",
		"GET /api/v1/visits/queue",
		"PATCH /api/v1/visits/:id/status",
		"POST /api/v1/visits/queue/call-next",
		"GET /api/v1/visits/:id/status-history",
		"POST /api/v1/opd-bills",
		"POST /api/v1/opd-bills/preview",
		"PATCH /api/v1/opd-bills/:id",
		"POST /api/v1/opd-bills/:id/payments",
		"GET /api/v1/opd-bills/:id/payments",
		"POST /api/v1/procedures",
		"POST /api/v1/packages",
		"PATCH /api/v1/packages/:id",
	}
	for _, route := range want {
		if !got[route] {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestNewServer_Health(t *testing.T) {
	srv := newTestServer("production")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on response")
	}
}

func TestNewServer_APIRequiresToken(t *testing.T) {
	srv := newTestServer("production")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits/queue", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestNewServer_HubIsDefaultPublisher(t *testing.T) {
	srv := newTestServer("development")
	if srv.hub == nil || srv.visit == nil || srv.bill == nil || srv.pkg == nil {
		t.Fatal("server not fully wired")
	}
}

func TestMigrationsFS_Embedded(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS(""), "001_opd.sql")
	if err != nil {
		t.Fatalf("embedded migration missing: %v", err)
	}
	if !strings.Contains(string(data), "CREATE TABLE") {
		t.Error("embedded migration has no tables")
	}
}

func TestMigrationsFS_Dir(t *testing.T) {
	if _, err := fs.ReadFile(migrationsFS("../../migrations"), "001_opd.sql"); err != nil {
		t.Fatalf("expected migration from directory: %v", err)
	}
}

func TestResolveSigningKey(t *testing.T) {
	key, random, err := resolveSigningKey("configured-key")
	if err != nil || random || string(key) != "configured-key" {
		t.Fatalf("got %q, %v, %v", key, random, err)
	}

	a, random, err := resolveSigningKey("")
	if err != nil || !random || len(a) != 32 {
		t.Fatalf("expected random 32-byte key, got %d bytes, %v, %v", len(a), random, err)
	}
	b, _, _ := resolveSigningKey("")
	if bytes.Equal(a, b) {
		t.Error("random keys should differ")
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "opd", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "indexes"},
	})

	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-03-01T08:00:00Z") {
		t.Errorf("applied row missing: %s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("pending row missing: %s", out)
	}
}

func TestNewLogger_Development(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("development", &buf)
	l.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("development logger should not write JSON: %s", buf.String())
	}

	buf.Reset()
	l = newLogger("production", &buf)
	l.Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("production logger should write JSON: %s", buf.String())
	}
}
