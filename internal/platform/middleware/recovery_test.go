package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperr"
)

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	logger, buf := captureLogger()
	c, _ := newTestContext(http.MethodPost, "/api/v1/visits")
	c.Set("request_id", "req-panic")

	err := Recovery(logger)(func(echo.Context) error {
		panic("nil bill")
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", he.Code)
	}
	body, ok := he.Message.(apperr.Response)
	if !ok {
		t.Fatalf("message is %T, want apperr.Response", he.Message)
	}
	if body.Code != apperr.CodeInternal {
		t.Errorf("code = %q, want %q", body.Code, apperr.CodeInternal)
	}

	line := decodeLogLine(t, buf)
	if line["level"] != "error" || line["panic"] != "nil bill" || line["request_id"] != "req-panic" {
		t.Errorf("unexpected panic log: %v", line)
	}
	if s, _ := line["stack"].(string); !strings.Contains(s, "goroutine") {
		t.Errorf("stack not logged: %q", s)
	}
}

func TestRecovery_ServedBody(t *testing.T) {
	logger, _ := captureLogger()
	e := echo.New()
	e.Use(Recovery(logger))
	e.GET("/boom", func(echo.Context) error { panic("index out of range") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body apperr.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if strings.Contains(rec.Body.String(), "index out of range") {
		t.Error("panic value leaked into response body")
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	logger, buf := captureLogger()
	c, rec := newTestContext(http.MethodGet, "/api/v1/visits/queue")

	if err := Recovery(logger)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %q", buf.String())
	}
}
