package visit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/opd/internal/platform/apperr"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func expectHTTPError(t *testing.T, err error, status int, code string) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != status {
		t.Errorf("expected %d, got %d", status, he.Code)
	}
	if body, ok := he.Message.(apperr.Response); !ok || body.Code != code {
		t.Errorf("expected code %s, got %+v", code, he.Message)
	}
}

func TestHandler_CreateVisit(t *testing.T) {
	h, e := newTestHandler()

	body := `{"patient_id":"` + uuid.New().String() + `","visit_type":"emergency","chief_complaint":"fever"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateVisit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if rec.Header().Get("ETag") != `W/"1"` {
		t.Errorf("unexpected ETag %q", rec.Header().Get("ETag"))
	}

	var v Visit
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.Status != StatusWaiting || v.VisitType != TypeEmergency {
		t.Errorf("unexpected visit %+v", v)
	}
	if v.ChiefComplaint == nil || *v.ChiefComplaint != "fever" {
		t.Error("chief complaint not stored")
	}
}

func TestHandler_CreateVisit_BadRequest(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", strings.NewReader(`{"visit_type":"new"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	expectHTTPError(t, h.CreateVisit(c), http.StatusBadRequest, apperr.CodeInvalidInput)
}

func TestHandler_GetVisit_AllowedTransitions(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	v := createWaiting(t, svc)

	get := func() Detail {
		t.Helper()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/visits/"+v.ID.String(), nil), rec)
		c.SetParamNames("id")
		c.SetParamValues(v.ID.String())
		if err := h.GetVisit(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var d Detail
		if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return d
	}

	d := get()
	if d.Visit == nil || d.ID != v.ID || d.Status != StatusWaiting {
		t.Fatalf("unexpected visit %+v", d.Visit)
	}
	want := AllowedTransitions(StatusWaiting)
	if len(d.AllowedTransitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, d.AllowedTransitions)
	}
	for i := range want {
		if d.AllowedTransitions[i] != want[i] {
			t.Errorf("expected %v, got %v", want, d.AllowedTransitions)
		}
	}

	if _, err := svc.TransitionVisit(context.Background(), v.ID, string(StatusCancelled), nil, "desk"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	d = get()
	if d.AllowedTransitions == nil || len(d.AllowedTransitions) != 0 {
		t.Errorf("cancelled visit should list no transitions, got %v", d.AllowedTransitions)
	}
}

func TestHandler_GetVisit_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectHTTPError(t, h.GetVisit(c), http.StatusNotFound, apperr.CodeNotFound)
}

func TestHandler_GetVisit_InvalidID(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	expectHTTPError(t, h.GetVisit(c), http.StatusBadRequest, apperr.CodeInvalidInput)
}

func patchStatus(t *testing.T, h *Handler, e *echo.Echo, id uuid.UUID, body, ifMatch string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return rec, h.UpdateStatus(c)
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, e := newTestHandler()
	v, _ := h.svc.CreateVisit(context.Background(), CreateRequest{PatientID: uuid.New()})

	rec, err := patchStatus(t, h, e, v.ID, `{"status":"called"}`, `W/"1"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got Visit
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCalled || got.VersionID != 2 {
		t.Errorf("unexpected visit %s v%d", got.Status, got.VersionID)
	}
	if rec.Header().Get("ETag") != `W/"2"` {
		t.Errorf("unexpected ETag %q", rec.Header().Get("ETag"))
	}
}

func TestHandler_UpdateStatus_Errors(t *testing.T) {
	h, e := newTestHandler()
	v, _ := h.svc.CreateVisit(context.Background(), CreateRequest{PatientID: uuid.New()})

	_, err := patchStatus(t, h, e, v.ID, `{"status":"called"}`, `"9"`)
	expectHTTPError(t, err, http.StatusConflict, apperr.CodeConflict)

	_, err = patchStatus(t, h, e, v.ID, `{"status":"called","version":9}`, "")
	expectHTTPError(t, err, http.StatusConflict, apperr.CodeConflict)

	_, err = patchStatus(t, h, e, v.ID, `{"status":"called"}`, "abc")
	expectHTTPError(t, err, http.StatusBadRequest, apperr.CodeInvalidInput)

	_, err = patchStatus(t, h, e, v.ID, `{"status":"completed"}`, "")
	expectHTTPError(t, err, http.StatusConflict, apperr.CodeInvalidTransition)

	_, err = patchStatus(t, h, e, v.ID, `{"status":"finished"}`, "")
	expectHTTPError(t, err, http.StatusBadRequest, apperr.CodeInvalidInput)
}

func TestHandler_GetQueue(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	a, _ := h.svc.CreateVisit(ctx, CreateRequest{PatientID: uuid.New()})
	h.svc.CreateVisit(ctx, CreateRequest{PatientID: uuid.New()})
	h.svc.TransitionVisit(ctx, a.ID, "in_consultation", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits/queue", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var q Queue
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(q.Waiting) != 1 || len(q.Called) != 0 || len(q.InConsultation) != 1 {
		t.Errorf("unexpected queue %d/%d/%d", len(q.Waiting), len(q.Called), len(q.InConsultation))
	}
	if !strings.Contains(rec.Body.String(), `"called":[]`) {
		t.Error("empty buckets should render as []")
	}
}

func TestHandler_GetQueue_BadDoctor(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits/queue?doctor_id=xyz", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	expectHTTPError(t, h.GetQueue(c), http.StatusBadRequest, apperr.CodeInvalidInput)
}

func TestHandler_CallNext(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits/queue/call-next", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	expectHTTPError(t, h.CallNext(c), http.StatusNotFound, apperr.CodeNotFound)

	v, _ := h.svc.CreateVisit(context.Background(), CreateRequest{PatientID: uuid.New()})
	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/visits/queue/call-next", nil), rec)
	if err := h.CallNext(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Visit
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != v.ID || got.Status != StatusCalled {
		t.Errorf("unexpected visit %s %s", got.ID, got.Status)
	}
}

func TestHandler_ListVisits(t *testing.T) {
	h, e := newTestHandler()
	h.svc.CreateVisit(context.Background(), CreateRequest{PatientID: uuid.New()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits?status=waiting&date=2024-03-01", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListVisits(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/visits?status=lost", nil), httptest.NewRecorder())
	expectHTTPError(t, h.ListVisits(c), http.StatusBadRequest, apperr.CodeInvalidInput)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/visits?date=03/01/2024", nil), httptest.NewRecorder())
	expectHTTPError(t, h.ListVisits(c), http.StatusBadRequest, apperr.CodeInvalidInput)
}

func TestHandler_GetStatusHistory(t *testing.T) {
	h, e := newTestHandler()
	v, _ := h.svc.CreateVisit(context.Background(), CreateRequest{PatientID: uuid.New()})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())

	if err := h.GetStatusHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST:/api/v1/visits":                   false,
		"GET:/api/v1/visits":                    false,
		"GET:/api/v1/visits/:id":                false,
		"PATCH:/api/v1/visits/:id/status":       false,
		"GET:/api/v1/visits/queue":              false,
		"POST:/api/v1/visits/queue/call-next":   false,
		"GET:/api/v1/visits/:id/status-history": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
