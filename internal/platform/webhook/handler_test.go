package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
)

func newHookHandler() (*Handler, *Dispatcher) {
	d, _ := newTestDispatcher()
	return NewHandler(d), d
}

func hookCtx(clinicID uuid.UUID) context.Context {
	ctx := context.WithValue(context.Background(), db.ClinicIDKey, clinicID)
	return context.WithValue(ctx, auth.UserIDKey, uuid.NewString())
}

// callHook runs a handler with a JSON body and a clinic-scoped request
// context, since every route reads the clinic from it.
func callHook(e *echo.Echo, h echo.HandlerFunc, method string, payload any, paramID string, clinicID uuid.UUID) (*httptest.ResponseRecorder, error) {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, "/", &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(hookCtx(clinicID))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if paramID != "" {
		c.SetParamNames("id")
		c.SetParamValues(paramID)
	}
	return rec, h(c)
}

func TestCreateEndpointHandler(t *testing.T) {
	h, _ := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()

	rec, err := callHook(e, h.Create, http.MethodPost, map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"consults.*"},
	}, "", clinicID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var ep Endpoint
	if err := json.Unmarshal(rec.Body.Bytes(), &ep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ep.ClinicID != clinicID {
		t.Errorf("ClinicID = %s, want %s", ep.ClinicID, clinicID)
	}
	if ep.Secret == "" {
		t.Error("create response should include the generated secret")
	}
	if ep.Status != StatusActive {
		t.Errorf("Status = %q", ep.Status)
	}
}

func TestCreateEndpointHandler_BadURL(t *testing.T) {
	h, _ := newHookHandler()
	e := echo.New()

	_, err := callHook(e, h.Create, http.MethodPost, map[string]any{"url": "ftp://example.com"}, "", uuid.New())
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGetEndpointHandler_RedactsSecret(t *testing.T) {
	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	ep := mustRegister(t, d, clinicID, "https://example.com/hook", []string{"*"})

	rec, err := callHook(e, h.Get, http.MethodGet, nil, ep.ID.String(), clinicID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var got Endpoint
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Secret != "" {
		t.Error("secret leaked in read response")
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("URL = %q", got.URL)
	}
}

func TestGetEndpointHandler_OtherClinic(t *testing.T) {
	h, d := newHookHandler()
	e := echo.New()
	ep := mustRegister(t, d, uuid.New(), "https://example.com/hook", []string{"*"})

	_, err := callHook(e, h.Get, http.MethodGet, nil, ep.ID.String(), uuid.New())
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestListEndpointsHandler(t *testing.T) {
	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	mustRegister(t, d, clinicID, "https://a.example/hook", []string{"*"})
	mustRegister(t, d, clinicID, "https://b.example/hook", []string{"*"})
	mustRegister(t, d, uuid.New(), "https://other.example/hook", []string{"*"})

	rec, err := callHook(e, h.List, http.MethodGet, nil, "", clinicID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var resp struct {
		Data  []*Endpoint `json:"data"`
		Total int         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 {
		t.Fatalf("total = %d, data = %d, want 2 and 2", resp.Total, len(resp.Data))
	}
	for _, ep := range resp.Data {
		if ep.Secret != "" {
			t.Error("secret leaked in list response")
		}
	}
}

func TestUpdateEndpointHandler(t *testing.T) {
	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	ep := mustRegister(t, d, clinicID, "https://example.com/hook", []string{"*"})

	rec, err := callHook(e, h.Update, http.MethodPut, map[string]any{
		"events": []string{"invoices.*", "payments.*"},
		"status": StatusPaused,
	}, ep.ID.String(), clinicID)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got, err := d.Endpoint(context.Background(), clinicID, ep.ID)
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if got.Status != StatusPaused {
		t.Errorf("Status = %q, want paused", got.Status)
	}
	if len(got.Events) != 2 || got.Events[0] != "invoices.*" {
		t.Errorf("Events = %v", got.Events)
	}
}

func TestUpdateEndpointHandler_InvalidStatus(t *testing.T) {
	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	ep := mustRegister(t, d, clinicID, "https://example.com/hook", []string{"*"})

	_, err := callHook(e, h.Update, http.MethodPut, map[string]any{"status": "disabled"}, ep.ID.String(), clinicID)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestDeleteEndpointHandler(t *testing.T) {
	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	ep := mustRegister(t, d, clinicID, "https://example.com/hook", []string{"*"})

	rec, err := callHook(e, h.Delete, http.MethodDelete, nil, ep.ID.String(), clinicID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, err := d.Endpoint(context.Background(), clinicID, ep.ID); err == nil {
		t.Error("endpoint still present after delete")
	}
}

func TestPingHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	ep := mustRegister(t, d, clinicID, srv.URL, []string{"*"})

	rec, err := callHook(e, h.Ping, http.MethodPost, nil, ep.ID.String(), clinicID)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	var del Delivery
	if err := json.Unmarshal(rec.Body.Bytes(), &del); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if del.Status != DeliverySuccess {
		t.Errorf("Status = %q, want success", del.Status)
	}
	if del.EventName != "webhook.ping" {
		t.Errorf("EventName = %q", del.EventName)
	}
}

func TestListDeliveriesHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, d := newHookHandler()
	e := echo.New()
	clinicID := uuid.New()
	ep := mustRegister(t, d, clinicID, srv.URL, []string{"*"})
	if _, err := d.Ping(context.Background(), clinicID, ep.ID); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	rec, err := callHook(e, h.ListDeliveries, http.MethodGet, nil, ep.ID.String(), clinicID)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	var resp struct {
		Data  []*Delivery `json:"data"`
		Total int         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Fatalf("total = %d, data = %d, want 1 and 1", resp.Total, len(resp.Data))
	}
}

func TestRetryHandler_NotFound(t *testing.T) {
	h, _ := newHookHandler()
	e := echo.New()

	_, err := callHook(e, h.Retry, http.MethodPost, nil, uuid.NewString(), uuid.New())
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
