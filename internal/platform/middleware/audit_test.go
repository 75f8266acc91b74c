package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/whiskr/whiskr/internal/platform/auth"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error // if set, RecordAccess returns this error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// newTestContext creates an echo context with optional request mutations.
func newTestContext(method, path string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func withAuth(userID, accountRole, clinicRole string) func(*http.Request) {
	return func(req *http.Request) {
		ctx := req.Context()
		ctx = context.WithValue(ctx, auth.UserIDKey, userID)
		ctx = context.WithValue(ctx, auth.AccountRoleKey, accountRole)
		ctx = context.WithValue(ctx, auth.ClinicRoleKey, clinicRole)
		*req = *req.WithContext(ctx)
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_PatientRead(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{}
	patientID := uuid.NewString()

	c, _ := newTestContext(http.MethodGet,
		fmt.Sprintf("/api/patients/%s", patientID),
		withAuth("user-1", auth.RoleStandard, auth.RoleVet))
	c.Set("request_id", "req-123")
	c.Set("effective_clinic_id", "clinic-9")

	h := Audit(logger, recorder)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if recorder.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", recorder.count())
	}
	entry := recorder.last()
	if entry.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", entry.UserID)
	}
	if entry.Action != "read" {
		t.Errorf("expected action read, got %s", entry.Action)
	}
	if entry.Resource != "patients" {
		t.Errorf("expected resource patients, got %s", entry.Resource)
	}
	if entry.PatientID != patientID {
		t.Errorf("expected patient id %s, got %s", patientID, entry.PatientID)
	}
	if entry.ClinicID != "clinic-9" {
		t.Errorf("expected clinic-9, got %s", entry.ClinicID)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected req-123, got %s", entry.RequestID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", entry.StatusCode)
	}
	if entry.ViewAs {
		t.Error("expected view_as to be false")
	}
}

func TestAudit_ConsultCreate(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{}

	c, _ := newTestContext(http.MethodPost, "/api/consults",
		withAuth("user-2", auth.RoleStandard, auth.RoleVet))

	h := Audit(logger, recorder)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := recorder.last()
	if entry.Action != "create" {
		t.Errorf("expected action create, got %s", entry.Action)
	}
	if entry.Resource != "consults" {
		t.Errorf("expected resource consults, got %s", entry.Resource)
	}
}

func TestAudit_ViewAsFlagged(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{}

	c, _ := newTestContext(http.MethodGet, "/api/patients",
		withAuth("root-user", auth.RoleSuperAdmin, ""))
	c.Set("view_as", true)

	h := Audit(logger, recorder)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := recorder.last()
	if !entry.ViewAs {
		t.Error("expected view_as to be recorded")
	}
	if entry.AccountRole != auth.RoleSuperAdmin {
		t.Errorf("expected super_admin, got %s", entry.AccountRole)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{}

	for _, path := range []string{"/health", "/health/db", "/metrics", "/ws"} {
		c, _ := newTestContext(http.MethodGet, path)
		h := Audit(logger, recorder)(okHandler)
		if err := h(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if recorder.count() != 0 {
		t.Errorf("expected no entries for non-API paths, got %d", recorder.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	recorder := &mockRecorder{err: fmt.Errorf("sink unavailable")}

	c, rec := newTestContext(http.MethodGet, "/api/patients",
		withAuth("user-1", auth.RoleStandard, auth.RoleVet))

	h := Audit(logger, recorder)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAudit_NoRecorderLogsOnly(t *testing.T) {
	logger := zerolog.New(os.Stderr)

	c, rec := newTestContext(http.MethodDelete, "/api/messages/abc")
	h := Audit(logger)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{http.MethodGet, "read"},
		{http.MethodHead, "read"},
		{http.MethodPost, "create"},
		{http.MethodPut, "update"},
		{http.MethodPatch, "update"},
		{http.MethodDelete, "delete"},
		{"OPTIONS", "read"},
	}
	for _, tt := range tests {
		if got := httpMethodToAction(tt.method); got != tt.want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", tt.method, got, tt.want)
		}
	}
}

func TestIsAuditablePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/patients", true},
		{"/api/consults/123", true},
		{"/api/auth/login", true},
		{"/health", false},
		{"/metrics", false},
		{"/ws", false},
		{"/api", false}, // no trailing slash
	}
	for _, tt := range tests {
		if got := isAuditablePath(tt.path); got != tt.want {
			t.Errorf("isAuditablePath(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExtractResource(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/patients", "patients"},
		{"/api/patients/123", "patients"},
		{"/api/consults/123/generate", "consults"},
		{"/api/", "unknown"},
	}
	for _, tt := range tests {
		if got := extractResource(tt.path); got != tt.want {
			t.Errorf("extractResource(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestExtractPatientID(t *testing.T) {
	patientUUID := uuid.NewString()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"patient path", fmt.Sprintf("/api/patients/%s", patientUUID), patientUUID},
		{"patient subresource", fmt.Sprintf("/api/patients/%s/consults", patientUUID), patientUUID},
		{"query param", "/api/consults?patient_id=p-123", "p-123"},
		{"no patient", "/api/messages", ""},
		{"non-uuid path segment", "/api/patients/search", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodGet, tt.path)
			if got := extractPatientID(c); got != tt.want {
				t.Errorf("extractPatientID(%s) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}
