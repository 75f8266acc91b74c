package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func testIssuer() *Issuer {
	return NewIssuer("test-secret-key-for-unit-tests-only", "whiskr", time.Hour)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/patients")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	h := Middleware(testIssuer())(handler)
	err := h(c)

	if err == nil {
		t.Fatal("expected error for missing header")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath("/api/patients")

			handler := func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			}

			h := Middleware(testIssuer())(handler)
			err := h(c)

			if err == nil {
				t.Fatal("expected error for invalid format")
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", httpErr.Code)
			}
		})
	}
}

func TestMiddleware_ValidToken(t *testing.T) {
	iss := testIssuer()
	userID := uuid.New()
	clinicID := uuid.New()

	tokenStr, err := iss.Mint(userID, RoleStandard, clinicID, RoleVet, uuid.New())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/patients")

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := UserIDFromContext(ctx); got != userID.String() {
			t.Errorf("expected user id %s, got %s", userID, got)
		}
		if got := AccountRoleFromContext(ctx); got != RoleStandard {
			t.Errorf("expected account role standard, got %s", got)
		}
		if got := ClinicRoleFromContext(ctx); got != RoleVet {
			t.Errorf("expected clinic role vet, got %s", got)
		}
		if got, _ := c.Get("clinic_id").(string); got != clinicID.String() {
			t.Errorf("expected clinic_id %s, got %s", clinicID, got)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := Middleware(iss)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	expired := NewIssuer("test-secret-key-for-unit-tests-only", "whiskr", -time.Hour)
	tokenStr, err := expired.Mint(uuid.New(), RoleStandard, uuid.New(), RoleVet, uuid.New())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/patients")

	handler := func(c echo.Context) error {
		t.Error("handler must not run for expired token")
		return nil
	}

	if err := Middleware(testIssuer())(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session_expired") {
		t.Errorf("expected session_expired code in body, got %s", rec.Body.String())
	}
}

func TestMiddleware_GarbageToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/patients")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	err := Middleware(testIssuer())(handler)(c)
	if err == nil {
		t.Fatal("expected error for garbage token")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestMiddleware_PublicPathSkipsAuth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/auth/login")

	var handlerCalled bool
	handler := func(c echo.Context) error {
		handlerCalled = true
		return c.String(http.StatusOK, "ok")
	}

	if err := Middleware(testIssuer())(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("handler was not called on public path")
	}
}
