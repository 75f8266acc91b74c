package clinic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequireActiveSubscription(t *testing.T) {
	e := echo.New()
	_, svc := newTestHandler()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	mw := RequireActiveSubscription(svc)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := clinicContext(e, req, rec, cl.ID)

	if err := mw(next)(c); err != nil {
		t.Fatalf("expected trialing clinic to pass, got %v", err)
	}

	past := time.Now().Add(-time.Hour)
	svc.UpdateSubscription(context.Background(), cl.ID, SubTrialing, &past)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	rec = httptest.NewRecorder()
	c = clinicContext(e, req, rec, cl.ID)

	err := mw(next)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402 for expired trial, got %v", err)
	}
}

func TestRequireActiveSubscription_NoClinicContext(t *testing.T) {
	e := echo.New()
	_, svc := newTestHandler()

	mw := RequireActiveSubscription(svc)
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := mw(next)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without clinic context, got %v", err)
	}
}
