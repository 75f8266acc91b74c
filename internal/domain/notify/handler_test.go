package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func call(e *echo.Echo, h echo.HandlerFunc, method, target string, userID uuid.UUID, paramID string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(userCtx(userID))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if paramID != "" {
		c.SetParamNames("id")
		c.SetParamValues(paramID)
	}
	return rec, h(c)
}

func TestListNotificationsHandler(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	userID := uuid.New()
	ctx := userCtx(userID)

	if err := svc.Notify(ctx, userID, KindTranscriptReady, "Transcript ready", "b", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := svc.Notify(ctx, userID, KindMessagePosted, "New message", "b", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	rec, err := call(e, h.ListNotifications, http.MethodGet, "/", userID, "")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	var resp struct {
		Data  []*Notification `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 {
		t.Fatalf("total = %d, data = %d", resp.Total, len(resp.Data))
	}
	// Newest first.
	if resp.Data[0].Kind != KindMessagePosted {
		t.Errorf("Data[0].Kind = %q", resp.Data[0].Kind)
	}
}

func TestListNotificationsHandler_UnreadFilter(t *testing.T) {
	svc, repo, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	userID := uuid.New()
	ctx := userCtx(userID)

	if err := svc.Notify(ctx, userID, KindTranscriptReady, "t", "b", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := svc.Notify(ctx, userID, KindMessagePosted, "t", "b", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := svc.MarkRead(ctx, repo.notifications[0].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	rec, err := call(e, h.ListNotifications, http.MethodGet, "/?unread=true", userID, "")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("unread total = %d, want 1", resp.Total)
	}
}

func TestMarkReadHandler(t *testing.T) {
	svc, repo, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	userID := uuid.New()

	if err := svc.Notify(userCtx(userID), userID, KindTranscriptReady, "t", "b", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	id := repo.notifications[0].ID

	rec, err := call(e, h.MarkRead, http.MethodPost, "/", userID, id.String())
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var n Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !n.Read() {
		t.Error("ReadAt not set")
	}
}

func TestMarkReadHandler_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	_, err := call(e, h.MarkRead, http.MethodPost, "/", uuid.New(), uuid.NewString())
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestMarkAllReadHandler(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	userID := uuid.New()
	ctx := userCtx(userID)

	for i := 0; i < 2; i++ {
		if err := svc.Notify(ctx, userID, KindMessagePosted, "t", "b", nil); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	rec, err := call(e, h.MarkAllRead, http.MethodPost, "/", userID, "")
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["marked"] != 2 {
		t.Errorf("marked = %d, want 2", resp["marked"])
	}
}
