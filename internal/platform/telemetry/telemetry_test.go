package telemetry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newTestProvider() *Provider {
	return NewProvider("whiskr", "test", "test")
}

// ---------------------------------------------------------------------------
// Provider identity
// ---------------------------------------------------------------------------

func TestProvider_Resource(t *testing.T) {
	p := NewProvider("whiskr", "1.2.3", "production")
	res := p.Resource()
	if res["service"] != "whiskr" {
		t.Errorf("service = %q, want %q", res["service"], "whiskr")
	}
	if res["version"] != "1.2.3" {
		t.Errorf("version = %q, want %q", res["version"], "1.2.3")
	}
	if res["environment"] != "production" {
		t.Errorf("environment = %q, want %q", res["environment"], "production")
	}
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

func TestHistogram_CumulativeBuckets(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})

	h.Observe(0.5) // bucket 0
	h.Observe(3)   // bucket 1
	h.Observe(4)   // bucket 1
	h.Observe(7)   // bucket 2
	h.Observe(100) // above all boundaries, only counted in +Inf

	if h.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", h.Count())
	}
	cum := h.cumulativeBuckets()
	want := []int64{1, 3, 4}
	for i, w := range want {
		if cum[i] != w {
			t.Errorf("cumulative bucket %d = %d, want %d", i, cum[i], w)
		}
	}
	if h.Sum() != 114.5 {
		t.Errorf("Sum() = %g, want 114.5", h.Sum())
	}
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/patients", func(c echo.Context) error {
		time.Sleep(5 * time.Millisecond) // ensure measurable duration
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	hist := p.GetHistogram("http.server.request.duration")
	if hist == nil {
		t.Fatal("expected http.server.request.duration histogram to exist")
	}
	if hist.Count() == 0 {
		t.Fatal("expected at least 1 observation in duration histogram")
	}
	if hist.Sum() <= 0 {
		t.Fatal("expected positive sum in duration histogram")
	}
}

func TestMetricsMiddleware_ActiveRequests(t *testing.T) {
	p := newTestProvider()

	activeObserved := make(chan int64, 1)

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/consults", func(c echo.Context) error {
		activeObserved <- p.GetGauge("http.server.active_requests")
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/consults", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if active := <-activeObserved; active != 1 {
		t.Fatalf("expected active_requests=1 during handling, got %d", active)
	}
	if val := p.GetGauge("http.server.active_requests"); val != 0 {
		t.Fatalf("expected active_requests=0 after request, got %d", val)
	}
}

func TestMetricsMiddleware_Labels(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.POST("/api/patients", func(c echo.Context) error {
		return c.String(http.StatusCreated, "created")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(`{"name":"Biscuit"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	key := LabelsKey("POST", "/api/patients", "201")
	hist := p.GetLabeledHistogram("http.server.request.duration", key)
	if hist == nil {
		t.Fatalf("expected labeled histogram for key %q", key)
	}
	if hist.Count() != 1 {
		t.Fatalf("expected count=1, got %d", hist.Count())
	}
}

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/patients/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/patients/0b8f5a3e", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// The label carries the route pattern, not the raw path.
	key := LabelsKey("GET", "/api/patients/:id", "200")
	if p.GetLabeledHistogram("http.server.request.duration", key) == nil {
		t.Fatalf("expected labeled histogram for route pattern, key %q", key)
	}
	rawKey := LabelsKey("GET", "/api/patients/0b8f5a3e", "200")
	if p.GetLabeledHistogram("http.server.request.duration", rawKey) != nil {
		t.Fatal("raw path must not appear as a histogram label")
	}
}

func TestMetricsMiddleware_RequestSize(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.POST("/api/patients", func(c echo.Context) error {
		return c.String(http.StatusCreated, "created")
	})

	body := `{"name":"Biscuit","species":"cat"}`
	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(body))
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	req.ContentLength = int64(len(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	hist := p.GetHistogram("http.server.request.size")
	if hist == nil {
		t.Fatal("expected http.server.request.size histogram to exist")
	}
	if hist.Count() != 1 {
		t.Fatalf("expected count=1 for request size, got %d", hist.Count())
	}
	if hist.Sum() != float64(len(body)) {
		t.Fatalf("expected request size sum=%d, got %f", len(body), hist.Sum())
	}
}

func TestMetricsMiddleware_ResponseSize(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/patients", func(c echo.Context) error {
		return c.String(http.StatusOK, strings.Repeat("x", 2048))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	hist := p.GetHistogram("http.server.response.size")
	if hist == nil {
		t.Fatal("expected http.server.response.size histogram to exist")
	}
	if hist.Sum() != 2048 {
		t.Fatalf("expected response size sum=2048, got %f", hist.Sum())
	}
}

// ---------------------------------------------------------------------------
// Operation counter
// ---------------------------------------------------------------------------

func TestRecordOperation_Increments(t *testing.T) {
	p := newTestProvider()

	p.RecordOperation("patients", "create")
	p.RecordOperation("patients", "create")
	p.RecordOperation("patients", "read")
	p.RecordOperation("consults", "create")

	if got := p.GetOperationCount("patients", "create"); got != 2 {
		t.Errorf("patients/create = %d, want 2", got)
	}
	if got := p.GetOperationCount("patients", "read"); got != 1 {
		t.Errorf("patients/read = %d, want 1", got)
	}
	if got := p.GetOperationCount("consults", "create"); got != 1 {
		t.Errorf("consults/create = %d, want 1", got)
	}
	if got := p.GetOperationCount("invoices", "read"); got != 0 {
		t.Errorf("invoices/read = %d, want 0", got)
	}
}

func TestRecordOperation_IgnoresEmptyResource(t *testing.T) {
	p := newTestProvider()
	p.RecordOperation("", "read")
	if got := p.GetOperationCount("", "read"); got != 0 {
		t.Errorf("empty resource counted: %d", got)
	}
}

// ---------------------------------------------------------------------------
// Health gauges
// ---------------------------------------------------------------------------

func TestHealthMetrics_DBPool(t *testing.T) {
	p := newTestProvider()

	h := p.HealthMetrics()
	h.SetDBPoolActive(7)
	h.SetDBPoolIdle(3)

	if got := p.GetGauge("db.pool.active_connections"); got != 7 {
		t.Errorf("active connections = %d, want 7", got)
	}
	if got := p.GetGauge("db.pool.idle_connections"); got != 3 {
		t.Errorf("idle connections = %d, want 3", got)
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

func TestPrometheusHandler_ValidFormat(t *testing.T) {
	p := NewProvider("whiskr", "0.9.0", "staging")

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/patients", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", p.PrometheusHandler())

	// Generate some traffic first.
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)

	p.RecordOperation("patients", "read")
	p.HealthMetrics().SetDBPoolActive(2)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()

	wantLines := []string{
		`whiskr_build_info{service="whiskr",version="0.9.0",environment="staging"} 1`,
		"# TYPE http_server_request_duration_seconds histogram",
		`http_server_request_duration_seconds_bucket{method="GET",route="/api/patients",status_code="200",le="+Inf"} 1`,
		"# TYPE http_server_active_requests gauge",
		"# TYPE api_operation_count counter",
		`api_operation_count{resource="patients",action="read"} 1`,
		"db_pool_active_connections 2",
		"db_pool_idle_connections 0",
	}
	for _, want := range wantLines {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q\n---\n%s", want, body)
		}
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestMetrics_ConcurrentSafe(t *testing.T) {
	p := newTestProvider()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.RecordOperation("patients", "read")
				p.gauges.add("http.server.active_requests", 1)
				p.gauges.add("http.server.active_requests", -1)
				h := p.getOrCreateHistogram("http.server.request.duration", defaultDurationBuckets)
				h.Observe(0.02)
			}
		}()
	}
	wg.Wait()

	if got := p.GetOperationCount("patients", "read"); got != 1600 {
		t.Errorf("operation count = %d, want 1600", got)
	}
	if got := p.GetGauge("http.server.active_requests"); got != 0 {
		t.Errorf("active requests = %d, want 0", got)
	}
	if got := p.GetHistogram("http.server.request.duration").Count(); got != 1600 {
		t.Errorf("histogram count = %d, want 1600", got)
	}
}
