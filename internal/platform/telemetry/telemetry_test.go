package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRun(t *testing.T) {
	m := NewMetrics(Config{})
	m.ObserveRun("legacy", OutcomeSuccess, 20*time.Millisecond, 120)
	m.ObserveRun("legacy", OutcomeFailure, time.Millisecond, 0)
	m.ObserveRun("pointer-clean", OutcomeSuccess, time.Millisecond, 300)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("legacy", OutcomeSuccess)); got != 1 {
		t.Errorf("legacy success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("legacy", OutcomeFailure)); got != 1 {
		t.Errorf("legacy failure runs = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.runDuration); n != 2 {
		t.Errorf("expected 2 duration series, got %d", n)
	}
}

func TestRecordCounters(t *testing.T) {
	m := NewMetrics(Config{})
	m.AddRecords("PATIENT", 3)
	m.AddRecords("PATIENT", 2)
	m.AddRecords("VISIT", 0)
	m.AddDictionaryEntry("DRUG")
	m.AddDictionaryEntry("DRUG")

	if got := testutil.ToFloat64(m.records.WithLabelValues("PATIENT")); got != 5 {
		t.Errorf("PATIENT records = %v, want 5", got)
	}
	if n := testutil.CollectAndCount(m.records); n != 1 {
		t.Errorf("zero additions should not create a series, got %d series", n)
	}
	if got := testutil.ToFloat64(m.dictionary.WithLabelValues("DRUG")); got != 2 {
		t.Errorf("DRUG entries = %v, want 2", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("legacy", OutcomeSuccess, time.Second, 1)
	m.AddRecords("PATIENT", 1)
	m.AddDictionaryEntry("DRUG")

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsMiddleware_AndHandler(t *testing.T) {
	m := NewMetrics(Config{ServiceName: "vista-export", ServiceVersion: "1.2.3"})
	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/patients/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/boom", func(c echo.Context) error { return errors.New("boom") })
	e.GET("/metrics", m.PrometheusHandler())

	for _, path := range []string{"/patients/1", "/patients/2", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if n := testutil.CollectAndCount(m.requestDuration); n != 2 {
		t.Errorf("expected 2 request series, got %d", n)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`vista_export_http_request_duration_seconds_count{method="GET",route="/patients/:id",status="204"} 2`,
		`vista_export_http_request_duration_seconds_count{method="GET",route="/boom",status="500"} 1`,
		`vista_export_build_info{environment="development",service="vista-export",version="1.2.3"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
