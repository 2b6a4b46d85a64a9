package vista

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/synthetichealth/vistaexport/internal/domain/cohort"
	"github.com/synthetichealth/vistaexport/internal/platform/auth"
	"github.com/synthetichealth/vistaexport/internal/platform/blobstore"
	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

func fixedNow() time.Time { return time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC) }

func newTestServer(cfg HandlerConfig, roles ...string) *echo.Echo {
	if cfg.Now == nil {
		cfg.Now = fixedNow
	}
	e := echo.New()
	var g *echo.Group
	if len(roles) == 0 {
		g = e.Group("/api/v1", auth.DevAuthMiddleware())
	} else {
		g = e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), "u1", roles)))
				return next(c)
			}
		})
	}
	NewHandler(cfg).RegisterRoutes(g)
	return e
}

func cohortBody(t *testing.T, patients []*cohort.Patient) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := cohort.Encode(&buf, patients); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return &buf
}

func do(e *echo.Echo, method, target string, body *bytes.Buffer) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ExportText(t *testing.T) {
	e := newTestServer(HandlerConfig{Mode: fileman.PointerClean})
	rec := do(e, http.MethodPost, "/api/v1/vista/export", cohortBody(t, fixture()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Export-Mode") != "pointer-clean" {
		t.Errorf("X-Export-Mode = %q", rec.Header().Get("X-Export-Mode"))
	}
	if rec.Header().Get("X-Run-ID") == "" {
		t.Error("X-Run-ID should be set")
	}
	st, err := globals.Parse(rec.Body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rep := Verify(st, fileman.PointerClean); !rep.OK() {
		t.Errorf("exported store does not verify: %v", rep.Problems)
	}
	if v, ok := st.Get("^DPT", globals.Int(0)); !ok || v != `"PATIENT"^2^2^3241015` {
		t.Errorf("^DPT(0) = %q, export date should default to the clock", v)
	}
}

func TestHandler_ExportJSON(t *testing.T) {
	e := newTestServer(HandlerConfig{Mode: fileman.PointerClean})
	rec := do(e, http.MethodPost, "/api/v1/vista/export?mode=legacy&format=json&export_date=2024-01-31&ien_offset=100", cohortBody(t, fixture()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp exportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mode != "legacy" || resp.ExportDate != "2024-01-31" || resp.Archived {
		t.Errorf("unexpected manifest %+v", resp.Manifest)
	}
	if len(resp.Files) == 0 || resp.Files[0].Name != "PATIENT" || resp.Files[0].MaxIEN != 102 {
		t.Errorf("unexpected files %+v", resp.Files)
	}
	if !strings.Contains(resp.Globals, "^DPT(101,0)=\"DOE,JOHN Q\"") {
		t.Errorf("globals missing offset patient:\n%s", resp.Globals)
	}
	if strings.Contains(resp.Globals, "^ICD9") {
		t.Error("legacy export wrote a dictionary")
	}
}

func TestHandler_ExportDangling(t *testing.T) {
	patients := fixture()
	patients[1].Problems[0].EncounterID = encounterA

	e := newTestServer(HandlerConfig{Mode: fileman.PointerClean})
	rec := do(e, http.MethodPost, "/api/v1/vista/export", cohortBody(t, patients))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != fileman.ErrDanglingPointer.Error() || resp.File != "PROBLEM" || resp.Record != problemB.String() || resp.Field != FieldVisit {
		t.Errorf("unexpected error body %+v", resp)
	}
}

func TestHandler_ExportBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		cfg    HandlerConfig
		target string
		body   string
	}{
		{"unknown mode", HandlerConfig{}, "/api/v1/vista/export?mode=mumps", `[]`},
		{"bad export date", HandlerConfig{}, "/api/v1/vista/export?export_date=15/10/2024", `[]`},
		{"export date before epoch", HandlerConfig{Mode: fileman.Legacy}, "/api/v1/vista/export?export_date=1800-01-01", `[]`},
		{"negative offset", HandlerConfig{}, "/api/v1/vista/export?ien_offset=-1", `[]`},
		{"malformed json", HandlerConfig{}, "/api/v1/vista/export", `{"patients":`},
		{"unknown field", HandlerConfig{}, "/api/v1/vista/export", `[{"id":"11111111-1111-1111-1111-111111111111","shoe_size":9}]`},
		{"patient without id", HandlerConfig{}, "/api/v1/vista/export", `[{"name":{"family":"Doe"}}]`},
		{"archive without archiver", HandlerConfig{}, "/api/v1/vista/export?archive=true", `[]`},
		{"unknown source", HandlerConfig{}, "/api/v1/vista/export?source=ftp", `[]`},
		{"db without loader", HandlerConfig{}, "/api/v1/vista/export?source=db", ``},
		{"bad limit", HandlerConfig{Loader: func(context.Context, int) ([]*cohort.Patient, error) { return nil, nil }}, "/api/v1/vista/export?source=db&limit=x", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(tt.cfg)
			rec := do(e, http.MethodPost, tt.target, bytes.NewBufferString(tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ExportArchive(t *testing.T) {
	archiver := blobstore.NewArchiver(blobstore.NewMemoryStore(), "vista")
	e := newTestServer(HandlerConfig{Mode: fileman.PointerClean, Archiver: archiver})
	rec := do(e, http.MethodPost, "/api/v1/vista/export?archive=true&format=json", cohortBody(t, fixture()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp exportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Archived || resp.Hash == "" {
		t.Fatalf("run was not archived: %+v", resp.Manifest)
	}
	m, err := archiver.Manifest(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if m.Hash != resp.Hash || m.Entries != resp.Entries {
		t.Errorf("stored manifest %+v differs from response %+v", m, resp.Manifest)
	}
	rc, _, err := archiver.Open(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf.String() != resp.Globals {
		t.Error("archived globals differ from the response")
	}
}

func TestHandler_ExportFromLoader(t *testing.T) {
	var gotLimit int
	loader := func(_ context.Context, limit int) ([]*cohort.Patient, error) {
		gotLimit = limit
		return fixture()[:limit], nil
	}
	e := newTestServer(HandlerConfig{Mode: fileman.PointerClean, Loader: loader})
	rec := do(e, http.MethodPost, "/api/v1/vista/export?source=db&limit=1&format=json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotLimit != 1 {
		t.Errorf("loader limit = %d, want 1", gotLimit)
	}
	var resp exportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Files[0].Name != "PATIENT" || resp.Files[0].Records != 1 {
		t.Errorf("unexpected files %+v", resp.Files)
	}
}

func TestHandler_LoaderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"source unavailable", errors.New("connection refused"), http.StatusInternalServerError},
		{"invalid graph", cohort.ErrInvalidGraph, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := func(context.Context, int) ([]*cohort.Patient, error) { return nil, tt.err }
			e := newTestServer(HandlerConfig{Loader: loader})
			rec := do(e, http.MethodPost, "/api/v1/vista/export?source=db", nil)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHandler_Verify(t *testing.T) {
	st := run(t, fileman.Legacy, fixture()).Store
	e := newTestServer(HandlerConfig{Mode: fileman.Legacy}, auth.RoleViewer)

	rec := do(e, http.MethodPost, "/api/v1/vista/verify", bytes.NewBufferString(st.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rep Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rep.OK() || rep.Mode != "legacy" || rep.Entries != st.Len() {
		t.Errorf("unexpected report %+v", rep)
	}

	rec = do(e, http.MethodPost, "/api/v1/vista/verify?mode=pointer-clean", bytes.NewBufferString(st.String()))
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.OK() {
		t.Error("a legacy store should not verify as pointer-clean")
	}

	rec = do(e, http.MethodPost, "/api/v1/vista/verify", bytes.NewBufferString("not a global\n"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unparseable store, got %d", rec.Code)
	}
}

func TestHandler_Roles(t *testing.T) {
	tests := []struct {
		name   string
		roles  []string
		target string
		body   string
		want   int
	}{
		{"viewer cannot export", []string{auth.RoleViewer}, "/api/v1/vista/export", `[]`, http.StatusForbidden},
		{"exporter can export", []string{auth.RoleExporter}, "/api/v1/vista/export", `[]`, http.StatusOK},
		{"exporter can verify", []string{auth.RoleExporter}, "/api/v1/vista/verify", ``, http.StatusOK},
		{"no role cannot verify", []string{"clinician"}, "/api/v1/vista/verify", ``, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(HandlerConfig{}, tt.roles...)
			rec := do(e, http.MethodPost, tt.target, bytes.NewBufferString(tt.body))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
