package vista

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/synthetichealth/vistaexport/internal/domain/cohort"
	"github.com/synthetichealth/vistaexport/internal/platform/auth"
	"github.com/synthetichealth/vistaexport/internal/platform/blobstore"
	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/globals"
	"github.com/synthetichealth/vistaexport/internal/platform/telemetry"
)

// Loader reads up to limit patients from the configured source database.
type Loader func(ctx context.Context, limit int) ([]*cohort.Patient, error)

// HandlerConfig wires the export endpoints. Archiver and Loader are
// optional; without them archive=true and source=db are rejected.
type HandlerConfig struct {
	Mode      fileman.Mode
	IENOffset fileman.IEN
	Archiver  *blobstore.Archiver
	Loader    Loader
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Handler serves export and verification over HTTP.
type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/vista/export", h.Export, auth.RequireRole(auth.RoleExporter))
	api.POST("/vista/verify", h.Verify, auth.RequireRole(auth.RoleExporter, auth.RoleViewer))
}

type exportResponse struct {
	blobstore.Manifest
	Archived bool   `json:"archived"`
	Globals  string `json:"globals"`
}

// errorResponse carries the location of an export failure.
type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	File   string `json:"file,omitempty"`
	Record string `json:"record,omitempty"`
	Field  string `json:"field,omitempty"`
}

// Export runs one export. The cohort comes from the JSON request body, or
// from the source database with source=db. The store is returned as text
// lines unless format=json is given.
//
// Query parameters: mode, export_date (YYYY-MM-DD), ien_offset, archive,
// format, source, limit.
func (h *Handler) Export(c echo.Context) error {
	ctx := c.Request().Context()
	opts, err := h.options(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	c.Set("run_id", opts.RunID.String())

	archive := c.QueryParam("archive") == "true"
	if archive && h.cfg.Archiver == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "archiving is not configured"})
	}

	var patients []*cohort.Patient
	switch c.QueryParam("source") {
	case "", "body":
		patients, err = cohort.Decode(c.Request().Body)
		if err == nil {
			err = cohort.Validate(patients)
		}
	case "db":
		if h.cfg.Loader == nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "no source database is configured"})
		}
		limit := 0
		if l := c.QueryParam("limit"); l != "" {
			if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			}
		}
		patients, err = h.cfg.Loader(ctx, limit)
		if err != nil && !errors.Is(err, cohort.ErrInvalidGraph) {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "source must be body or db"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	s, err := NewSession(opts)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	res, err := s.Run(patients)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, exportError(err))
	}

	globalsText := res.Store.String()
	resp := exportResponse{Manifest: res.Manifest()}
	if archive {
		m, err := h.cfg.Archiver.Archive(ctx, resp.Manifest, strings.NewReader(globalsText))
		if err != nil {
			return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		}
		resp.Manifest = *m
		resp.Archived = true
	}

	if c.QueryParam("format") == "json" {
		resp.Globals = globalsText
		return c.JSON(http.StatusOK, resp)
	}
	c.Response().Header().Set("X-Run-ID", resp.RunID)
	c.Response().Header().Set("X-Export-Mode", resp.Mode)
	return c.String(http.StatusOK, globalsText)
}

// Verify checks a serialized store posted as the request body.
func (h *Handler) Verify(c echo.Context) error {
	mode, err := h.mode(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	store, err := globals.Parse(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	rep := Verify(store, mode)
	h.cfg.Logger.Info().Str("mode", mode.String()).Int("entries", rep.Entries).Int("problems", len(rep.Problems)).Msg("store verified")
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) mode(c echo.Context) (fileman.Mode, error) {
	if m := c.QueryParam("mode"); m != "" {
		return fileman.ParseMode(m)
	}
	return h.cfg.Mode, nil
}

func (h *Handler) options(c echo.Context) (Options, error) {
	mode, err := h.mode(c)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Mode:       mode,
		ExportDate: fileman.DateOf(h.cfg.Now().UTC()),
		IENOffset:  h.cfg.IENOffset,
		Logger:     h.cfg.Logger,
		RunID:      uuid.New(),
		Metrics:    h.cfg.Metrics,
	}
	if d := c.QueryParam("export_date"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return Options{}, errors.New("export_date must be YYYY-MM-DD")
		}
		opts.ExportDate = fileman.DateOf(t)
	}
	if o := c.QueryParam("ien_offset"); o != "" {
		n, err := strconv.ParseInt(o, 10, 64)
		if err != nil || n < 0 {
			return Options{}, errors.New("ien_offset must be a non-negative integer")
		}
		opts.IENOffset = fileman.IEN(n)
	}
	return opts, nil
}

func exportError(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var fe *fileman.Error
	if errors.As(err, &fe) {
		resp.Kind = fe.Kind.Error()
		resp.File = fe.File
		resp.Record = fe.Record
		resp.Field = fe.Field
	}
	return resp
}
