package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/synthetichealth/vistaexport/pkg/pagination"
)

// ArchiveHandler provides Echo HTTP handlers for archived runs.
type ArchiveHandler struct {
	archiver *Archiver
}

// NewArchiveHandler creates a new ArchiveHandler.
func NewArchiveHandler(a *Archiver) *ArchiveHandler {
	return &ArchiveHandler{archiver: a}
}

// RegisterRoutes mounts archive routes on the supplied Echo group.
func (h *ArchiveHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/archives", h.handleList)
	g.GET("/archives/:runId", h.handleManifest)
	g.GET("/archives/:runId/globals", h.handleDownload)
}

func (h *ArchiveHandler) handleList(c echo.Context) error {
	items, err := h.archiver.Manifests(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *ArchiveHandler) handleManifest(c echo.Context) error {
	m, err := h.archiver.Manifest(c.Request().Context(), c.Param("runId"))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "archive not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, m)
}

func (h *ArchiveHandler) handleDownload(c echo.Context) error {
	runID := c.Param("runId")
	rc, obj, err := h.archiver.Open(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "archive not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer rc.Close()

	ct := obj.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s"`, runID, GlobalsName))
	return c.Stream(http.StatusOK, ct, rc)
}
