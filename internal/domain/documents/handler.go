package documents

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/blobstore"
	"github.com/whiskr/whiskr/internal/platform/query"
	"github.com/whiskr/whiskr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the document endpoints. Analysis costs a model call
// so it sits behind the subscription gate.
func (h *Handler) RegisterRoutes(api *echo.Group, gate echo.MiddlewareFunc) {
	g := api.Group("/documents")
	g.POST("", h.Upload)
	g.GET("", h.ListDocuments)
	g.GET("/:id", h.GetDocument)
	g.GET("/:id/download", h.Download)
	g.DELETE("/:id", h.DeleteDocument)
	g.POST("/:id/analyze", h.Analyze, gate)
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	patientID, err := optionalID(c.FormValue("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	consultID, err := optionalID(c.FormValue("consult_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consult_id")
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	d, err := h.svc.Upload(c.Request().Context(), file.Filename, file.Header.Get("Content-Type"), patientID, consultID, src)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDocuments(c echo.Context) error {
	p := pagination.FromContext(c)
	docs, total, err := h.svc.SearchDocuments(c.Request().Context(), query.Params(c), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, total, p.Limit, p.Offset))
}

func (h *Handler) GetDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDocument(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Download(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, rc, err := h.svc.Open(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, d.FileName))
	return c.Stream(http.StatusOK, d.ContentType, rc)
}

func (h *Handler) DeleteDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteDocument(c.Request().Context(), id); err != nil {
		return writeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Analyze(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Analyze(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func optionalID(v string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// writeError maps service failures onto HTTP status codes.
func writeError(err error) error {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnsupportedType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
