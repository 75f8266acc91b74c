package consult

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

// RegisterRoutes mounts consult routes on the clinic-scoped group. The gate
// middleware guards the operations a lapsed subscription blocks.
func (h *Handler) RegisterRoutes(api *echo.Group, gate echo.MiddlewareFunc) {
	g := api.Group("/consults")
	g.GET("", h.ListConsults)
	g.POST("", h.CreateConsult, gate)
	g.GET("/:id", h.GetConsult)
	g.PUT("/:id", h.UpdateConsult)
	g.DELETE("/:id", h.DeleteConsult)
	g.POST("/:id/finalize", h.FinalizeConsult)
	g.POST("/:id/generate", h.GenerateReport, gate)
	g.GET("/:id/transcripts", h.ListTranscripts)
	g.POST("/:id/attachments", h.UploadAttachment)
	g.GET("/:id/attachments", h.ListAttachments)

	a := api.Group("/attachments")
	a.GET("/:id/download", h.DownloadAttachment)
	a.DELETE("/:id", h.DeleteAttachment)
}

func (h *Handler) ListConsults(c echo.Context) error {
	p := pagination.FromContext(c)
	consults, total, err := h.svc.SearchConsults(c.Request().Context(), query.Params(c), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(consults, total, p.Limit, p.Offset))
}

func (h *Handler) CreateConsult(c echo.Context) error {
	var con Consult
	if err := c.Bind(&con); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateConsult(c.Request().Context(), &con); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, con)
}

func (h *Handler) GetConsult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	con, err := h.svc.GetConsult(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "consult not found")
	}
	return c.JSON(http.StatusOK, con)
}

func (h *Handler) UpdateConsult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var con Consult
	if err := c.Bind(&con); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	con.ID = id
	if err := h.svc.UpdateConsult(c.Request().Context(), &con); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, con)
}

func (h *Handler) FinalizeConsult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	con, err := h.svc.FinalizeConsult(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, con)
}

func (h *Handler) DeleteConsult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteConsult(c.Request().Context(), id); err != nil {
		return writeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GenerateReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		ReportType string `json:"report_type"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	con, err := h.svc.Generate(c.Request().Context(), id, req.ReportType)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, con)
}

func (h *Handler) ListTranscripts(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	transcripts, err := h.svc.ListTranscripts(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, transcripts)
}

func (h *Handler) UploadAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	a, err := h.svc.AddAttachment(c.Request().Context(), id, file.Filename, file.Header.Get("Content-Type"), src)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	attachments, err := h.svc.ListAttachments(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, attachments)
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, rc, err := h.svc.OpenAttachment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "attachment not found")
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, a.FileName))
	return c.Stream(http.StatusOK, a.ContentType, rc)
}

func (h *Handler) DeleteAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAttachment(c.Request().Context(), id); err != nil {
		return writeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// writeError maps service failures onto HTTP status codes.
func writeError(err error) error {
	switch {
	case errors.Is(err, ErrFinalized):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
