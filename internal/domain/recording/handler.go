package recording

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/domain/consult"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/recordings")
	g.POST("", h.StartRecording)
	g.POST("/:id/chunks", h.AppendChunk)
	g.POST("/:id/stop", h.StopRecording)
	g.DELETE("/:id", h.CancelRecording)
}

func (h *Handler) StartRecording(c echo.Context) error {
	var req struct {
		ConsultID uuid.UUID `json:"consult_id"`
		MimeType  string    `json:"mime_type"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConsultID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "consult_id is required")
	}

	sess, err := h.svc.Start(c.Request().Context(), req.ConsultID, req.MimeType)
	if err != nil {
		if errors.Is(err, consult.ErrFinalized) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) AppendChunk(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	chunk, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable chunk")
	}

	total, err := h.svc.Append(id, chunk)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"total_bytes": total})
}

func (h *Handler) StopRecording(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	tr, err := h.svc.Stop(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooShort):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionClosed):
			return sessionError(err)
		case errors.Is(err, consult.ErrFinalized):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			// Upstream failures (staging, transcription, persistence).
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) CancelRecording(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Cancel(id); err != nil {
		return sessionError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
