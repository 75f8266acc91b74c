package assistant

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/ai"
	"github.com/whiskr/whiskr/internal/platform/query"
	"github.com/whiskr/whiskr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts Atlas routes on the clinic-scoped group. Asking a
// question costs a model call, so it sits behind the subscription gate.
func (h *Handler) RegisterRoutes(api *echo.Group, gate echo.MiddlewareFunc) {
	g := api.Group("/assistant/threads")
	g.POST("", h.CreateThread)
	g.GET("", h.ListThreads)
	g.GET("/:id", h.GetThread)
	g.DELETE("/:id", h.DeleteThread)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.PostMessage, gate)
}

func (h *Handler) CreateThread(c echo.Context) error {
	var t Thread
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateThread(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListThreads(c echo.Context) error {
	p := pagination.FromContext(c)
	threads, total, err := h.svc.SearchThreads(c.Request().Context(), query.Params(c), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(threads, total, p.Limit, p.Offset))
}

func (h *Handler) GetThread(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetThread(c.Request().Context(), id)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteThread(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteThread(c.Request().Context(), id); err != nil {
		return threadError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p := pagination.FromContext(c)
	msgs, total, err := h.svc.ListMessages(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, p.Limit, p.Offset))
}

func (h *Handler) PostMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Content   string     `json:"content"`
		Mode      string     `json:"mode"`
		ConsultID *uuid.UUID `json:"consult_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reply, err := h.svc.Ask(c.Request().Context(), id, req.ConsultID, req.Mode, req.Content)
	if err != nil {
		if errors.Is(err, ai.ErrUnavailable) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return threadError(err)
	}
	return c.JSON(http.StatusCreated, reply)
}

func threadError(err error) error {
	if errors.Is(err, ErrThreadNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
