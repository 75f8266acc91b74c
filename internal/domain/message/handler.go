package message

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/query"
	"github.com/whiskr/whiskr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pools")
	g.POST("", h.CreatePool)
	g.GET("", h.ListPools)
	g.GET("/:id", h.GetPool)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.PostMessage)

	m := api.Group("/messages")
	m.PUT("/:id", h.EditMessage)
	m.DELETE("/:id", h.DeleteMessage)
}

func (h *Handler) CreatePool(c echo.Context) error {
	var p Pool
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePool(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPools(c echo.Context) error {
	p := pagination.FromContext(c)
	pools, total, err := h.svc.SearchPools(c.Request().Context(), query.Params(c), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pools, total, p.Limit, p.Offset))
}

func (h *Handler) GetPool(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pool, err := h.svc.GetPool(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, pool)
}

func (h *Handler) PostMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.PostMessage(c.Request().Context(), id, req.Body)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p := pagination.FromContext(c)
	msgs, total, err := h.svc.ListMessages(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, p.Limit, p.Offset))
}

func (h *Handler) EditMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.EditMessage(c.Request().Context(), id, req.Body)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteMessage(c.Request().Context(), id); err != nil {
		return writeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// writeError maps service failures onto HTTP status codes.
func writeError(err error) error {
	switch {
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotSender):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrMessageDeleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
