package webhook

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/pkg/pagination"
)

// Handler exposes webhook management over HTTP. All routes are scoped to
// the active clinic and restricted to admin accounts.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireAccountRole(auth.RoleAdmin))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/ping", h.Ping)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.GET("/:id/deliveries", h.ListDeliveries)
	g.POST("/deliveries/:id/retry", h.Retry)
}

type createRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Create registers an endpoint. The response is the only place the secret
// is ever returned; reads redact it.
func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	ep := &Endpoint{
		ClinicID: db.ClinicFromContext(ctx),
		URL:      req.URL,
		Secret:   req.Secret,
		Events:   req.Events,
	}
	if uid, err := uuid.Parse(auth.UserIDFromContext(ctx)); err == nil {
		ep.CreatedBy = uid
	}
	if err := h.dispatcher.Register(ctx, ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	eps, total, err := h.dispatcher.Endpoints(ctx, db.ClinicFromContext(ctx), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = redact(ep)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	ep, err := h.dispatcher.Endpoint(ctx, db.ClinicFromContext(ctx), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.JSON(http.StatusOK, redact(ep))
}

type updateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Status string   `json:"status"`
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	ep, err := h.dispatcher.Endpoint(ctx, db.ClinicFromContext(ctx), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL != "" {
		ep.URL = req.URL
	}
	if len(req.Events) > 0 {
		ep.Events = req.Events
	}
	if req.Status != "" {
		if req.Status != StatusActive && req.Status != StatusPaused {
			return echo.NewHTTPError(http.StatusBadRequest, "status must be active or paused")
		}
		ep.Status = req.Status
	}
	if err := h.dispatcher.UpdateEndpoint(ctx, ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.dispatcher.Delete(ctx, db.ClinicFromContext(ctx), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Ping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	del, err := h.dispatcher.Ping(ctx, db.ClinicFromContext(ctx), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.JSON(http.StatusOK, del)
}

func (h *Handler) Pause(c echo.Context) error {
	return h.setStatus(c, StatusPaused)
}

func (h *Handler) Resume(c echo.Context) error {
	return h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c echo.Context, status string) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	var serr error
	if status == StatusPaused {
		serr = h.dispatcher.Pause(ctx, db.ClinicFromContext(ctx), id)
	} else {
		serr = h.dispatcher.Resume(ctx, db.ClinicFromContext(ctx), id)
	}
	if serr != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	dels, total, err := h.dispatcher.Deliveries(ctx, db.ClinicFromContext(ctx), id, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(dels, total, p.Limit, p.Offset))
}

func (h *Handler) Retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	del, err := h.dispatcher.Redeliver(ctx, db.ClinicFromContext(ctx), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "delivery not found")
	}
	return c.JSON(http.StatusOK, del)
}

// redact strips the signing secret before an endpoint leaves the API.
func redact(ep *Endpoint) *Endpoint {
	cp := *ep
	cp.Secret = ""
	return &cp
}
