package clinic

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/pkg/pagination"
)

// UserLookup resolves an email to a user id when a clinic admin adds a
// member by email. Wired to the identity repository in main.
type UserLookup func(ctx context.Context, email string) (uuid.UUID, error)

type Handler struct {
	svc        *Service
	lookupUser UserLookup
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SetUserLookup attaches the email-to-user resolver used by AddMember.
func (h *Handler) SetUserLookup(fn UserLookup) {
	h.lookupUser = fn
}

// RegisterRoutes mounts platform-operator routes on api and clinic-admin
// routes on clinicAPI. The clinicAPI group carries the clinic middleware,
// so /clinic endpoints always act on the request's effective clinic.
func (h *Handler) RegisterRoutes(api *echo.Group, clinicAPI *echo.Group) {
	super := api.Group("/clinics", auth.RequireAccountRole(auth.RoleSuperAdmin))
	super.GET("", h.ListClinics)
	super.POST("", h.CreateClinic)
	super.GET("/:id", h.GetClinic)
	super.DELETE("/:id", h.DeleteClinic)
	super.PUT("/:id/subscription", h.UpdateSubscription)
	super.PUT("/:id/device-limit", h.UpdateDeviceLimit)

	admin := clinicAPI.Group("/clinic", auth.RequireAccountRole(auth.RoleAdmin))
	admin.GET("", h.GetActiveClinic)
	admin.PUT("", h.UpdateActiveClinic)
	admin.GET("/members", h.ListMembers)
	admin.POST("/members", h.AddMember)
	admin.PUT("/members/:id", h.UpdateMemberRole)
	admin.DELETE("/members/:id", h.RemoveMember)
}

func (h *Handler) ListClinics(c echo.Context) error {
	pg := pagination.FromContext(c)
	clinics, total, err := h.svc.ListClinics(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(clinics, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateClinic(c echo.Context) error {
	var cl Clinic
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateClinic(c.Request().Context(), &cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClinic(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cl, err := h.svc.GetClinic(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) DeleteClinic(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteClinic(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status      string     `json:"status"`
		TrialEndsAt *time.Time `json:"trial_ends_at"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateSubscription(c.Request().Context(), id, body.Status, body.TrialEndsAt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": body.Status})
}

func (h *Handler) UpdateDeviceLimit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		DeviceLimit int `json:"device_limit"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateDeviceLimit(c.Request().Context(), id, body.DeviceLimit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"device_limit": body.DeviceLimit})
}

func (h *Handler) GetActiveClinic(c echo.Context) error {
	clinicID := db.ClinicFromContext(c.Request().Context())
	cl, err := h.svc.GetClinic(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateActiveClinic(c echo.Context) error {
	var cl Clinic
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.ID = db.ClinicFromContext(c.Request().Context())
	if err := h.svc.UpdateClinic(c.Request().Context(), &cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListMembers(c echo.Context) error {
	clinicID := db.ClinicFromContext(c.Request().Context())
	members, err := h.svc.ListMembers(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) AddMember(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.lookupUser == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "user lookup not configured")
	}
	ctx := c.Request().Context()
	userID, err := h.lookupUser(ctx, body.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no user with that email")
	}
	m := &Membership{
		UserID:   userID,
		ClinicID: db.ClinicFromContext(ctx),
		Role:     body.Role,
	}
	if err := h.svc.AddMembership(ctx, m); err != nil {
		if errors.Is(err, ErrAlreadyMember) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) UpdateMemberRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateMembershipRole(c.Request().Context(), id, body.Role); err != nil {
		if errors.Is(err, ErrLastVet) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"role": body.Role})
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.RemoveMembership(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrLastVet) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
