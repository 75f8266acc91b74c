package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts auth and session endpoints on the api group.
// These work before any clinic scope is resolved: register and login are
// public, the rest only need a valid access token.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/logout", h.Logout)

	api.GET("/session", h.GetSession)
	api.PUT("/session/clinic", h.SwitchClinic)
	api.PUT("/session/password", h.ChangePassword)
}

// RegisterClinicRoutes mounts the device seat endpoints; these live under
// the clinic middleware so they act on the effective clinic.
func (h *Handler) RegisterClinicRoutes(clinicAPI *echo.Group) {
	g := clinicAPI.Group("/devices", auth.RequireAccountRole(auth.RoleAdmin))
	g.GET("", h.ListDevices)
	g.DELETE("/:id", h.RevokeDevice)
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, pair, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":   user,
		"tokens": pair,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, pair, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrDeviceLimit):
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": err.Error(),
				"code":  "device_limit_reached",
			})
		case errors.Is(err, ErrAccountDisabled):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrInvalidCredentials):
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrNotMember), errors.Is(err, ErrNoClinic):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":   user,
		"tokens": pair,
	})
}

func (h *Handler) Refresh(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pair, err := h.svc.Refresh(c.Request().Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrAccountDisabled) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) Logout(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Logout(c.Request().Context(), body.RefreshToken); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetSession(c echo.Context) error {
	userID := contextUUID(c, "user_id")
	if userID == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	// The session endpoint sits outside the clinic middleware, so honor
	// an X-Clinic-ID override here the same way: super admins may inspect
	// any clinic, everyone else stays on their token's clinic.
	activeClinic := contextUUID(c, "clinic_id")
	clinicRole, _ := c.Get("clinic_role").(string)
	accountRole, _ := c.Get("account_role").(string)
	viewAs := false
	if header := c.Request().Header.Get("X-Clinic-ID"); header != "" && accountRole == auth.RoleSuperAdmin {
		if id, err := uuid.Parse(header); err == nil && id != activeClinic {
			activeClinic = id
			clinicRole = ""
			viewAs = true
		}
	}

	sess, err := h.svc.BuildSession(c.Request().Context(), userID, activeClinic, clinicRole, viewAs)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SwitchClinic(c echo.Context) error {
	var body struct {
		ClinicID uuid.UUID `json:"clinic_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.ClinicID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic_id is required")
	}
	userID := contextUUID(c, "user_id")
	sessionID := contextUUID(c, "session_id")

	pair, err := h.svc.SwitchClinic(c.Request().Context(), userID, body.ClinicID, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := contextUUID(c, "user_id")
	if err := h.svc.ChangePassword(c.Request().Context(), userID, body.CurrentPassword, body.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "current password is incorrect")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDevices(c echo.Context) error {
	clinicID := db.ClinicFromContext(c.Request().Context())
	devices, err := h.svc.ListDevices(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, devices)
}

func (h *Handler) RevokeDevice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	clinicID := db.ClinicFromContext(c.Request().Context())
	if err := h.svc.RevokeDevice(c.Request().Context(), clinicID, id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func contextUUID(c echo.Context, key string) uuid.UUID {
	s, _ := c.Get(key).(string)
	id, _ := uuid.Parse(s)
	return id
}
