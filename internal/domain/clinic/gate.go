package clinic

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/db"
)

// RequireActiveSubscription blocks gated features (consult creation, AI
// generation) for clinics whose trial has lapsed or whose subscription is
// past_due or canceled. Mounted on individual routes, after the clinic
// middleware has resolved the effective clinic.
func RequireActiveSubscription(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			clinicID := db.ClinicFromContext(ctx)
			if clinicID == uuid.Nil {
				return echo.NewHTTPError(http.StatusBadRequest, "no clinic context")
			}
			cl, err := svc.GetClinic(ctx, clinicID)
			if err != nil {
				return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
			}
			if !cl.SubscriptionActive(time.Now()) {
				return echo.NewHTTPError(http.StatusPaymentRequired, "an active subscription is required")
			}
			return next(c)
		}
	}
}
