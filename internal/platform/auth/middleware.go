package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	AccountRoleKey contextKey = "account_role"
	ClinicRoleKey  contextKey = "clinic_role"
	SessionIDKey   contextKey = "session_id"
)

// Middleware verifies the Bearer access token on every request that is not
// on the public path list. Expired tokens get a distinct body with
// code=session_expired so clients know to refresh and retry once; any other
// parse failure is a plain invalid token.
func Middleware(issuer *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsPublicPath(c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := issuer.Parse(parts[1])
			if err != nil {
				if errors.Is(err, ErrExpired) {
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error": "session expired",
						"code":  "session_expired",
					})
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			// Echo context values feed the clinic middleware and handlers.
			c.Set("user_id", claims.Subject)
			c.Set("account_role", claims.AccountRole)
			c.Set("clinic_id", claims.ClinicID)
			c.Set("clinic_role", claims.ClinicRole)
			c.Set("session_id", claims.ID)

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, AccountRoleKey, claims.AccountRole)
			ctx = context.WithValue(ctx, ClinicRoleKey, claims.ClinicRole)
			ctx = context.WithValue(ctx, SessionIDKey, claims.ID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func AccountRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(AccountRoleKey).(string)
	return role
}

func ClinicRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(ClinicRoleKey).(string)
	return role
}

func SessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SessionIDKey).(string)
	return sid
}
