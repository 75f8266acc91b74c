package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Account roles. super_admin is the platform operator and passes every check.
const (
	RoleStandard   = "standard"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Clinic roles held through a membership.
const (
	RoleVet          = "vet"
	RoleVetTech      = "vet_tech"
	RoleReceptionist = "receptionist"
)

// RequireAccountRole checks the account-level role from the token.
// super_admin always passes.
func RequireAccountRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			have := AccountRoleFromContext(c.Request().Context())
			if have == RoleSuperAdmin {
				return next(c)
			}
			for _, required := range roles {
				if have == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireClinicRole checks the role the user holds in the active clinic.
// super_admin accounts pass regardless of membership so they can inspect
// any clinic, subject to the read-only view-as guard.
func RequireClinicRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if AccountRoleFromContext(ctx) == RoleSuperAdmin {
				return next(c)
			}
			have := ClinicRoleFromContext(ctx)
			for _, required := range roles {
				if have == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required clinic role: %s", strings.Join(roles, " or ")))
		}
	}
}

// ValidAccountRole reports whether s is a known account role.
func ValidAccountRole(s string) bool {
	switch s {
	case RoleStandard, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// ValidClinicRole reports whether s is a known clinic role.
func ValidClinicRole(s string) bool {
	switch s {
	case RoleVet, RoleVetTech, RoleReceptionist:
		return true
	}
	return false
}
