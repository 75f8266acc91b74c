package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that should bypass authentication and clinic
// resolution. These are infrastructure endpoints (health checks, metrics)
// and the credential endpoints that must be reachable without a token.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/metrics":           true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
	"/api/auth/refresh":  true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public endpoint that
// should bypass auth and clinic middleware.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
