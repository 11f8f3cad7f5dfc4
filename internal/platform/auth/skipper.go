package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and tenant resolution.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/metrics":           true,
	"/api/v1/auth/login": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// TenantSkipper skips tenant resolution for infrastructure endpoints. Login
// still needs a tenant to find the account.
func TenantSkipper(c echo.Context) bool {
	return publicPaths[c.Path()] && c.Path() != "/api/v1/auth/login"
}
