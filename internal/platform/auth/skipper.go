package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that bypass authentication: the health-check
// routes a load balancer or orchestrator polls without credentials.
var publicPaths = map[string]bool{
	"/health":  true,
	"/_ping":   true,
	"/_status": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
// Pass this function as the Skipper on JWTConfig or DevAuthMiddleware so that
// health-check endpoints remain accessible without a bearer token.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public infrastructure
// endpoint that should bypass auth and connection middleware.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
