package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header requests carry an existing correlation ID on
// and responses echo the (possibly generated) ID back on.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that assigns a correlation ID to every
// request, reusing one supplied on RequestIDHeader if present. Logger and
// Recovery read it back via c.Get("request_id").
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
