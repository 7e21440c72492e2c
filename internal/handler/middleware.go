package handler

import (
	"context"
	"net/http"

	"github.com/haatos/readycheck/internal"
	"github.com/labstack/echo/v4"
)

type APIKeyValidator interface {
	ValidAPIKey(ctx context.Context, value string) (bool, error)
}

// RequireAPIKey rejects requests whose API key header does not hold a stored
// key.
func RequireAPIKey(validator APIKeyValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(internal.APIKeyHeader)
			valid, err := validator.ValidAPIKey(c.Request().Context(), value)
			if err != nil {
				return newError(err, http.StatusInternalServerError, "unable to validate api key")
			}
			if !valid {
				return newError(nil, http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
