package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// errorStatus maps domain errors to responses. The first match wins; an
// empty message means the error text is shown to the client.
var errorStatus = []struct {
	err  error
	code int
	msg  string
}{
	{domain.ErrInvalidToken, http.StatusUnauthorized, "invalid session token"},
	{domain.ErrForbidden, http.StatusForbidden, "access forbidden"},
	{domain.ErrNoSession, http.StatusConflict, "no active session"},
	{domain.ErrUserNotFound, http.StatusNotFound, "user not found"},
	{domain.ErrNotFound, http.StatusNotFound, ""},
	{domain.ErrInvalidIdentity, http.StatusUnprocessableEntity, ""},
	{domain.ErrFetch, http.StatusBadGateway, "estimate source unavailable"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "upstream timeout"},
}

// NewHTTPErrorHandler renders every error as {"error": "..."}. Unknown
// errors are logged and reported as a generic 500.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := resolveError(err)
		if code == http.StatusInternalServerError {
			log.Error().
				Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("unhandled error")
		}
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			if m.msg == "" {
				return m.code, err.Error()
			}
			return m.code, m.msg
		}
	}
	return http.StatusInternalServerError, "internal server error"
}
