package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// ctxIdentity extracts the session identity injected by the Session
// middleware. Its absence means the route was mounted without it.
func ctxIdentity(c echo.Context) (*domain.Identity, error) {
	id, _ := c.Get("identity").(*domain.Identity)
	if id == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing session identity")
	}
	return id, nil
}
