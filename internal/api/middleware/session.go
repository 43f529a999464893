package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// Session binds the request to the active sync session. The caller's
// token subject must be the session identity; role and territory_id are
// taken from the session, never from the token.
func Session(current func() *domain.Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := current()
			if id == nil {
				return domain.ErrNoSession
			}

			userID, _ := c.Get("user_id").(string)
			if userID != id.ID {
				return domain.ErrForbidden
			}

			c.Set("identity", id)
			c.Set("role", string(id.Role))
			c.Set("territory_id", id.TerritoryID)
			return next(c)
		}
	}
}
