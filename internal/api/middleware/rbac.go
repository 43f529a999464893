package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// RBAC restricts a route group to the given roles. It reads the identity
// placed on the context by Session, so it must be mounted after it.
func RBAC(roles ...domain.Role) echo.MiddlewareFunc {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := c.Get("identity").(*domain.Identity)
			if !ok || id == nil {
				return domain.ErrNoSession
			}
			if !allowed[id.Role] {
				return domain.ErrForbidden
			}
			return next(c)
		}
	}
}
