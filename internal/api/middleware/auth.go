package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// Auth verifies the HS256 bearer token and stores its subject as user_id.
// Failures are returned as domain.ErrInvalidToken.
func Auth(jwtSecret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	key := func(*jwt.Token) (interface{}, error) { return []byte(jwtSecret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c.Request())
			if err != nil {
				return err
			}

			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, key); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
			}
			if claims.Subject == "" {
				return fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
			}

			c.Set("user_id", claims.Subject)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get(echo.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing bearer token", domain.ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}
