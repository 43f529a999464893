package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

// Metrics records request counts and latency per matched route.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler pick the status before it is read.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
