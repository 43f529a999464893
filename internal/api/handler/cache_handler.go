package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/infrastructure/cache"
)

// CacheAdmin is the operational surface of the session cache.
type CacheAdmin interface {
	Stats() cache.Stats
	ClearPrefix(prefix string) int
}

type CacheHandler struct {
	cache CacheAdmin
}

func NewCacheHandler(c CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: c}
}

// Stats handles GET /v1/cache/stats.
func (h *CacheHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cache.Stats())
}

type clearCacheResponse struct {
	Prefix  string `json:"prefix,omitempty"`
	Evicted int    `json:"evicted"`
}

// Clear handles DELETE /v1/cache. Without a prefix every entry is evicted.
func (h *CacheHandler) Clear(c echo.Context) error {
	prefix := c.QueryParam("prefix")
	n := h.cache.ClearPrefix(prefix)
	return c.JSON(http.StatusOK, clearCacheResponse{Prefix: prefix, Evicted: n})
}
