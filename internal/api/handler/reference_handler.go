package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// ReferenceHandler serves cached reference data.
type ReferenceHandler struct {
	refs ports.ReferenceService
}

func NewReferenceHandler(refs ports.ReferenceService) *ReferenceHandler {
	return &ReferenceHandler{refs: refs}
}

// Territories handles GET /v1/territories.
func (h *ReferenceHandler) Territories(c echo.Context) error {
	out, err := h.refs.Territories(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// PricingTemplates handles GET /v1/pricing-templates.
func (h *ReferenceHandler) PricingTemplates(c echo.Context) error {
	out, err := h.refs.PricingTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type wasteRequest struct {
	Material string `param:"material" validate:"required,max=64"`
}

// Waste handles GET /v1/materials/:material/waste.
func (h *ReferenceHandler) Waste(c echo.Context) error {
	var req wasteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid material")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out, err := h.refs.WasteFactor(c.Request().Context(), req.Material)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
