package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// EstimateHandler exposes the synchronized view.
type EstimateHandler struct {
	sync ports.SyncService
	refs ports.ReferenceService
}

func NewEstimateHandler(sync ports.SyncService, refs ports.ReferenceService) *EstimateHandler {
	return &EstimateHandler{sync: sync, refs: refs}
}

type listEstimatesQuery struct {
	Status string `query:"status" validate:"omitempty,estimate_status"`
}

// List handles GET /v1/estimates. An optional status narrows the records
// returned; the rest of the view is unchanged.
func (h *EstimateHandler) List(c echo.Context) error {
	var q listEstimatesQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query")
	}
	if err := c.Validate(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	view := h.sync.View()
	if view == nil || view.Identity == nil {
		return domain.ErrNoSession
	}
	if q.Status == "" {
		return c.JSON(http.StatusOK, view)
	}

	out := *view
	out.Records = make([]domain.Estimate, 0, len(view.Records))
	for _, e := range view.Records {
		if e.Status == domain.EstimateStatus(q.Status) {
			out.Records = append(out.Records, e)
		}
	}
	return c.JSON(http.StatusOK, &out)
}

// Refresh handles POST /v1/estimates/refresh. It waits for the fresh
// snapshot to land and returns the resulting view.
func (h *EstimateHandler) Refresh(c echo.Context) error {
	if err := h.sync.Refresh(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.sync.View())
}

// Summary handles GET /v1/estimates/summary.
func (h *EstimateHandler) Summary(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	sum, err := h.refs.EstimateSummary(c.Request().Context(), *id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
