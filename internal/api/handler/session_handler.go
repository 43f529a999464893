package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

// SessionStore holds the watched identity that drives the sync session.
type SessionStore interface {
	Current() *domain.Identity
	Set(id *domain.Identity)
}

// SessionHandler activates and ends the sync session.
type SessionHandler struct {
	identities ports.IdentityService
	session    SessionStore
	sync       ports.SyncService
}

func NewSessionHandler(identities ports.IdentityService, session SessionStore, sync ports.SyncService) *SessionHandler {
	return &SessionHandler{identities: identities, session: session, sync: sync}
}

type startSessionRequest struct {
	Token string `json:"token" validate:"required"`
}

type sessionResponse struct {
	Identity *domain.Identity `json:"identity"`
}

// Start handles PUT /v1/session. The token is resolved to an identity, which
// replaces the current one. The session is started before responding so the
// first GET /v1/estimates already sees it loading.
func (h *SessionHandler) Start(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := h.identities.Resolve(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	h.session.Set(id)
	if err := h.sync.Start(c.Request().Context(), *id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, sessionResponse{Identity: id})
}

// Get handles GET /v1/session.
func (h *SessionHandler) Get(c echo.Context) error {
	id := h.session.Current()
	if id == nil {
		return domain.ErrNoSession
	}
	return c.JSON(http.StatusOK, sessionResponse{Identity: id})
}

// End handles DELETE /v1/session.
func (h *SessionHandler) End(c echo.Context) error {
	h.session.Set(nil)
	return c.NoContent(http.StatusNoContent)
}
