package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type NotificationHandler struct {
	hub      *NotificationHub
	upgrader websocket.Upgrader
}

func NewNotificationHandler(hub *NotificationHub) *NotificationHandler {
	return &NotificationHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Recent handles GET /v1/notifications.
func (h *NotificationHandler) Recent(c echo.Context) error {
	return c.JSON(http.StatusOK, h.hub.Recent())
}

// Stream handles GET /v1/notifications/ws. Each notification is pushed as
// one JSON text frame.
func (h *NotificationHandler) Stream(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}
	defer ws.Close()

	h.hub.serve(c.Request().Context(), ws)
	return nil
}
