package websocket

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/campusbridge/campusbridge/internal/auth"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
)

// Handler upgrades authenticated requests to feed subscriptions.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a feed handler. Browsers are only allowed to connect from
// allowedOrigins; "*" allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeWS must sit behind auth.Middleware; the verified user owns the
// connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) error {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.hub.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{
			"error":   err.Error(),
			"user_id": user.ID.String(),
		})
		return nil
	}

	client := newClient(h.hub, conn, user.ID)
	if !h.hub.add(client) {
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}
