package huddle

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/huddle/core"
)

// WSHandler upgrades requests to websocket connections in the room named by
// the path, or in the default room.
type WSHandler struct {
	manager     *core.ConnManager
	defaultRoom core.RoomKey
	logger      *slog.Logger
}

func NewWSHandler(manager *core.ConnManager, defaultRoom string, logger *slog.Logger) *WSHandler {
	return &WSHandler{manager: manager, defaultRoom: core.RoomKey(defaultRoom), logger: logger}
}

// ConnectHandler is a plain http.HandlerFunc: once the upgrader has run, the
// response belongs to it, so errors are only logged.
func (h *WSHandler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	room := h.defaultRoom
	if p := chi.URLParam(r, "room"); p != "" {
		if !validRoomKey(p) {
			http.Error(w, "invalid room", http.StatusBadRequest)
			return
		}
		room = core.RoomKey(p)
	}
	if err := h.manager.Connect(room, w, r); err != nil {
		h.logger.Warn(fmt.Sprintf("websocket connect: %v", err), slog.String("room", string(room)))
	}
}
