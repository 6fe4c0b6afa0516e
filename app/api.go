package huddle

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/huddle/core"
	"github.com/putto11262002/huddle/pkg/router"
)

// InspectHandler serves a read-only view of the live registries.
type InspectHandler struct {
	reg core.Registries
}

func NewInspectHandler(reg core.Registries) *InspectHandler {
	return &InspectHandler{reg: reg}
}

type RoomSummary struct {
	Room        core.RoomKey `json:"room"`
	Connections int          `json:"connections"`
	Members     []string     `json:"members"`
	HistorySize int          `json:"history_size"`
}

type UserSummary struct {
	core.UserView
	Sockets  int `json:"sockets"`
	Contacts int `json:"contacts"`
}

func (h *InspectHandler) roomSummary(room core.RoomKey) RoomSummary {
	members := h.reg.Users.RoomMembers(room)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	return RoomSummary{
		Room:        room,
		Connections: h.reg.Rooms.Size(room),
		Members:     names,
		HistorySize: len(h.reg.Rooms.RecentHistory(room)),
	}
}

func (h *InspectHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	rooms := h.reg.Rooms.Rooms()
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, h.roomSummary(room))
	}
	return router.JSON(w, http.StatusOK, out)
}

// GetRoomHandler answers unknown rooms with an empty summary.
func (h *InspectHandler) GetRoomHandler(w http.ResponseWriter, r *http.Request) error {
	room := core.RoomKey(chi.URLParam(r, "room"))
	return router.JSON(w, http.StatusOK, h.roomSummary(room))
}

func (h *InspectHandler) GetRoomHistoryHandler(w http.ResponseWriter, r *http.Request) error {
	room := core.RoomKey(chi.URLParam(r, "room"))
	return router.JSON(w, http.StatusOK, h.reg.Rooms.RecentHistory(room))
}

func (h *InspectHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) error {
	id := core.UserID(chi.URLParam(r, "id"))
	user, ok := h.reg.Users.Get(id)
	if !ok {
		return fmt.Errorf("user %s: %w", id, core.ErrUnknownUser)
	}
	return router.JSON(w, http.StatusOK, UserSummary{
		UserView: user,
		Sockets:  len(h.reg.Users.Sockets(id)),
		Contacts: h.reg.Contacts.Count(id),
	})
}

func (h *InspectHandler) HealthHandler(w http.ResponseWriter, r *http.Request) error {
	return router.JSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.reg.Conns.Len(),
		"users":       h.reg.Users.Len(),
	})
}
