package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"million-dialogue/internal/domain"
)

// RoomDirectory is the read-only room surface exposed over plain HTTP.
type RoomDirectory interface {
	ListRooms(ctx context.Context) []domain.RoomSummary
	GetRoom(ctx context.Context, roomID string) (domain.RoomSummary, error)
}

// NewRouter wires the health check, the room directory and the websocket
// endpoint.
func NewRouter(rooms RoomDirectory, ws *WSHandler, logger *slog.Logger) *mux.Router {
	h := &directoryHandler{rooms: rooms, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/rooms", h.list).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws.ServeWS)
	return r
}

type directoryHandler struct {
	rooms  RoomDirectory
	logger *slog.Logger
}

func (h *directoryHandler) list(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.rooms.ListRooms(r.Context()))
}

func (h *directoryHandler) get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.rooms.GetRoom(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
	case err != nil:
		h.logger.Error("get room failed", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		h.writeJSON(w, http.StatusOK, summary)
	}
}

func (h *directoryHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response failed", slog.Any("error", err))
	}
}
