// Package api serves the HTTP side of the chat: the websocket endpoint, the
// room history and a few operational endpoints.
package api

import (
	"encoding/json"
	"groupchat/domain"
	"groupchat/infrastructure/websocket"
	"groupchat/observability"
	"groupchat/repositories"
	"log/slog"
	"net/http"
)

type StatsCollector interface {
	Collect() observability.Stats
}

type Handler struct {
	log      *slog.Logger
	gateway  http.Handler
	messages repositories.IMessageRepository
	stats    StatsCollector
}

func NewHandler(log *slog.Logger, gateway http.Handler, messages repositories.IMessageRepository, stats StatsCollector) *Handler {
	return &Handler{log: log, gateway: gateway, messages: messages, stats: stats}
}

// Routes builds the mux of the server.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", h.gateway)
	mux.HandleFunc("GET /messages/{groupId}", h.history)
	mux.HandleFunc("GET /debug/stats", h.debugStats)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// history returns the stored messages of a room, oldest first.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(r.PathValue("groupId"))
	messages, err := h.messages.History(room)
	if err != nil {
		h.log.Error("History unavailable", "room", room, "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, websocket.NewMessageViews(messages))
}

func (h *Handler) debugStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats.Collect())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("Response not written", "error", err)
	}
}
