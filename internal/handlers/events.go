package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/otcheredev/ris-ups-client/internal/eventlog"
	"github.com/rs/zerolog/log"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// EventsHandler serves received notifications from the event log
type EventsHandler struct {
	store eventlog.Store
}

func NewEventsHandler(store eventlog.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

// Recent handles GET /events?limit=N
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read event log")
		respondError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(entries),
		"events": entries,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
