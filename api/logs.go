package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/nemezkarl-source/DD5KA/models"
	"github.com/nemezkarl-source/DD5KA/services"
)

const (
	defaultEventCount = 20
	maxEventCount     = 200
)

type LogsHandler struct {
	events *services.EventLog
}

func NewLogsHandler(events *services.EventLog) *LogsHandler {
	return &LogsHandler{events: events}
}

// Last serves the newest N events from the detections log.
func (h *LogsHandler) Last(w http.ResponseWriter, r *http.Request) {
	n := defaultEventCount
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			http.Error(w, `{"error":"n must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		n = v
	}
	if n > maxEventCount {
		n = maxEventCount
	}

	events, err := h.events.Last(n)
	if err != nil {
		log.Printf("api: reading events: %v", err)
		http.Error(w, `{"error":"reading event log failed"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, models.EventsResponse{Events: events})
}
