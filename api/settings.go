package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nemezkarl-source/DD5KA/services"
)

type SettingsHandler struct {
	settings *services.SettingsService
}

func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// Get serves one settings namespace ("panel" or "detector") as a flat object.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	if ns != "panel" && ns != "detector" {
		http.Error(w, `{"error":"unknown settings namespace"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Namespace(ns))
}

// Update applies a flat object to one namespace. Any rejected key fails the
// whole request with the collected validation errors.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	if ns != "panel" && ns != "detector" {
		http.Error(w, `{"error":"unknown settings namespace"}`, http.StatusNotFound)
		return
	}

	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if errs := h.settings.SetNamespace(ns, values); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		writeActionError(w, http.StatusBadRequest, fmt.Errorf("%d setting(s) rejected: %v", len(errs), msgs))
		return
	}

	writeOK(w)
}
