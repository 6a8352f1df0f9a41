package api

import (
	"encoding/json"
	"net/http"

	"github.com/nemezkarl-source/DD5KA/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, models.ActionResult{OK: true})
}

func writeActionError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ActionResult{OK: false, Error: err.Error()})
}
