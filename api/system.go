package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/nemezkarl-source/DD5KA/models"
	"github.com/nemezkarl-source/DD5KA/services"
)

type SystemHandler struct {
	camera *services.CameraService
	net    *services.NetworkManager
}

func NewSystemHandler(camera *services.CameraService, net *services.NetworkManager) *SystemHandler {
	return &SystemHandler{camera: camera, net: net}
}

// Health reports subsystem health; the camera field is "ok", "busy" or "error".
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	camera := h.camera.Health()
	status := "ok"
	if camera == "error" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, models.HealthStatus{Status: status, Camera: camera})
}

// NetworkStatus reports the NetworkManager view of connectivity. nmcli
// failures degrade to a disconnected answer; the pollers self-heal next tick.
func (h *SystemHandler) NetworkStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.net.Status(r.Context())
	if err != nil {
		log.Printf("api: nm status: %v", err)
		st = models.NetworkStatus{Mode: "unknown"}
	}
	writeJSON(w, http.StatusOK, st)
}

// Snapshot serves one camera JPEG. Busy captures return 503 so the detector
// daemon retries instead of failing hard.
func (h *SystemHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.camera.Capture(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrCameraBusy) {
			http.Error(w, "camera busy", http.StatusServiceUnavailable)
			return
		}
		log.Printf("api: snapshot: %v", err)
		http.Error(w, "capture failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}
