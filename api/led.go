package api

import (
	"net/http"

	"github.com/nemezkarl-source/DD5KA/metrics"
	"github.com/nemezkarl-source/DD5KA/services"
)

type LEDHandler struct {
	led     *services.LEDService
	metrics *metrics.Metrics
}

func NewLEDHandler(led *services.LEDService, m *metrics.Metrics) *LEDHandler {
	return &LEDHandler{led: led, metrics: m}
}

func (h *LEDHandler) Test(w http.ResponseWriter, r *http.Request) {
	if err := h.led.Test(); err != nil {
		if h.metrics != nil {
			h.metrics.ControlActions.WithLabelValues("led_test", "error").Inc()
		}
		writeActionError(w, http.StatusConflict, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ControlActions.WithLabelValues("led_test", "ok").Inc()
	}
	writeOK(w)
}

func (h *LEDHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.led.Status())
}
