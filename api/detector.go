package api

import (
	"context"
	"net/http"

	"github.com/nemezkarl-source/DD5KA/metrics"
	"github.com/nemezkarl-source/DD5KA/services"
)

type DetectorHandler struct {
	ctl     *services.DetectorControl
	metrics *metrics.Metrics
}

func NewDetectorHandler(ctl *services.DetectorControl, m *metrics.Metrics) *DetectorHandler {
	return &DetectorHandler{ctl: ctl, metrics: m}
}

func (h *DetectorHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "start", h.ctl.Start)
}

func (h *DetectorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "stop", h.ctl.Stop)
}

func (h *DetectorHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "restart", h.ctl.Restart)
}

func (h *DetectorHandler) action(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		if h.metrics != nil {
			h.metrics.ControlActions.WithLabelValues(name, "error").Inc()
		}
		writeActionError(w, http.StatusInternalServerError, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ControlActions.WithLabelValues(name, "ok").Inc()
	}
	writeOK(w)
}

func (h *DetectorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status(r.Context()))
}
