package handlers

import (
	"net/http"

	"github.com/vango-go/vai-relay/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-relay/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 once the process starts draining.
type ReadyHandler struct {
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool    `json:"ok"`
		Draining      bool    `json:"draining"`
		LiveSessions  int     `json:"live_sessions"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}

	draining := h.Lifecycle.IsDraining()
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:            !draining,
		Draining:      draining,
		LiveSessions:  h.LiveSessions.Count(),
		UptimeSeconds: h.Lifecycle.Uptime().Seconds(),
	})
}
