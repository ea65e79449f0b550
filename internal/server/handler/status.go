package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// StatusSource reports the client's runtime state.
type StatusSource interface {
	Status() domain.SessionStatus
	ServerTime() time.Time
}

// StatusHandler serves the session status for dashboards.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

type statusResponse struct {
	domain.SessionStatus
	ServerTimeISO string `json:"server_time_iso,omitempty"`
}

// GetStatus responds with the connection state, active account and
// position counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{SessionStatus: h.source.Status()}
	if resp.ServerTime > 0 {
		resp.ServerTimeISO = h.source.ServerTime().UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}
