package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// StreamReader reads entries of a durable stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// AuditLister lists audit log entries.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// EventHandler serves the position transition stream and the audit log.
// Either source may be nil; its endpoint then responds 404.
type EventHandler struct {
	stream StreamReader
	name   string
	audit  AuditLister
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler reading the named stream.
func NewEventHandler(stream StreamReader, name string, audit AuditLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{stream: stream, name: name, audit: audit, logger: logHandler(logger, "events")}
}

type streamEvent struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ListEvents returns transition events after the given stream id. Clients
// poll with the id of the last event they saw.
// GET /api/events?after=0&count=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotFound, "event stream is not enabled")
		return
	}
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	msgs, err := h.stream.StreamRead(r.Context(), h.name, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Payload: m.Payload})
	}
	resp := map[string]any{"events": events}
	if len(msgs) > 0 {
		resp["last_id"] = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&offset=0&since=...&until=...
func (h *EventHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log is not enabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
