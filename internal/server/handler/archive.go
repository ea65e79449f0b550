package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// ArchiveService defines the archive operations exposed over HTTP.
type ArchiveService interface {
	ArchiveClosed(ctx context.Context) (key string, n int, err error)
	ListArchives(ctx context.Context) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves closed-position archive endpoints.
type ArchiveHandler struct {
	archives ArchiveService
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archives ArchiveService, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logHandler(logger, "archives")}
}

// ListArchives returns the archive objects in storage.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	objects, err := h.archives.ListArchives(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed", slog.String("error", err.Error()))
		writeError(w, errorStatus(err), "failed to list archives")
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": objects})
}

// TriggerArchive archives closed positions immediately.
// POST /api/archives
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	key, n, err := h.archives.ArchiveClosed(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive trigger failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}
	h.logger.InfoContext(r.Context(), "archive triggered",
		slog.String("key", key),
		slog.Int("positions", n),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"key":       key,
		"positions": n,
	})
}
