package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// ClosedPositionLister lists positions that are no longer open.
type ClosedPositionLister interface {
	ListClosed() []*domain.Position
}

// PositionArchiver uploads a batch of positions and returns the object key.
type PositionArchiver interface {
	Archive(ctx context.Context, positions []domain.Position, at time.Time) (string, error)
	Prefix() string
}

// ArchiveService uploads closed positions that have not been archived yet,
// periodically and once more on shutdown.
type ArchiveService struct {
	source   ClosedPositionLister
	archiver PositionArchiver
	lister   domain.BlobLister
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	archived map[int64]bool
}

// NewArchiveService creates an ArchiveService. lister may be nil.
func NewArchiveService(source ClosedPositionLister, archiver PositionArchiver, lister domain.BlobLister, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		source:   source,
		archiver: archiver,
		lister:   lister,
		logger:   logger.With(slog.String("component", "archive")),
		now:      time.Now,
		archived: make(map[int64]bool),
	}
}

// ArchiveClosed uploads every closed position not archived before and
// returns the key and count. Nothing new means no upload and an empty key.
func (a *ArchiveService) ArchiveClosed(ctx context.Context) (string, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var batch []domain.Position
	for _, p := range a.source.ListClosed() {
		if p.Status == domain.PositionStatusClosed && !a.archived[p.ID] {
			batch = append(batch, *p)
		}
	}
	if len(batch) == 0 {
		return "", 0, nil
	}

	key, err := a.archiver.Archive(ctx, batch, a.now())
	if err != nil {
		return "", 0, fmt.Errorf("archive: %w", err)
	}
	for _, p := range batch {
		a.archived[p.ID] = true
	}
	a.logger.InfoContext(ctx, "closed positions archived", slog.String("path", key), slog.Int("count", len(batch)))
	return key, len(batch), nil
}

// ListArchives returns the uploaded archive objects.
func (a *ArchiveService) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.lister == nil {
		return nil, fmt.Errorf("archive: list: %w", domain.ErrNotFound)
	}
	infos, err := a.lister.List(ctx, a.archiver.Prefix())
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return infos, nil
}

// Run archives every interval, and once more after ctx is done. A zero
// interval archives only on shutdown. Upload failures are logged, never
// returned.
func (a *ArchiveService) Run(ctx context.Context, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			if _, _, err := a.ArchiveClosed(ctx); err != nil {
				a.logger.WarnContext(ctx, "periodic archive failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, _, err := a.ArchiveClosed(final); err != nil {
				a.logger.WarnContext(final, "final archive failed", slog.String("error", err.Error()))
			}
			return nil
		}
	}
}
