package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// SnapshotStore implements domain.PositionSnapshotStore. The full position
// is kept as JSONB; a few columns are lifted out for filtering.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func closedAt(p domain.Position) *time.Time {
	if p.CloseAt == 0 {
		return nil
	}
	t := time.UnixMilli(p.CloseAt).UTC()
	return &t
}

// Upsert writes the latest state of p.
func (s *SnapshotStore) Upsert(ctx context.Context, p domain.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("postgres: marshal position %d: %w", p.ID, err)
	}

	const query = `
		INSERT INTO position_snapshots (id, instrument_type, instrument_id, status, data, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			instrument_type = EXCLUDED.instrument_type,
			instrument_id   = EXCLUDED.instrument_id,
			status          = EXCLUDED.status,
			data            = EXCLUDED.data,
			closed_at       = EXCLUDED.closed_at,
			updated_at      = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, string(p.InstrumentType), p.InstrumentID, string(p.Status), data, closedAt(p))
	if err != nil {
		return fmt.Errorf("postgres: upsert position %d: %w", p.ID, err)
	}
	return nil
}

// GetByID returns the stored snapshot or domain.ErrNotFound.
func (s *SnapshotStore) GetByID(ctx context.Context, id int64) (domain.Position, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM position_snapshots WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	var p domain.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: decode position %d: %w", id, err)
	}
	return p, nil
}

// ListClosed returns closed positions, most recently closed first.
func (s *SnapshotStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := appendListOpts(
		`SELECT data FROM position_snapshots WHERE status = 'closed'`, nil, "closed_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		var p domain.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("postgres: decode position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed positions rows: %w", err)
	}
	return out, nil
}

var _ domain.PositionSnapshotStore = (*SnapshotStore)(nil)
