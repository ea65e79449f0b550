package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// PositionService defines the session queries the position handler needs.
type PositionService interface {
	OpenPositions(instrumentID string) []*domain.Position
	ClosedPositions() []*domain.Position
	Position(id int64) (*domain.Position, error)
}

// PositionHistory reads persisted position snapshots.
type PositionHistory interface {
	GetByID(ctx context.Context, id int64) (domain.Position, error)
	ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position endpoints from the live session, falling
// back to persisted snapshots when a history store is configured.
type PositionHandler struct {
	positions PositionService
	history   PositionHistory
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. history may be nil.
func NewPositionHandler(positions PositionService, history PositionHistory, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		history:   history,
		logger:    logHandler(logger, "positions"),
	}
}

type listPositionsResponse struct {
	Positions []*domain.Position `json:"positions"`
}

// ListPositions returns session positions. status=closed lists positions
// that are no longer open; otherwise open positions are listed, optionally
// filtered by instrument.
// GET /api/positions?instrument=EURUSD&status=open
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var positions []*domain.Position
	switch q.Get("status") {
	case "", "open":
		positions = h.positions.OpenPositions(q.Get("instrument"))
	case "closed":
		positions = h.positions.ClosedPositions()
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position by id.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}

	p, err := h.positions.Position(id)
	if err == nil {
		writeJSON(w, http.StatusOK, p)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) || h.history == nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	snap, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "snapshot lookup failed",
				slog.Int64("id", id),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, errorStatus(err), "position not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListHistory returns persisted closed positions, newest first.
// GET /api/positions/history?limit=50&offset=0&since=...&until=...
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "position history is not enabled")
		return
	}
	positions, err := h.history.ListClosed(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

type riskResponse struct {
	ID               int64    `json:"id"`
	Current          float64  `json:"current"`
	StopLoss         float64  `json:"stop_loss"`
	UnrealizedReturn float64  `json:"unrealized_return"`
	Invested         *float64 `json:"invested,omitempty"`
	Buffer           *float64 `json:"buffer,omitempty"`
	BufferStopLoss   *float64 `json:"buffer_stop_loss,omitempty"`
	BufferTakeProfit *float64 `json:"buffer_take_profit,omitempty"`
	MinWatermark     float64  `json:"min_watermark"`
	MaxWatermark     float64  `json:"max_watermark"`
	CurrentWatermark float64  `json:"current_watermark"`
}

// GetRisk evaluates the risk figures of one position at a caller-supplied
// price. With buffer set it also returns the stop-loss and take-profit
// that buffer would place.
// GET /api/positions/{id}/risk?current=1.105&buffer=0.5
func (h *PositionHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	current, err := strconv.ParseFloat(q.Get("current"), 64)
	if err != nil || current <= 0 {
		writeError(w, http.StatusBadRequest, "current must be a positive price")
		return
	}

	p, err := h.positions.Position(id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	resp := riskResponse{
		ID:               id,
		Current:          current,
		MinWatermark:     p.MinWatermark,
		MaxWatermark:     p.MaxWatermark,
		CurrentWatermark: p.CurrentWatermark,
	}
	if resp.StopLoss, err = p.StopLossPrice(); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if resp.UnrealizedReturn, err = p.UnrealizedReturn(current); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if amount, ok := p.InvestedAmount(); ok {
		resp.Invested = &amount
	}

	if v := q.Get("buffer"); v != "" {
		buffer, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "buffer must be a number")
			return
		}
		sl, err := p.ComputeStopLoss(buffer, current)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		tp, err := p.ComputeTakeProfit(buffer, current)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		sl, tp = domain.RoundSig(sl, 8), domain.RoundSig(tp, 8)
		resp.Buffer, resp.BufferStopLoss, resp.BufferTakeProfit = &buffer, &sl, &tp
	}
	writeJSON(w, http.StatusOK, resp)
}

func positionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return 0, false
	}
	return id, true
}
