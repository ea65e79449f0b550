package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// MarketService defines the catalog and quote queries the market handler
// needs.
type MarketService interface {
	LatestTick(symbol string) (domain.Tick, error)
	Instruments(typ domain.InstrumentType) []domain.Instrument
	Leverages(typ domain.InstrumentType, instrumentID string) (domain.LeverageTable, error)
	TopAssets(typ domain.InstrumentType) []int64
}

// TickReader reads mirrored ticks written by another session process.
type TickReader interface {
	GetTick(ctx context.Context, symbol string) (domain.Tick, error)
}

// MarketHandler serves quote and instrument catalog endpoints.
type MarketHandler struct {
	market MarketService
	mirror TickReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. mirror may be nil.
func NewMarketHandler(market MarketService, mirror TickReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, mirror: mirror, logger: logHandler(logger, "market")}
}

// GetTick returns the newest quote for a symbol, consulting the tick mirror
// when the session has not seen the symbol.
// GET /api/ticks/{symbol}
func (h *MarketHandler) GetTick(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(pathParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	t, err := h.market.LatestTick(symbol)
	if err == nil {
		writeJSON(w, http.StatusOK, t)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) || h.mirror == nil {
		writeError(w, errorStatus(err), "no tick for "+symbol)
		return
	}

	t, err = h.mirror.GetTick(r.Context(), symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "tick mirror read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, errorStatus(err), "no tick for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type instrumentsResponse struct {
	Type        domain.InstrumentType `json:"type"`
	Instruments []domain.Instrument   `json:"instruments"`
	TopAssets   []int64               `json:"top_assets"`
}

// ListInstruments returns the catalog and top assets of one instrument type.
// GET /api/instruments/{type}
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	typ := domain.InstrumentType(pathParam(r, "type"))
	resp := instrumentsResponse{
		Type:        typ,
		Instruments: h.market.Instruments(typ),
		TopAssets:   h.market.TopAssets(typ),
	}
	if resp.Instruments == nil {
		resp.Instruments = []domain.Instrument{}
	}
	if resp.TopAssets == nil {
		resp.TopAssets = []int64{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLeverages returns the leverage table of one instrument.
// GET /api/instruments/{type}/{id}/leverages
func (h *MarketHandler) GetLeverages(w http.ResponseWriter, r *http.Request) {
	typ := domain.InstrumentType(pathParam(r, "type"))
	id := pathParam(r, "id")
	table, err := h.market.Leverages(typ, id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":          typ,
		"instrument_id": id,
		"leverages":     table,
	})
}
