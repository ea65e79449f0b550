package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	positions map[int64]*domain.Position
	ticks     map[string]domain.Tick
	catalog   []domain.Instrument
	levs      map[string]domain.LeverageTable
	lastQuery string
}

func newFakeSession() *fakeSession {
	amount := int64(68000000)
	return &fakeSession{
		positions: map[int64]*domain.Position{
			7: {ID: 7, Status: domain.PositionStatusOpen, InstrumentID: "EURUSD", Leverage: 50,
				BuyAvgPriceEnrolled: 1.1, Extra: domain.PositionExtra{Amount: &amount},
				MinWatermark: domain.WatermarkUnsetMin, MaxWatermark: domain.WatermarkUnsetMax,
				CurrentWatermark: domain.WatermarkUnsetCurrent},
			5: {ID: 5, Status: domain.PositionStatusClosed, InstrumentID: "GBPAUD"},
		},
		ticks:   map[string]domain.Tick{"EURUSD": {Symbol: "EURUSD", Time: 100, Value: 1.105}},
		catalog: []domain.Instrument{{ID: "EURUSD", ActiveID: 1, Type: domain.InstrumentForex}},
		levs:    map[string]domain.LeverageTable{"EURUSD": {50: true, 100: false}},
	}
}

func (f *fakeSession) Status() domain.SessionStatus {
	return domain.SessionStatus{Mode: "full", Connected: true, ActiveAccount: domain.AccountPractice,
		ServerTime: 1700000000000, OpenPositions: 1, Positions: 2}
}

func (f *fakeSession) ServerTime() time.Time { return time.UnixMilli(1700000000000) }

func (f *fakeSession) OpenPositions(instrumentID string) []*domain.Position {
	f.lastQuery = instrumentID
	var out []*domain.Position
	for _, p := range f.positions {
		if p.Status == domain.PositionStatusOpen && (instrumentID == "" || p.InstrumentID == instrumentID) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeSession) ClosedPositions() []*domain.Position {
	return []*domain.Position{f.positions[5]}
}

func (f *fakeSession) Position(id int64) (*domain.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return nil, fmt.Errorf("trading: position %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakeSession) LatestTick(symbol string) (domain.Tick, error) {
	t, ok := f.ticks[symbol]
	if !ok {
		return domain.Tick{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeSession) Instruments(typ domain.InstrumentType) []domain.Instrument {
	if typ != domain.InstrumentForex {
		return nil
	}
	return f.catalog
}

func (f *fakeSession) Leverages(typ domain.InstrumentType, id string) (domain.LeverageTable, error) {
	t, ok := f.levs[id]
	if !ok || typ != domain.InstrumentForex {
		return nil, domain.ErrUnknownInstrument
	}
	return t, nil
}

func (f *fakeSession) TopAssets(domain.InstrumentType) []int64 { return nil }

type fakeHistory struct{}

func (fakeHistory) GetByID(_ context.Context, id int64) (domain.Position, error) {
	if id == 99 {
		return domain.Position{ID: 99, Status: domain.PositionStatusClosed}, nil
	}
	return domain.Position{}, domain.ErrNotFound
}

func (fakeHistory) ListClosed(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	if opts.Limit != 2 {
		return nil, errors.New("unexpected limit")
	}
	return []domain.Position{{ID: 99}, {ID: 98}}, nil
}

type fakeMirror map[string]domain.Tick

func (m fakeMirror) GetTick(_ context.Context, symbol string) (domain.Tick, error) {
	t, ok := m[symbol]
	if !ok {
		return domain.Tick{}, domain.ErrNotFound
	}
	return t, nil
}

type fakeArchives struct{ triggered int }

func (a *fakeArchives) ArchiveClosed(context.Context) (string, int, error) {
	a.triggered++
	return "archive/positions/2026/10/16/closed-1.jsonl", 3, nil
}

func (a *fakeArchives) ListArchives(context.Context) ([]domain.BlobInfo, error) {
	return nil, nil
}

type fakeStream struct {
	stream, after string
}

func (s *fakeStream) StreamRead(_ context.Context, stream, after string, count int) ([]domain.StreamMessage, error) {
	s.stream, s.after = stream, after
	return []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"position.closed"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
	}, nil
}

type fakeAudit struct{}

func (fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{{ID: 1, Event: "position.closed"}}, nil
}

type serverFixture struct {
	session  *fakeSession
	archives *fakeArchives
	stream   *fakeStream
	checks   map[string]handler.Check
}

func newServerFixture() *serverFixture {
	return &serverFixture{
		session:  newFakeSession(),
		archives: &fakeArchives{},
		stream:   &fakeStream{},
		checks:   map[string]handler.Check{},
	}
}

func (f *serverFixture) handler(cfg Config, withStores bool) http.Handler {
	logger := discardLogger()
	h := Handlers{
		Health: handler.NewHealthHandler(f.checks, logger),
		Status: handler.NewStatusHandler(f.session),
	}
	if withStores {
		h.Positions = handler.NewPositionHandler(f.session, fakeHistory{}, logger)
		h.Market = handler.NewMarketHandler(f.session, fakeMirror{"USDJPY": {Symbol: "USDJPY", Value: 150.1}}, logger)
		h.Archives = handler.NewArchiveHandler(f.archives, logger)
		h.Events = handler.NewEventHandler(f.stream, "iqsession:positions:stream", fakeAudit{}, logger)
	} else {
		h.Positions = handler.NewPositionHandler(f.session, nil, logger)
		h.Market = handler.NewMarketHandler(f.session, nil, logger)
	}
	return NewHandler(cfg, h, nil, logger)
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newServerFixture()
	rec, body := do(t, f.handler(Config{}, false), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "dependencies")

	f.checks["redis"] = func(context.Context) error { return nil }
	f.checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	rec, body = do(t, f.handler(Config{}, false), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["dependencies"])
}

func TestAuth(t *testing.T) {
	h := newServerFixture().handler(Config{APIKey: "secret"}, false)

	rec, body := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authentication token", body["error"])

	rec, _ = do(t, h, http.MethodGet, "/api/status", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status", http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status", http.Header{"X-Api-Key": {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status?api_key=secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newServerFixture().handler(Config{APIKey: "secret", CORSOrigins: []string{"http://localhost:3000"}}, false)

	rec, _ := do(t, h, http.MethodOptions, "/api/status", http.Header{"Origin": {"http://localhost:3000"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec, _ = do(t, h, http.MethodOptions, "/api/status", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origins still reach auth on real requests.
	rec, _ = do(t, h, http.MethodGet, "/api/status", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, newServerFixture().handler(Config{CORSOrigins: []string{"*"}}, false),
		http.MethodGet, "/api/status", http.Header{"Origin": {"http://any.example"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://any.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus(t *testing.T) {
	rec, body := do(t, newServerFixture().handler(Config{}, false), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "practice", body["active_account"])
	assert.Equal(t, float64(1), body["open_positions"])
	assert.Equal(t, "2023-11-14T22:13:20Z", body["server_time_iso"])
}

func TestPositions(t *testing.T) {
	f := newServerFixture()
	h := f.handler(Config{}, true)

	rec, body := do(t, h, http.MethodGet, "/api/positions?instrument=EURUSD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EURUSD", f.session.lastQuery)
	assert.Len(t, body["positions"], 1)

	rec, body = do(t, h, http.MethodGet, "/api/positions?status=closed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["positions"], 1)

	rec, _ = do(t, h, http.MethodGet, "/api/positions?status=pending", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/api/positions/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["id"])
	assert.Equal(t, 100.0, body["min_watermark"])

	rec, body = do(t, h, http.MethodGet, "/api/positions/99", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/api/positions/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/positions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/api/positions/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["positions"], 2)
}

func TestPositionsWithoutHistory(t *testing.T) {
	h := newServerFixture().handler(Config{}, false)

	rec, _ := do(t, h, http.MethodGet, "/api/positions/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/positions/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionRisk(t *testing.T) {
	h := newServerFixture().handler(Config{}, false)

	rec, body := do(t, h, http.MethodGet, "/api/positions/7/risk?current=1.105&buffer=0.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, (1-0.95/50)*1.1, body["stop_loss"], 1e-12)
	assert.InDelta(t, (1-1.1/1.105)*50-0.02, body["unrealized_return"], 1e-12)
	assert.Equal(t, 68.0, body["invested"])
	assert.InDelta(t, domain.RoundSig(1.1/(1.1/1.105+0.5/50), 8), body["buffer_stop_loss"], 1e-12)
	assert.InDelta(t, domain.RoundSig(1.1/(1.1/1.105-0.5/50), 8), body["buffer_take_profit"], 1e-12)

	rec, body = do(t, h, http.MethodGet, "/api/positions/7/risk?current=1.105", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "buffer_stop_loss")

	rec, _ = do(t, h, http.MethodGet, "/api/positions/7/risk", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/positions/42/risk?current=1.1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicks(t *testing.T) {
	h := newServerFixture().handler(Config{}, true)

	rec, body := do(t, h, http.MethodGet, "/api/ticks/eurusd", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.105, body["value"])

	rec, body = do(t, h, http.MethodGet, "/api/ticks/USDJPY", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 150.1, body["value"])

	rec, _ = do(t, h, http.MethodGet, "/api/ticks/AUDCAD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstruments(t *testing.T) {
	h := newServerFixture().handler(Config{}, false)

	rec, body := do(t, h, http.MethodGet, "/api/instruments/forex", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["instruments"], 1)
	assert.Equal(t, []any{}, body["top_assets"])

	rec, body = do(t, h, http.MethodGet, "/api/instruments/crypto", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["instruments"])

	rec, body = do(t, h, http.MethodGet, "/api/instruments/forex/EURUSD/leverages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"50": true, "100": false}, body["leverages"])

	rec, _ = do(t, h, http.MethodGet, "/api/instruments/forex/XAUUSD/leverages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchives(t *testing.T) {
	f := newServerFixture()
	h := f.handler(Config{}, true)

	rec, body := do(t, h, http.MethodGet, "/api/archives", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["archives"])

	rec, body = do(t, h, http.MethodPost, "/api/archives", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(3), body["positions"])
	assert.Equal(t, 1, f.archives.triggered)

	rec, _ = do(t, f.handler(Config{}, false), http.MethodGet, "/api/archives", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsAndAudit(t *testing.T) {
	f := newServerFixture()
	h := f.handler(Config{}, true)

	rec, body := do(t, h, http.MethodGet, "/api/events?after=0-5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "iqsession:positions:stream", f.stream.stream)
	assert.Equal(t, "0-5", f.stream.after)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "1-0", events[0].(map[string]any)["id"])
	assert.Equal(t, "2-0", body["last_id"])

	rec, body = do(t, h, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "position.closed", entries[0].(map[string]any)["event"])
}
