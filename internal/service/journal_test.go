package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/notify"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *recordingAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

type recordingSnapshots struct {
	mu  sync.Mutex
	ids []int64
}

func (s *recordingSnapshots) Upsert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, p.ID)
	return nil
}

func (s *recordingSnapshots) GetByID(context.Context, int64) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s *recordingSnapshots) ListClosed(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type titleSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *titleSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *titleSender) Name() string { return "test" }

func (s *titleSender) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error { return errors.New("telegram: status 502") }
func (failingSender) Name() string                               { return "failing" }

func applyRaw(t *testing.T, f tradingFixture, raw string) {
	t.Helper()
	var d domain.PositionDelta
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	_, err := f.stores.Positions.ApplyDelta(d)
	require.NoError(t, err)
}

func TestPositionJournal_PersistsTransitions(t *testing.T) {
	f := newTradingFixture(t)
	audit := &recordingAudit{}
	snaps := &recordingSnapshots{}
	bus := newRecordingBus()
	sender := &titleSender{}

	j := NewPositionJournal(f.stores.Positions, JournalSinks{
		Audit:     audit,
		Snapshots: snaps,
		Bus:       bus,
		Notifier:  notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventPositionClosed}, discardLogger()),
	}, discardLogger())
	f.stores.Positions.OnTransition(j.Record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = j.Run(ctx)
		close(done)
	}()

	applyRaw(t, f, `{"id":7,"status":"closed","close_reason":"stop_loss","close_at":1512137346595}`)
	applyRaw(t, f, `{"id":5,"status":"open"}`)

	require.Eventually(t, func() bool { return audit.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"position_closed", "position_opened"}, audit.events)
	assert.Equal(t, []int64{7, 5}, snaps.ids)
	assert.Len(t, bus.published[TransitionChannel], 2)
	assert.Len(t, bus.streamed[TransitionStream], 2)
	assert.Equal(t, []string{"Position 7 closed"}, sender.all())

	var evt struct {
		Event      string                    `json:"event"`
		Transition domain.PositionTransition `json:"transition"`
	}
	require.NoError(t, json.Unmarshal(bus.published[TransitionChannel][0], &evt))
	assert.Equal(t, "position_closed", evt.Event)
	assert.Equal(t, "stop_loss", evt.Transition.CloseReason)
	assert.Equal(t, "EURUSD", evt.Transition.InstrumentID)
}

func TestPositionJournal_RecordNeverBlocks(t *testing.T) {
	j := NewPositionJournal(newStores().Positions, JournalSinks{}, discardLogger())
	for i := range journalBuffer + 10 {
		j.Record(domain.PositionTransition{ID: int64(i)})
	}
	assert.Len(t, j.queue, journalBuffer)
}

func TestPositionJournal_FlushesOnShutdown(t *testing.T) {
	audit := &recordingAudit{}
	j := NewPositionJournal(newStores().Positions, JournalSinks{Audit: audit}, discardLogger())
	j.Record(domain.PositionTransition{ID: 1})
	j.Record(domain.PositionTransition{ID: 2, Opened: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))
	assert.Equal(t, 2, audit.count())
}

func TestTransitionMessage(t *testing.T) {
	tr := domain.PositionTransition{
		ID: 1, InstrumentID: "EURUSD", Status: domain.PositionStatusClosed, CloseReason: "default",
		MinWatermark: domain.WatermarkUnsetMin, MaxWatermark: domain.WatermarkUnsetMax,
	}
	assert.Equal(t, "EURUSD status=closed reason=default", transitionMessage(tr))

	tr.MinWatermark, tr.MaxWatermark, tr.CurrentWatermark = -1, 2, 0.5
	assert.Equal(t, "EURUSD status=closed reason=default watermark min=-1.0000 max=2.0000 current=0.5000", transitionMessage(tr))
}

func TestPositionJournal_SinkErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	bus := newRecordingBus()
	j := NewPositionJournal(newStores().Positions, JournalSinks{
		Bus:      bus,
		Notifier: notify.NewNotifier([]notify.Sender{failingSender{}}, nil, discardLogger()),
	}, logger)

	j.persist(context.Background(), domain.PositionTransition{ID: 9, CurrentWatermark: math.NaN()})

	assert.Empty(t, bus.published)
	assert.Empty(t, bus.streamed)
	out := buf.String()
	assert.Contains(t, out, `"sink":"encode"`)
	assert.Contains(t, out, `"sink":"notify"`)
	assert.Contains(t, out, "status 502")
}
