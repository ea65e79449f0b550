package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/notify"
)

// Bus channel and stream that carry position transitions.
const (
	TransitionChannel = "iqsession:positions"
	TransitionStream  = "iqsession:positions:stream"
)

const journalBuffer = 256

// PositionGetter reads the current state of a position.
type PositionGetter interface {
	Get(id int64) (*domain.Position, error)
}

// JournalSinks are the optional destinations of the journal. Nil sinks are
// skipped.
type JournalSinks struct {
	Audit     domain.AuditStore
	Snapshots domain.PositionSnapshotStore
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
}

// PositionJournal records every open/close transition. Record logs
// synchronously and queues the rest for Run, so the frame pump never waits
// on I/O.
type PositionJournal struct {
	positions PositionGetter
	sinks     JournalSinks
	closeLog  *slog.Logger
	logger    *slog.Logger
	queue     chan domain.PositionTransition
	timeout   time.Duration
}

// NewPositionJournal creates a journal reading positions from src.
func NewPositionJournal(src PositionGetter, sinks JournalSinks, logger *slog.Logger) *PositionJournal {
	return &PositionJournal{
		positions: src,
		sinks:     sinks,
		closeLog:  logger.With(slog.String("component", "position_close")),
		logger:    logger.With(slog.String("component", "journal")),
		queue:     make(chan domain.PositionTransition, journalBuffer),
		timeout:   10 * time.Second,
	}
}

// Record logs tr and queues it for the sinks. It never blocks; when the
// queue is full the transition is logged and dropped.
func (j *PositionJournal) Record(tr domain.PositionTransition) {
	j.closeLog.Info(transitionEvent(tr),
		slog.Int64("update_at", tr.UpdateAt),
		slog.Int64("create_at", tr.CreateAt),
		slog.Int64("close_at", tr.CloseAt),
		slog.Int64("id", tr.ID),
		slog.Float64("min_watermark", tr.MinWatermark),
		slog.Float64("max_watermark", tr.MaxWatermark),
		slog.Float64("current_watermark", tr.CurrentWatermark),
		slog.String("close_reason", tr.CloseReason),
		slog.String("instrument_id", tr.InstrumentID),
	)

	select {
	case j.queue <- tr:
	default:
		j.logger.Warn("journal queue full, transition not persisted", slog.Int64("id", tr.ID))
	}
}

// Run drains the queue into the sinks until ctx is done, then flushes what
// is already queued.
func (j *PositionJournal) Run(ctx context.Context) error {
	for {
		select {
		case tr := <-j.queue:
			j.persist(ctx, tr)
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

func (j *PositionJournal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	for {
		select {
		case tr := <-j.queue:
			j.persist(ctx, tr)
		default:
			return
		}
	}
}

func (j *PositionJournal) persist(ctx context.Context, tr domain.PositionTransition) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	event := transitionEvent(tr)
	warn := func(sink string, err error) {
		j.logger.WarnContext(ctx, "journal sink failed",
			slog.String("sink", sink), slog.Int64("id", tr.ID), slog.String("error", err.Error()))
	}

	if j.sinks.Audit != nil {
		if err := j.sinks.Audit.Log(ctx, event, transitionDetail(tr)); err != nil {
			warn("audit", err)
		}
	}

	if j.sinks.Snapshots != nil {
		if p, err := j.positions.Get(tr.ID); err == nil {
			if err := j.sinks.Snapshots.Upsert(ctx, *p); err != nil {
				warn("snapshots", err)
			}
		}
	}

	if j.sinks.Bus != nil {
		j.publish(ctx, event, tr, warn)
	}

	if j.sinks.Notifier != nil {
		notifyEvent := notify.EventPositionOpened
		if !tr.Opened {
			notifyEvent = notify.EventPositionClosed
		}
		if err := j.sinks.Notifier.Notify(ctx, notifyEvent, transitionTitle(tr), transitionMessage(tr)); err != nil {
			warn("notify", err)
		}
	}
}

func (j *PositionJournal) publish(ctx context.Context, event string, tr domain.PositionTransition, warn func(string, error)) {
	payload, err := json.Marshal(map[string]any{"event": event, "transition": tr})
	if err != nil {
		warn("encode", err)
		return
	}
	if err := j.sinks.Bus.Publish(ctx, TransitionChannel, payload); err != nil {
		warn("publish", err)
	}
	if err := j.sinks.Bus.StreamAppend(ctx, TransitionStream, payload); err != nil {
		warn("stream", err)
	}
}

func transitionEvent(tr domain.PositionTransition) string {
	if tr.Opened {
		return "position_opened"
	}
	return "position_closed"
}

func transitionDetail(tr domain.PositionTransition) map[string]any {
	return map[string]any{
		"id":                tr.ID,
		"instrument_id":     tr.InstrumentID,
		"status":            string(tr.Status),
		"create_at":         tr.CreateAt,
		"update_at":         tr.UpdateAt,
		"close_at":          tr.CloseAt,
		"close_reason":      tr.CloseReason,
		"min_watermark":     tr.MinWatermark,
		"max_watermark":     tr.MaxWatermark,
		"current_watermark": tr.CurrentWatermark,
	}
}

func transitionTitle(tr domain.PositionTransition) string {
	if tr.Opened {
		return fmt.Sprintf("Position %d opened", tr.ID)
	}
	return fmt.Sprintf("Position %d closed", tr.ID)
}

func transitionMessage(tr domain.PositionTransition) string {
	msg := fmt.Sprintf("%s status=%s", tr.InstrumentID, tr.Status)
	if tr.CloseReason != "" {
		msg += " reason=" + tr.CloseReason
	}
	if tr.MaxWatermark >= tr.MinWatermark {
		msg += fmt.Sprintf(" watermark min=%.4f max=%.4f current=%.4f", tr.MinWatermark, tr.MaxWatermark, tr.CurrentWatermark)
	}
	return msg
}
