package realtime

import (
	"context"
	"log/slog"

	"qrattend/internal/appstate"
	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

// StatsRefresher recomputes a day's stats after a write.
type StatsRefresher interface {
	Refresh(ctx context.Context, date string) (attendance.Stats, error)
}

// Relay is the ledger's publisher in the API process: it applies each
// attendance event and the day's fresh stats to the application state,
// pushes both to dashboards, then forwards the message to next for
// out-of-process consumers.
type Relay struct {
	hub    *Hub
	next   attendance.Publisher
	stats  StatsRefresher
	state  *appstate.State
	logger *slog.Logger
}

// NewRelay creates a relay. hub, next, stats and state may be nil.
func NewRelay(hub *Hub, next attendance.Publisher, stats StatsRefresher, state *appstate.State, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{hub: hub, next: next, stats: stats, state: state, logger: logger}
}

func (r *Relay) Publish(ctx context.Context, msg queue.Message) error {
	if msg.Type == queue.TypeAttendanceMarked {
		r.broadcastMarked(ctx, msg)
	}
	if r.next == nil {
		return nil
	}
	return r.next.Publish(ctx, msg)
}

func (r *Relay) broadcastMarked(ctx context.Context, msg queue.Message) {
	evt, err := queue.DecodeMarked(msg)
	if err != nil {
		r.logger.Warn("decode attendance event", "error", err)
		return
	}
	r.applyMarked(evt)
	r.broadcast(ctx, Frame{Type: FrameAttendanceMarked, Payload: evt})

	if r.stats == nil {
		return
	}
	stats, err := r.stats.Refresh(ctx, evt.Date)
	if err != nil {
		r.logger.Warn("refresh stats", "date", evt.Date, "error", err)
		return
	}
	if r.state != nil {
		r.state.SetStats(stats)
	}
	r.broadcast(ctx, Frame{Type: FrameStatsUpdated, Payload: stats})
}

func (r *Relay) applyMarked(evt queue.MarkedEvent) {
	if r.state == nil {
		return
	}
	rec := attendance.Record{
		ID:        evt.RecordID,
		StudentID: evt.StudentID,
		Date:      evt.Date,
		Time:      evt.Time,
		Status:    attendance.Status(evt.Status),
	}
	if st, ok := r.state.StudentByID(evt.StudentID); ok {
		rec.Student = &st
	}
	if evt.Inserted || !r.state.UpdateAttendanceRecord(rec) {
		r.state.AddAttendanceRecord(rec)
	}
}

func (r *Relay) broadcast(ctx context.Context, f Frame) {
	if r.hub != nil {
		r.hub.Broadcast(ctx, f)
	}
}
