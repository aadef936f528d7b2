// Package sink forwards leaderboard snapshots and match lifecycle events to
// external collaborators. Delivery is asynchronous and lossy: a full queue
// drops the newest item instead of stalling a match.
package sink

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tanav.me/pong/internal/roster"
)

const (
	EventMatchStarted = "matchStarted"
	EventMatchEnded   = "matchEnded"
)

// MatchEvent is a lifecycle record of one match.
type MatchEvent struct {
	Type       string    `json:"type"`
	MatchID    string    `json:"matchId"`
	Device     string    `json:"deviceClass,omitempty"`
	Left       string    `json:"left,omitempty"`
	Right      string    `json:"right,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	WinnerSide string    `json:"winnerSide,omitempty"`
	WinnerName string    `json:"winnerName,omitempty"`
	Scores     [2]int    `json:"scores"`
	At         time.Time `json:"at"`
}

// LeaderboardStore keeps an external copy of the leaderboard.
type LeaderboardStore interface {
	SaveLeaderboard(ctx context.Context, entries []roster.Entry) error
}

// EventPublisher ships match events to an external stream.
type EventPublisher interface {
	PublishMatchEvent(ctx context.Context, ev MatchEvent) error
}

type Noop struct{}

func (Noop) SaveLeaderboard(context.Context, []roster.Entry) error { return nil }

func (Noop) PublishMatchEvent(context.Context, MatchEvent) error { return nil }

type job struct {
	board []roster.Entry
	event *MatchEvent
}

// Dispatcher queues work for the external collaborators and runs it on a
// single goroutine.
type Dispatcher struct {
	store   LeaderboardStore
	events  EventPublisher
	queue   chan job
	timeout time.Duration
	logger  *slog.Logger
	dropped atomic.Uint64
}

func NewDispatcher(store LeaderboardStore, events EventPublisher, size int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if store == nil {
		store = Noop{}
	}
	if events == nil {
		events = Noop{}
	}
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		store:   store,
		events:  events,
		queue:   make(chan job, size),
		timeout: timeout,
		logger:  logger,
	}
}

// EnqueueLeaderboard schedules a leaderboard write. It never blocks.
func (d *Dispatcher) EnqueueLeaderboard(entries []roster.Entry) {
	board := make([]roster.Entry, len(entries))
	copy(board, entries)
	d.enqueue(job{board: board}, "leaderboard")
}

// EnqueueMatchEvent schedules an event publish. It never blocks.
func (d *Dispatcher) EnqueueMatchEvent(ev MatchEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.enqueue(job{event: &ev}, ev.Type)
}

func (d *Dispatcher) enqueue(j job, kind string) {
	select {
	case d.queue <- j:
	default:
		d.dropped.Add(1)
		d.logger.Warn("sink queue full, dropping", "kind", kind)
	}
}

// Dropped counts items discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return nil
		case j := <-d.queue:
			d.handle(j)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case j := <-d.queue:
			d.handle(j)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if j.event != nil {
		if err := d.events.PublishMatchEvent(ctx, *j.event); err != nil {
			d.logger.Error("publish match event", "type", j.event.Type, "match_id", j.event.MatchID, "error", err)
		}
		return
	}
	if err := d.store.SaveLeaderboard(ctx, j.board); err != nil {
		d.logger.Error("save leaderboard", "entries", len(j.board), "error", err)
	}
}
