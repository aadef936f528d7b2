// Package match owns the authoritative state of one two-player match, runs
// its tick loop and fans the results out to both occupants.
//
// Every mutation of a match (ticks, paddle input, seat changes) happens
// while holding the match's single lock, which gives each match one logical
// thread of control. Matches share nothing with each other.
package match

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"tanav.me/pong/internal/clock"
	"tanav.me/pong/internal/physics"
	"tanav.me/pong/internal/protocol"
	"tanav.me/pong/internal/tick"
)

// Scorer credits a win and returns the winner's display name together with
// the refreshed leaderboard.
type Scorer interface {
	RecordWin(participantID string) (string, []protocol.LeaderboardEntry, error)
}

type Config struct {
	Rules physics.Rules
	Tick  tick.Config
}

func DefaultConfig() Config {
	return Config{Rules: physics.DefaultRules(), Tick: tick.DefaultConfig()}
}

type Options struct {
	Clock  clock.Clock
	Scorer Scorer
	Logger *slog.Logger
	Rand   *rand.Rand
	// OnEnd runs on the tick goroutine after a match is won, outside the
	// match lock.
	OnEnd func(Result)
}

type Match struct {
	cfg    Config
	clock  clock.Clock
	scorer Scorer
	logger *slog.Logger
	rng    *rand.Rand
	onEnd  func(Result)

	mu      sync.Mutex
	state   State
	channel *Channel
	sched   *tick.Scheduler
}

func New(id string, cfg Config, opts Options) *Match {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("match_id", id)

	return &Match{
		cfg:    cfg,
		clock:  clk,
		scorer: opts.Scorer,
		logger: logger,
		rng:    rng,
		onEnd:  opts.OnEnd,
		state: State{
			ID:     id,
			Phase:  Waiting,
			Device: physics.Standard,
			Table:  physics.NewTable(physics.ProfileFor(physics.Standard), cfg.Rules, rng),
		},
		channel: NewChannel(logger),
	}
}

func (m *Match) ID() string { return m.state.ID }

// Claim seats participantID on side and reports whether that filled the
// match and started it.
func (m *Match) Claim(side physics.Side, participantID string, mobile bool, sub Subscriber) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.sideOf(participantID); ok {
		return false, ErrAlreadySeated
	}
	if m.state.Seats[side] != nil {
		return false, ErrSlotTaken
	}
	m.state.Seats[side] = &Seat{ParticipantID: participantID, Mobile: mobile}
	m.channel.Set(side, sub)
	m.channel.Publish(protocol.MsgSlotsUpdate, m.slotsLocked())
	m.logger.Info("side claimed", "participant_id", participantID, "side", side.String())

	if !m.state.full() {
		return false, nil
	}
	m.startLocked()
	return true, nil
}

// SetMobile records the occupant's device class. It only matters before the
// match starts.
func (m *Match) SetMobile(participantID string, mobile bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	side, ok := m.state.sideOf(participantID)
	if !ok {
		return false
	}
	m.state.Seats[side].Mobile = mobile
	return true
}

// MovePaddle writes the occupant's paddle position as sent. Positions are
// not clamped. The opponent is only told while the match is running; before
// that the position is kept for the next start.
func (m *Match) MovePaddle(participantID string, y float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	side, ok := m.state.sideOf(participantID)
	if !ok {
		return ErrNotSeated
	}
	m.state.Table.Paddles[side].Y = y
	if m.state.Phase != Active {
		return nil
	}
	m.channel.SendTo(side.Opposite(), protocol.MsgOpponentPaddleMoved, protocol.OpponentPaddleMoved{
		Side:     side.String(),
		Position: y,
	})
	return nil
}

// Departure describes the effect of Vacate.
type Departure struct {
	Side physics.Side
	// Ended is set when the departure interrupted a running match.
	Ended  bool
	Result Result
	// Empty is set when no occupant is left and the match can be dropped.
	Empty bool
}

// Vacate frees the side held by participantID. A running match is ended and
// the remaining occupant told that its opponent left.
func (m *Match) Vacate(participantID string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	side, ok := m.state.sideOf(participantID)
	if !ok {
		return Departure{}, false
	}
	wasActive := m.state.Phase == Active
	m.stopLocked()
	if wasActive {
		m.state.Phase = Ended
	}
	m.state.Seats[side] = nil
	m.channel.Clear(side)

	dep := Departure{Side: side, Empty: m.state.empty()}
	if other := m.state.Seats[side.Opposite()]; other != nil {
		if wasActive {
			m.channel.Publish(protocol.MsgOpponentDisconnected, protocol.OpponentDisconnected{Side: side.String()})
		}
		m.channel.Publish(protocol.MsgSlotsUpdate, m.slotsLocked())
		if wasActive {
			dep.Ended = true
			dep.Result = Result{
				MatchID:  m.state.ID,
				Reason:   ReasonOpponentLeft,
				Winner:   side.Opposite(),
				WinnerID: other.ParticipantID,
				Scores:   m.state.Table.Scores,
			}
		}
	}
	m.logger.Info("side vacated", "participant_id", participantID, "side", side.String(), "interrupted", dep.Ended)
	return dep, true
}

// ReleaseAll frees both sides of a finished match.
func (m *Match) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.state.Phase = Ended
	m.state.Seats = [2]*Seat{}
	m.channel.Publish(protocol.MsgSlotsUpdate, m.slotsLocked())
	m.channel.Clear(physics.Left)
	m.channel.Clear(physics.Right)
}

// Stop cancels the tick loop without touching the seats.
func (m *Match) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	if m.state.Phase == Active {
		m.state.Phase = Ended
	}
}

func (m *Match) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Phase
}

func (m *Match) Device() physics.DeviceClass {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Device
}

// Slots returns the participant ids per side; "" means free.
func (m *Match) Slots() [2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [2]string
	for side, seat := range m.state.Seats {
		if seat != nil {
			out[side] = seat.ParticipantID
		}
	}
	return out
}

func (m *Match) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.empty()
}

func (m *Match) Scores() [2]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Table.Scores
}

func (m *Match) Ball() physics.Ball {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Table.Ball
}

func (m *Match) Paddle(side physics.Side) physics.Paddle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Table.Paddles[side]
}

// TickRate is the current target rate, or 0 when no loop is running.
func (m *Match) TickRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched == nil || m.sched.Stopped() {
		return 0
	}
	return m.sched.Rate()
}

func (m *Match) startLocked() {
	device := m.state.deviceClass()
	profile := physics.ProfileFor(device)
	m.state.Device = device
	prev := m.state.Table
	m.state.Table = physics.NewTable(profile, m.cfg.Rules, m.rng)
	for _, side := range []physics.Side{physics.Left, physics.Right} {
		m.state.Table.Paddles[side].Y = prev.Paddles[side].Y
	}
	m.state.Phase = Active

	ctrl := tick.NewController(m.cfg.Tick)
	if device == physics.CompactMobile {
		ctrl.Pin(m.cfg.Tick.MobileHz)
	}
	var sched *tick.Scheduler
	sched = tick.NewScheduler(m.clock, ctrl, func(now time.Time) bool {
		return m.tick(sched, now)
	})
	m.sched = sched

	m.channel.Publish(protocol.MsgMatchStarted, protocol.MatchStarted{
		MatchID:      m.state.ID,
		DeviceClass:  string(device),
		Width:        m.state.Table.Width,
		Height:       m.state.Table.Height,
		PaddleWidth:  profile.PaddleWidth,
		PaddleHeight: profile.PaddleHeight,
		PaddleOffset: profile.PaddleOffset,
		BallRadius:   profile.BallRadius,
	})
	m.channel.Publish(protocol.MsgScoreUpdate, m.scoresLocked())
	m.publishBallLocked()
	sched.Start()

	m.logger.Info("match started",
		"device", string(device),
		"tick_hz", ctrl.Rate(),
		"left", m.state.Seats[physics.Left].ParticipantID,
		"right", m.state.Seats[physics.Right].ParticipantID)
}

// tick is the scheduler step. s identifies the scheduler that fired so a
// stale loop from a previous start can never touch the current state.
func (m *Match) tick(s *tick.Scheduler, now time.Time) bool {
	m.mu.Lock()
	if s != m.sched || s.Stopped() || m.state.Phase != Active || !m.state.full() {
		m.mu.Unlock()
		return false
	}

	var result *Result
	for _, ev := range physics.Step(m.state.Table, now, m.rng) {
		switch ev.Kind {
		case physics.Scored:
			m.channel.Publish(protocol.MsgScoreUpdate, m.scoresLocked())
		case physics.MatchEnded:
			r := m.finishLocked(ev.Side)
			result = &r
		}
	}
	if result == nil {
		m.publishBallLocked()
	}
	m.mu.Unlock()

	if result != nil {
		if m.onEnd != nil {
			m.onEnd(*result)
		}
		return false
	}
	return true
}

func (m *Match) finishLocked(winner physics.Side) Result {
	m.stopLocked()
	m.state.Phase = Ended

	seat := m.state.Seats[winner]
	res := Result{
		MatchID:  m.state.ID,
		Reason:   ReasonWin,
		Winner:   winner,
		WinnerID: seat.ParticipantID,
		Scores:   m.state.Table.Scores,
	}

	board := []protocol.LeaderboardEntry{}
	if m.scorer != nil {
		name, b, err := m.scorer.RecordWin(seat.ParticipantID)
		if err != nil {
			m.logger.Warn("record win", "participant_id", seat.ParticipantID, "error", err)
		}
		res.WinnerName = name
		if b != nil {
			board = b
		}
	}

	m.channel.Publish(protocol.MsgMatchEnded, protocol.MatchEnded{
		WinnerName:  res.WinnerName,
		WinnerSide:  winner.String(),
		Leaderboard: board,
	})
	m.logger.Info("match ended",
		"winner", res.WinnerID,
		"side", winner.String(),
		"left_score", res.Scores[physics.Left],
		"right_score", res.Scores[physics.Right])
	return res
}

func (m *Match) stopLocked() {
	if m.sched != nil {
		m.sched.Stop()
	}
}

func (m *Match) publishBallLocked() {
	b := m.state.Table.Ball
	m.channel.Publish(protocol.MsgBallState, protocol.BallState{X: b.X, Y: b.Y})
}

func (m *Match) scoresLocked() protocol.ScoreUpdate {
	s := m.state.Table.Scores
	return protocol.ScoreUpdate{Left: s[physics.Left], Right: s[physics.Right]}
}

func (m *Match) slotsLocked() protocol.SlotsUpdate {
	var out protocol.SlotsUpdate
	if seat := m.state.Seats[physics.Left]; seat != nil {
		id := seat.ParticipantID
		out.Left = &id
	}
	if seat := m.state.Seats[physics.Right]; seat != nil {
		id := seat.ParticipantID
		out.Right = &id
	}
	return out
}
