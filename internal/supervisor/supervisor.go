// Package supervisor maps websocket connections onto the single arena's
// paddle slots. It owns the current match, creates it when the first side is
// claimed and drops it once nobody is seated.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tanav.me/pong/internal/clock"
	"tanav.me/pong/internal/match"
	"tanav.me/pong/internal/physics"
	"tanav.me/pong/internal/protocol"
	"tanav.me/pong/internal/roster"
	"tanav.me/pong/internal/sink"
)

var (
	ErrUnknownConn     = errors.New("supervisor: unknown connection")
	ErrNotJoined       = errors.New("supervisor: participant has not joined")
	ErrInvalidSide     = errors.New("supervisor: invalid side")
	ErrInvalidName     = errors.New("supervisor: empty display name")
	ErrInvalidPosition = errors.New("supervisor: paddle position is not a finite number")
)

// MaxNameLength is the display name limit in runes.
const MaxNameLength = 10

// ReasonSlotTaken is sent in claimRejected.
const ReasonSlotTaken = "slotTaken"

// Events receives match lifecycle events. It must not block.
type Events interface {
	EnqueueMatchEvent(ev sink.MatchEvent)
}

type Options struct {
	Match  match.Config
	Clock  clock.Clock
	Logger *slog.Logger
	Events Events
	// NewID generates match ids. Defaults to uuid.NewString.
	NewID func() string
	// NewRand seeds each match. Nil gives every match a random source.
	NewRand func() *rand.Rand
}

type conn struct {
	sub    match.Subscriber
	mobile bool
}

type Supervisor struct {
	roster  *roster.Roster
	cfg     match.Config
	clock   clock.Clock
	logger  *slog.Logger
	events  Events
	newID   func() string
	newRand func() *rand.Rand

	mu    sync.Mutex
	conns map[string]*conn
	match *match.Match
}

func New(r *roster.Roster, opts Options) *Supervisor {
	s := &Supervisor{
		roster:  r,
		cfg:     opts.Match,
		clock:   opts.Clock,
		logger:  opts.Logger,
		events:  opts.Events,
		newID:   opts.NewID,
		newRand: opts.NewRand,
		conns:   make(map[string]*conn),
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Attach registers a live connection and sends it the current slots and
// leaderboard.
func (s *Supervisor) Attach(id string, sub match.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[id] = &conn{sub: sub}
	var slots protocol.SlotsUpdate
	if s.match != nil {
		slots = slotsPayload(s.match.Slots())
	}
	s.sendLocked(id, sub, protocol.MsgSlotsUpdate, slots)
	s.sendLocked(id, sub, protocol.MsgLeaderboardUpdate, leaderboard(s.roster.Snapshot()))
	s.logger.Debug("connection attached", "participant_id", id)
}

// Join registers the participant. A repeat join keeps the first name and is
// still acknowledged.
func (s *Supervisor) Join(id, displayName string) error {
	name, err := NormalizeName(displayName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok {
		return ErrUnknownConn
	}
	added := s.roster.RecordJoin(id, name)
	s.sendLocked(id, c.sub, protocol.MsgJoinAccepted, protocol.JoinAccepted{ParticipantID: id})
	if added {
		s.broadcastLocked(protocol.MsgRosterUpdate, s.rosterPayload())
		s.logger.Info("participant joined", "participant_id", id, "name", name)
	}
	return nil
}

// ClaimSide seats the participant. A taken side is answered with
// claimRejected; the other failures are only returned.
func (s *Supervisor) ClaimSide(id, sideName string) error {
	side, ok := physics.ParseSide(sideName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSide, sideName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok {
		return ErrUnknownConn
	}
	if _, joined := s.roster.Get(id); !joined {
		return ErrNotJoined
	}
	if s.match == nil {
		s.match = s.newMatchLocked()
	}
	m := s.match

	started, err := m.Claim(side, id, c.mobile, c.sub)
	if errors.Is(err, match.ErrSlotTaken) {
		s.sendLocked(id, c.sub, protocol.MsgClaimRejected, protocol.ClaimRejected{Reason: ReasonSlotTaken})
		return err
	}
	if err != nil {
		return fmt.Errorf("claim %s: %w", side, err)
	}
	if started {
		s.publishStartedLocked(m)
	}
	return nil
}

// MovePaddle forwards a paddle position to the participant's match.
func (s *Supervisor) MovePaddle(id string, y float64) error {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return ErrInvalidPosition
	}
	s.mu.Lock()
	m := s.match
	s.mu.Unlock()
	if m == nil {
		return match.ErrNotSeated
	}
	return m.MovePaddle(id, y)
}

// ReportDeviceClass records whether the connection is a mobile device. It
// applies to the next match the participant starts.
func (s *Supervisor) ReportDeviceClass(id string, mobile bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok {
		return ErrUnknownConn
	}
	c.mobile = mobile
	if s.match != nil {
		s.match.SetMobile(id, mobile)
	}
	return nil
}

// Leave handles a disconnect: the participant's side is vacated, a running
// match is ended for the opponent, and the roster is rebroadcast.
func (s *Supervisor) Leave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, id)

	if m := s.match; m != nil {
		if dep, ok := m.Vacate(id); ok {
			if dep.Ended {
				s.publishEndedLocked(dep.Result)
			}
			if dep.Empty {
				m.Stop()
				s.match = nil
				s.logger.Debug("match dropped", "match_id", m.ID())
			}
		}
	}

	if s.roster.Remove(id) {
		s.broadcastLocked(protocol.MsgRosterUpdate, s.rosterPayload())
		s.logger.Info("participant left", "participant_id", id)
	}
}

// Close stops the current match.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match != nil {
		s.match.Stop()
		s.match = nil
	}
}

// Current returns the match in progress or waiting for players, if any.
func (s *Supervisor) Current() *match.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match
}

func (s *Supervisor) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Leaderboard is the current top of the roster in wire form.
func (s *Supervisor) Leaderboard() []protocol.LeaderboardEntry {
	return leaderboard(s.roster.Snapshot())
}

// handleEnd runs on the match's tick goroutine after a win.
func (s *Supervisor) handleEnd(res match.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match != nil && s.match.ID() == res.MatchID {
		s.match.ReleaseAll()
		s.match = nil
	}
	s.broadcastLocked(protocol.MsgRosterUpdate, s.rosterPayload())
	s.broadcastLocked(protocol.MsgLeaderboardUpdate, leaderboard(s.roster.Snapshot()))
	s.publishEndedLocked(res)
}

func (s *Supervisor) newMatchLocked() *match.Match {
	var rng *rand.Rand
	if s.newRand != nil {
		rng = s.newRand()
	}
	return match.New(s.newID(), s.cfg, match.Options{
		Clock:  s.clock,
		Scorer: rosterScorer{s.roster},
		Logger: s.logger,
		Rand:   rng,
		OnEnd:  s.handleEnd,
	})
}

func (s *Supervisor) publishStartedLocked(m *match.Match) {
	if s.events == nil {
		return
	}
	slots := m.Slots()
	s.events.EnqueueMatchEvent(sink.MatchEvent{
		Type:    sink.EventMatchStarted,
		MatchID: m.ID(),
		Device:  string(m.Device()),
		Left:    s.nameOf(slots[physics.Left]),
		Right:   s.nameOf(slots[physics.Right]),
		At:      s.clock.Now(),
	})
}

func (s *Supervisor) publishEndedLocked(res match.Result) {
	if s.events == nil {
		return
	}
	name := res.WinnerName
	if name == "" {
		name = s.nameOf(res.WinnerID)
	}
	s.events.EnqueueMatchEvent(sink.MatchEvent{
		Type:       sink.EventMatchEnded,
		MatchID:    res.MatchID,
		Reason:     string(res.Reason),
		WinnerSide: res.Winner.String(),
		WinnerName: name,
		Scores:     res.Scores,
		At:         s.clock.Now(),
	})
}

func (s *Supervisor) nameOf(id string) string {
	p, ok := s.roster.Get(id)
	if !ok {
		return ""
	}
	return p.Name
}

func (s *Supervisor) rosterPayload() []protocol.RosterEntry {
	ps := s.roster.Participants()
	out := make([]protocol.RosterEntry, len(ps))
	for i, p := range ps {
		out[i] = protocol.RosterEntry{ID: p.ID, Name: p.Name, Score: p.Score}
	}
	return out
}

func (s *Supervisor) broadcastLocked(msgType string, payload any) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("encode broadcast", "type", msgType, "error", err)
		return
	}
	for id, c := range s.conns {
		if err := c.sub.Send(frame); err != nil {
			s.logger.Debug("broadcast dropped", "participant_id", id, "type", msgType, "error", err)
		}
	}
}

func (s *Supervisor) sendLocked(id string, sub match.Subscriber, msgType string, payload any) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("encode message", "type", msgType, "error", err)
		return
	}
	if err := sub.Send(frame); err != nil {
		s.logger.Debug("send dropped", "participant_id", id, "type", msgType, "error", err)
	}
}

// NormalizeName trims the display name and cuts it to MaxNameLength runes.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if r := []rune(name); len(r) > MaxNameLength {
		name = strings.TrimSpace(string(r[:MaxNameLength]))
	}
	return name, nil
}

func slotsPayload(slots [2]string) protocol.SlotsUpdate {
	var out protocol.SlotsUpdate
	if id := slots[physics.Left]; id != "" {
		out.Left = &id
	}
	if id := slots[physics.Right]; id != "" {
		out.Right = &id
	}
	return out
}

func leaderboard(entries []roster.Entry) []protocol.LeaderboardEntry {
	out := make([]protocol.LeaderboardEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.LeaderboardEntry{Name: e.Name, Score: e.Score}
	}
	return out
}

// rosterScorer credits wins in the shared roster.
type rosterScorer struct {
	roster *roster.Roster
}

func (r rosterScorer) RecordWin(id string) (string, []protocol.LeaderboardEntry, error) {
	p, err := r.roster.RecordScoreIncrement(id)
	board := leaderboard(r.roster.Snapshot())
	if err != nil {
		return "", board, fmt.Errorf("credit win: %w", err)
	}
	return p.Name, board, nil
}

var _ match.Scorer = rosterScorer{}
