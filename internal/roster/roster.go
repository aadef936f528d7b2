// Package roster tracks connected participants and derives the leaderboard
// from their cumulative win counts. It is shared by every match and
// connection handler, so all access goes through its own lock.
package roster

import (
	"cmp"
	"errors"
	"slices"
	"sync"
)

var ErrUnknownParticipant = errors.New("roster: unknown participant")

// LeaderboardSize is how many entries Snapshot returns.
const LeaderboardSize = 10

type Participant struct {
	ID    string
	Name  string
	Score int
}

type Entry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type Roster struct {
	mu    sync.Mutex
	order []*Participant
	byID  map[string]*Participant
	board []Entry

	observers []func([]Entry)
}

func New() *Roster {
	return &Roster{byID: make(map[string]*Participant)}
}

// OnLeaderboardChange registers fn to receive every recomputed leaderboard.
// fn runs outside the roster lock and must not block.
func (r *Roster) OnLeaderboardChange(fn func([]Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// RecordJoin adds a participant. A repeat join with a known id is a no-op
// and reports false.
func (r *Roster) RecordJoin(id, name string) bool {
	r.mu.Lock()
	if _, ok := r.byID[id]; ok {
		r.mu.Unlock()
		return false
	}
	p := &Participant{ID: id, Name: name}
	r.order = append(r.order, p)
	r.byID[id] = p
	board := r.recomputeLocked()
	r.mu.Unlock()

	r.notify(board)
	return true
}

// Remove drops a participant and reports whether it was present.
func (r *Roster) Remove(id string) bool {
	r.mu.Lock()
	if _, ok := r.byID[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(p *Participant) bool { return p.ID == id })
	board := r.recomputeLocked()
	r.mu.Unlock()

	r.notify(board)
	return true
}

// RecordScoreIncrement adds one win to the participant and returns its
// updated record.
func (r *Roster) RecordScoreIncrement(id string) (Participant, error) {
	r.mu.Lock()
	p, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Participant{}, ErrUnknownParticipant
	}
	p.Score++
	out := *p
	board := r.recomputeLocked()
	r.mu.Unlock()

	r.notify(board)
	return out, nil
}

func (r *Roster) Get(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns every participant in join order.
func (r *Roster) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, len(r.order))
	for i, p := range r.order {
		out[i] = *p
	}
	return out
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Snapshot returns the top LeaderboardSize entries, highest score first,
// ties in join order.
func (r *Roster) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.board)
}

func (r *Roster) recomputeLocked() []Entry {
	ranked := slices.Clone(r.order)
	slices.SortStableFunc(ranked, func(a, b *Participant) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(ranked) > LeaderboardSize {
		ranked = ranked[:LeaderboardSize]
	}
	board := make([]Entry, len(ranked))
	for i, p := range ranked {
		board[i] = Entry{Name: p.Name, Score: p.Score}
	}
	r.board = board
	return slices.Clone(board)
}

func (r *Roster) notify(board []Entry) {
	r.mu.Lock()
	observers := slices.Clone(r.observers)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(board)
	}
}
