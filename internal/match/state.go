package match

import (
	"errors"

	"tanav.me/pong/internal/physics"
)

var (
	ErrSlotTaken     = errors.New("match: side already taken")
	ErrAlreadySeated = errors.New("match: participant already holds a side")
	ErrNotSeated     = errors.New("match: participant holds no side")
)

type Phase string

const (
	Waiting Phase = "waiting"
	Active  Phase = "active"
	Ended   Phase = "ended"
)

type EndReason string

const (
	ReasonWin          EndReason = "win"
	ReasonOpponentLeft EndReason = "opponentLeft"
)

// Seat is an occupied paddle slot. The participant itself lives in the
// roster and is only referenced by id.
type Seat struct {
	ParticipantID string
	Mobile        bool
}

// State is the authoritative record of one match. It is only touched while
// the owning Match holds its lock.
type State struct {
	ID     string
	Phase  Phase
	Device physics.DeviceClass
	Seats  [2]*Seat
	Table  *physics.Table
}

func (s *State) full() bool {
	return s.Seats[physics.Left] != nil && s.Seats[physics.Right] != nil
}

func (s *State) empty() bool {
	return s.Seats[physics.Left] == nil && s.Seats[physics.Right] == nil
}

func (s *State) sideOf(participantID string) (physics.Side, bool) {
	for _, side := range []physics.Side{physics.Left, physics.Right} {
		if seat := s.Seats[side]; seat != nil && seat.ParticipantID == participantID {
			return side, true
		}
	}
	return physics.Left, false
}

// deviceClass is compact-mobile as soon as either occupant reported a
// mobile device.
func (s *State) deviceClass() physics.DeviceClass {
	for _, seat := range s.Seats {
		if seat != nil && seat.Mobile {
			return physics.CompactMobile
		}
	}
	return physics.Standard
}

// Result describes how a match ended.
type Result struct {
	MatchID    string
	Reason     EndReason
	Winner     physics.Side
	WinnerID   string
	WinnerName string
	Scores     [2]int
}
