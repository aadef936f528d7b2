// Package protocol defines the JSON messages exchanged over the websocket.
// Every frame is an Envelope whose Data field holds one of the payloads
// below, keyed by Type.
package protocol

import "encoding/json"

// Client to server.
const (
	MsgJoin        = "join"
	MsgClaimSide   = "claimSide"
	MsgPaddleInput = "paddleInput"
	MsgDeviceClass = "deviceClass"
)

// Server to client.
const (
	MsgJoinAccepted         = "joinAccepted"
	MsgRosterUpdate         = "rosterUpdate"
	MsgLeaderboardUpdate    = "leaderboardUpdate"
	MsgClaimRejected        = "claimRejected"
	MsgSlotsUpdate          = "slotsUpdate"
	MsgMatchStarted         = "matchStarted"
	MsgOpponentPaddleMoved  = "opponentPaddleMoved"
	MsgBallState            = "ballState"
	MsgScoreUpdate          = "scoreUpdate"
	MsgMatchEnded           = "matchEnded"
	MsgOpponentDisconnected = "opponentDisconnected"
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Join struct {
	DisplayName string `json:"displayName"`
}

type ClaimSide struct {
	Side string `json:"side"`
}

// PaddleInput carries the paddle top edge in table pixels. Position is a
// RawMessage so a non-numeric value can be told apart from a missing one.
type PaddleInput struct {
	Position json.RawMessage `json:"position"`
}

type DeviceClass struct {
	IsMobile bool `json:"isMobile"`
}

type JoinAccepted struct {
	ParticipantID string `json:"participantId"`
}

type RosterEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type ClaimRejected struct {
	Reason string `json:"reason"`
}

// SlotsUpdate holds participant ids; nil means the side is free.
type SlotsUpdate struct {
	Left  *string `json:"left"`
	Right *string `json:"right"`
}

type MatchStarted struct {
	MatchID      string  `json:"matchId"`
	DeviceClass  string  `json:"deviceClass"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PaddleWidth  float64 `json:"paddleWidth"`
	PaddleHeight float64 `json:"paddleHeight"`
	PaddleOffset float64 `json:"paddleOffset"`
	BallRadius   float64 `json:"ballRadius"`
}

type OpponentPaddleMoved struct {
	Side     string  `json:"side"`
	Position float64 `json:"position"`
}

type BallState struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ScoreUpdate struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type MatchEnded struct {
	WinnerName  string             `json:"winnerName"`
	WinnerSide  string             `json:"winnerSide"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type OpponentDisconnected struct {
	Side string `json:"side"`
}
