// Command protocol-schema writes a JSON schema describing every websocket
// message payload, keyed by message type.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"tanav.me/pong/internal/protocol"
)

// Messages lists each payload under its message type.
type Messages struct {
	Envelope protocol.Envelope `json:"envelope"`

	Join        protocol.Join        `json:"join"`
	ClaimSide   protocol.ClaimSide   `json:"claimSide"`
	PaddleInput protocol.PaddleInput `json:"paddleInput"`
	DeviceClass protocol.DeviceClass `json:"deviceClass"`

	JoinAccepted         protocol.JoinAccepted         `json:"joinAccepted"`
	RosterUpdate         []protocol.RosterEntry        `json:"rosterUpdate"`
	LeaderboardUpdate    []protocol.LeaderboardEntry   `json:"leaderboardUpdate"`
	ClaimRejected        protocol.ClaimRejected        `json:"claimRejected"`
	SlotsUpdate          protocol.SlotsUpdate          `json:"slotsUpdate"`
	MatchStarted         protocol.MatchStarted         `json:"matchStarted"`
	OpponentPaddleMoved  protocol.OpponentPaddleMoved  `json:"opponentPaddleMoved"`
	BallState            protocol.BallState            `json:"ballState"`
	ScoreUpdate          protocol.ScoreUpdate          `json:"scoreUpdate"`
	MatchEnded           protocol.MatchEnded           `json:"matchEnded"`
	OpponentDisconnected protocol.OpponentDisconnected `json:"opponentDisconnected"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{}
	schema := reflector.Reflect(new(Messages))
	schema.Title = "Pong websocket protocol"
	schema.Description = "Payloads carried in the data field of each {type, data} frame"
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
