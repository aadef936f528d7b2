package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyEnvelope = errors.New("protocol: empty frame")
	ErrEmptyPayload  = errors.New("protocol: empty payload")
)

// Encode wraps payload in an envelope of type t.
func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("protocol: encode without type")
	}
	if payload == nil {
		return nil, fmt.Errorf("protocol: encode %q: nil payload", t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %q: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: envelope without type")
	}
	return env, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, fmt.Errorf("%w for %q", ErrEmptyPayload, env.Type)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("protocol: decode %q: %w", env.Type, err)
	}
	return out, nil
}

// Number parses the paddle position. Anything but a JSON number is
// rejected.
func (p PaddleInput) Number() (float64, error) {
	if len(p.Position) == 0 || string(p.Position) == "null" {
		return 0, fmt.Errorf("%w: position", ErrEmptyPayload)
	}
	var v float64
	if err := json.Unmarshal(p.Position, &v); err != nil {
		return 0, fmt.Errorf("protocol: position is not a number: %w", err)
	}
	return v, nil
}
