package match

import (
	"log/slog"

	"tanav.me/pong/internal/physics"
	"tanav.me/pong/internal/protocol"
)

// Subscriber receives encoded frames. Send must not block.
type Subscriber interface {
	Send(frame []byte) error
}

// Channel fans frames out to the (at most two) occupants of a match, left
// first. It has no lock of its own; the owning Match serializes access.
type Channel struct {
	subs   [2]Subscriber
	logger *slog.Logger
}

func NewChannel(logger *slog.Logger) *Channel {
	return &Channel{logger: logger}
}

func (c *Channel) Set(side physics.Side, sub Subscriber) {
	c.subs[side] = sub
}

func (c *Channel) Clear(side physics.Side) {
	c.subs[side] = nil
}

func (c *Channel) Members() int {
	n := 0
	for _, s := range c.subs {
		if s != nil {
			n++
		}
	}
	return n
}

// Publish sends one message to every member.
func (c *Channel) Publish(msgType string, payload any) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("encode broadcast", "type", msgType, "error", err)
		return
	}
	for _, side := range []physics.Side{physics.Left, physics.Right} {
		c.deliver(side, msgType, frame)
	}
}

// SendTo sends one message to the member on side, if any.
func (c *Channel) SendTo(side physics.Side, msgType string, payload any) {
	if c.subs[side] == nil {
		return
	}
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("encode message", "type", msgType, "error", err)
		return
	}
	c.deliver(side, msgType, frame)
}

func (c *Channel) deliver(side physics.Side, msgType string, frame []byte) {
	sub := c.subs[side]
	if sub == nil {
		return
	}
	// A dropped frame is superseded by the next tick.
	if err := sub.Send(frame); err != nil {
		c.logger.Debug("drop frame", "side", side.String(), "type", msgType, "error", err)
	}
}
