// Package physics advances a pong table by one tick. Everything here is a
// plain function over a *Table; callers serialize access.
package physics

import (
	"math"
	"math/rand/v2"
	"time"
)

type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

func (s Side) Opposite() Side {
	return 1 - s
}

// ParseSide accepts "left" or "right".
func ParseSide(v string) (Side, bool) {
	switch v {
	case "left":
		return Left, true
	case "right":
		return Right, true
	}
	return Left, false
}

// Ball is recreated on every point reset. LastHit records the time of the
// last paddle collision per side and is used to suppress scoring right after
// a hit.
type Ball struct {
	X, Y    float64
	DX, DY  float64
	Radius  float64
	LastHit [2]time.Time
}

func (b Ball) Speed() float64 {
	return math.Hypot(b.DX, b.DY)
}

// Paddle Y is the top edge.
type Paddle struct {
	Side   Side
	Y      float64
	Width  float64
	Height float64
}

type EventKind int

const (
	Scored EventKind = iota + 1
	MatchEnded
)

// Event reports a scoring change. Side is the side that won the point (or
// the match).
type Event struct {
	Kind EventKind
	Side Side
}

type Table struct {
	Width   float64
	Height  float64
	Profile Profile
	Rules   Rules
	Ball    Ball
	Paddles [2]Paddle
	Scores  [2]int
}

// NewTable returns a table with centered paddles, zero scores and a freshly
// served ball.
func NewTable(profile Profile, rules Rules, rng *rand.Rand) *Table {
	t := &Table{
		Width:   TableWidth,
		Height:  TableHeight,
		Profile: profile,
		Rules:   rules,
	}
	for _, side := range []Side{Left, Right} {
		t.Paddles[side] = Paddle{
			Side:   side,
			Y:      (t.Height - profile.PaddleHeight) / 2,
			Width:  profile.PaddleWidth,
			Height: profile.PaddleHeight,
		}
	}
	ResetBall(t, rng)
	return t
}

// Step advances the table by one tick.
func Step(t *Table, now time.Time, rng *rand.Rand) []Event {
	b := &t.Ball
	prevX, prevY := b.X, b.Y

	b.X += b.DX
	b.Y += b.DY
	clampVelocity(b, t.Profile)
	bounceWalls(t)

	for _, side := range []Side{Left, Right} {
		if hitPaddle(t, side, prevX, prevY) {
			b.LastHit[side] = now
		}
	}

	return checkScore(t, now, rng)
}

// ResetBall serves a new ball from the center within ±30° of horizontal.
func ResetBall(t *Table, rng *rand.Rand) {
	p := t.Profile
	angle := (rng.Float64()*2 - 1) * math.Pi / 6
	dir := 1.0
	if rng.IntN(2) == 0 {
		dir = -1
	}
	t.Ball = Ball{
		X:      t.Width / 2,
		Y:      t.Height / 2,
		DX:     dir * p.BaseSpeed * math.Cos(angle),
		DY:     p.BaseSpeed * math.Sin(angle),
		Radius: p.BallRadius,
	}
	clampVelocity(&t.Ball, p)
}

// clampVelocity keeps the ball from stalling vertically and from running
// away.
func clampVelocity(b *Ball, p Profile) {
	if math.Abs(b.DX) < p.MinHorizontalSpeed {
		b.DX = math.Copysign(p.MinHorizontalSpeed, b.DX)
	}
	if s := b.Speed(); s > p.MaxSpeed {
		k := p.MaxSpeed / s
		b.DX *= k
		b.DY *= k
	}
}

func bounceWalls(t *Table) {
	b := &t.Ball
	switch {
	case b.Y-b.Radius < 0:
		b.Y = b.Radius
		b.DY = math.Abs(b.DY)
	case b.Y+b.Radius > t.Height:
		b.Y = t.Height - b.Radius
		b.DY = -math.Abs(b.DY)
	}
}

// paddleFace returns the x of the paddle edge facing the table center and of
// the edge facing the wall.
func paddleFace(t *Table, side Side) (face, back float64) {
	p := t.Profile
	if side == Left {
		return p.PaddleOffset + p.PaddleWidth, p.PaddleOffset
	}
	return t.Width - p.PaddleOffset - p.PaddleWidth, t.Width - p.PaddleOffset
}

// hitPaddle runs a swept check (the leading edge crossed the face during this
// tick) and a resting-overlap check against one paddle. On a hit the ball is
// placed just outside the face and its trajectory recomputed.
func hitPaddle(t *Table, side Side, prevX, prevY float64) bool {
	b := &t.Ball
	r := b.Radius
	face, back := paddleFace(t, side)

	var lead, prevLead float64
	var crossed, overlap bool
	if side == Left {
		if b.DX >= 0 {
			return false
		}
		lead, prevLead = b.X-r, prevX-r
		crossed = prevLead > face && lead <= face
		overlap = lead <= face && b.X+r >= back
	} else {
		if b.DX <= 0 {
			return false
		}
		lead, prevLead = b.X+r, prevX+r
		crossed = prevLead < face && lead >= face
		overlap = lead >= face && b.X-r <= back
	}
	if !crossed && !overlap {
		return false
	}

	y := b.Y
	if crossed {
		frac := (prevLead - face) / (prevLead - lead)
		y = prevY + (b.Y-prevY)*frac
	}
	p := t.Paddles[side]
	if y+r < p.Y || y-r > p.Y+p.Height {
		return false
	}

	b.Y = y
	away := 1.0
	if side == Left {
		b.X = face + r
	} else {
		b.X = face - r
		away = -1
	}
	frac := clamp((y-p.Y)/p.Height, 0, 1)
	Redirect(b, away, frac, t.Profile)
	return true
}

// Redirect recomputes the ball velocity after a paddle hit. hitFraction is 0
// at the top of the paddle and 1 at the bottom and maps linearly onto
// [-45°, +45°]. away is +1 to send the ball right and -1 to send it left.
func Redirect(b *Ball, away, hitFraction float64, p Profile) {
	angle := (hitFraction - 0.5) * math.Pi / 2
	speed := math.Max(b.Speed(), p.MinHorizontalSpeed)
	if speed*p.SpeedUp >= p.MaxSpeed {
		speed = p.MaxSpeed
	} else {
		speed *= p.SpeedUp
	}
	b.DX = away * speed * math.Cos(angle)
	b.DY = speed * math.Sin(angle)
	clampVelocity(b, p)
}

func checkScore(t *Table, now time.Time, rng *rand.Rand) []Event {
	b := &t.Ball
	var conceded Side
	switch {
	case b.X-b.Radius < 0:
		conceded = Left
	case b.X+b.Radius > t.Width:
		conceded = Right
	default:
		return nil
	}
	if last := b.LastHit[conceded]; !last.IsZero() && now.Sub(last) < t.Rules.HitCooldown {
		return nil
	}

	winner := conceded.Opposite()
	t.Scores[winner]++
	events := []Event{{Kind: Scored, Side: winner}}
	if t.Scores[winner] >= t.Rules.WinScore {
		return append(events, Event{Kind: MatchEnded, Side: winner})
	}
	ResetBall(t, rng)
	return events
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
