package match

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanav.me/pong/internal/clock"
	"tanav.me/pong/internal/physics"
	"tanav.me/pong/internal/protocol"
)

type recorder struct {
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (r *recorder) Send(frame []byte) error {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Type
	}
	return out
}

func (r *recorder) count(msgType string) int {
	n := 0
	for _, t := range r.types() {
		if t == msgType {
			n++
		}
	}
	return n
}

func (r *recorder) last(t *testing.T, msgType string, out any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Type == msgType {
			require.NoError(t, json.Unmarshal(r.frames[i].Data, out))
			return
		}
	}
	t.Fatalf("no %s frame", msgType)
}

type fakeScorer struct {
	mu   sync.Mutex
	wins []string
}

func (f *fakeScorer) RecordWin(id string) (string, []protocol.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wins = append(f.wins, id)
	return "name-" + id, []protocol.LeaderboardEntry{{Name: "name-" + id, Score: len(f.wins)}}, nil
}

type fixture struct {
	m      *Match
	clk    *clock.Manual
	scorer *fakeScorer
	left   *recorder
	right  *recorder
	ended  chan Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:    clock.NewManual(time.Unix(1000, 0)),
		scorer: &fakeScorer{},
		left:   &recorder{},
		right:  &recorder{},
		ended:  make(chan Result, 1),
	}
	f.m = New("m-1", DefaultConfig(), Options{
		Clock:  f.clk,
		Scorer: f.scorer,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:   rand.New(rand.NewPCG(7, 7)),
		OnEnd:  func(r Result) { f.ended <- r },
	})
	t.Cleanup(f.m.Stop)
	return f
}

func (f *fixture) start(t *testing.T, leftMobile, rightMobile bool) {
	t.Helper()
	started, err := f.m.Claim(physics.Left, "a", leftMobile, f.left)
	require.NoError(t, err)
	require.False(t, started)
	started, err = f.m.Claim(physics.Right, "b", rightMobile, f.right)
	require.NoError(t, err)
	require.True(t, started)
}

func (f *fixture) advance(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.clk.Armed() == 1 }, time.Second, time.Millisecond)
	f.clk.Advance(time.Second / time.Duration(f.m.TickRate()))
}

func TestClaimStartsMatchWhenBothSidesFilled(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)

	assert.Equal(t, Active, f.m.Phase())
	assert.Equal(t, physics.Standard, f.m.Device())
	assert.Equal(t, [2]string{"a", "b"}, f.m.Slots())
	assert.Equal(t, 60, f.m.TickRate())
	assert.Equal(t, []string{
		protocol.MsgSlotsUpdate,
		protocol.MsgSlotsUpdate,
		protocol.MsgMatchStarted,
		protocol.MsgScoreUpdate,
		protocol.MsgBallState,
	}, f.left.types())
	assert.Equal(t, []string{
		protocol.MsgSlotsUpdate,
		protocol.MsgMatchStarted,
		protocol.MsgScoreUpdate,
		protocol.MsgBallState,
	}, f.right.types())

	b := f.m.Ball()
	assert.Equal(t, 400.0, b.X)
	assert.Equal(t, 300.0, b.Y)
	assert.GreaterOrEqual(t, b.Speed(), 4.0)
	assert.LessOrEqual(t, b.Speed(), 5.0+1e-9)
	assert.LessOrEqual(t, math.Atan2(math.Abs(b.DY), math.Abs(b.DX)), math.Pi/6+1e-9)

	var slots protocol.SlotsUpdate
	f.right.last(t, protocol.MsgSlotsUpdate, &slots)
	require.NotNil(t, slots.Left)
	require.NotNil(t, slots.Right)
	assert.Equal(t, "a", *slots.Left)
	assert.Equal(t, "b", *slots.Right)
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Claim(physics.Left, "a", false, f.left)
	require.NoError(t, err)

	_, err = f.m.Claim(physics.Left, "b", false, f.right)
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = f.m.Claim(physics.Right, "a", false, f.left)
	assert.ErrorIs(t, err, ErrAlreadySeated)

	assert.Equal(t, Waiting, f.m.Phase())
	assert.Equal(t, [2]string{"a", ""}, f.m.Slots())
}

func TestMobileOccupantSelectsCompactProfile(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Claim(physics.Left, "a", false, f.left)
	require.NoError(t, err)
	assert.True(t, f.m.SetMobile("a", true))
	assert.False(t, f.m.SetMobile("ghost", true))
	_, err = f.m.Claim(physics.Right, "b", false, f.right)
	require.NoError(t, err)

	assert.Equal(t, physics.CompactMobile, f.m.Device())
	assert.Equal(t, 30, f.m.TickRate())
	assert.Equal(t, 120.0, f.m.Paddle(physics.Left).Height)

	var started protocol.MatchStarted
	f.left.last(t, protocol.MsgMatchStarted, &started)
	assert.Equal(t, "compact-mobile", started.DeviceClass)
	assert.Equal(t, 12.0, started.BallRadius)
}

func TestTicksBroadcastBallState(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)
	before := f.m.Ball()

	f.advance(t)
	require.Eventually(t, func() bool { return f.right.count(protocol.MsgBallState) == 2 }, time.Second, time.Millisecond)
	f.advance(t)
	require.Eventually(t, func() bool { return f.right.count(protocol.MsgBallState) == 3 }, time.Second, time.Millisecond)

	var ball protocol.BallState
	f.left.last(t, protocol.MsgBallState, &ball)
	assert.InDelta(t, before.X+2*before.DX, ball.X, 1e-9)
	assert.InDelta(t, before.Y+2*before.DY, ball.Y, 1e-9)
}

func TestMovePaddleRelaysToOpponent(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)

	require.NoError(t, f.m.MovePaddle("a", 123.5))
	assert.Equal(t, 123.5, f.m.Paddle(physics.Left).Y)
	assert.Equal(t, 0, f.left.count(protocol.MsgOpponentPaddleMoved))

	var moved protocol.OpponentPaddleMoved
	f.right.last(t, protocol.MsgOpponentPaddleMoved, &moved)
	assert.Equal(t, protocol.OpponentPaddleMoved{Side: "left", Position: 123.5}, moved)

	// Positions are written as sent.
	require.NoError(t, f.m.MovePaddle("b", -40))
	assert.Equal(t, -40.0, f.m.Paddle(physics.Right).Y)

	assert.ErrorIs(t, f.m.MovePaddle("ghost", 10), ErrNotSeated)
}

func TestVacateStopsRunningMatch(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)
	f.advance(t)
	require.Eventually(t, func() bool { return f.right.count(protocol.MsgBallState) == 2 }, time.Second, time.Millisecond)

	dep, ok := f.m.Vacate("a")
	require.True(t, ok)
	assert.Equal(t, physics.Left, dep.Side)
	assert.True(t, dep.Ended)
	assert.False(t, dep.Empty)
	assert.Equal(t, ReasonOpponentLeft, dep.Result.Reason)
	assert.Equal(t, "b", dep.Result.WinnerID)
	assert.Equal(t, Ended, f.m.Phase())
	assert.Equal(t, 0, f.m.TickRate())

	var gone protocol.OpponentDisconnected
	f.right.last(t, protocol.MsgOpponentDisconnected, &gone)
	assert.Equal(t, "left", gone.Side)

	ball := f.m.Ball()
	balls := f.right.count(protocol.MsgBallState)
	f.clk.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, balls, f.right.count(protocol.MsgBallState))
	assert.Equal(t, ball, f.m.Ball())

	// The remaining occupant can still move; nobody is told.
	moves := f.left.count(protocol.MsgOpponentPaddleMoved)
	require.NoError(t, f.m.MovePaddle("b", 10))
	assert.Equal(t, 10.0, f.m.Paddle(physics.Right).Y)
	assert.Equal(t, moves, f.left.count(protocol.MsgOpponentPaddleMoved))

	_, ok = f.m.Vacate("a")
	assert.False(t, ok)
	dep, ok = f.m.Vacate("b")
	require.True(t, ok)
	assert.False(t, dep.Ended)
	assert.True(t, dep.Empty)
}

func TestRefilledSideStartsFreshMatch(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)
	_, ok := f.m.Vacate("a")
	require.True(t, ok)

	c := &recorder{}
	started, err := f.m.Claim(physics.Left, "c", false, c)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, Active, f.m.Phase())
	assert.Equal(t, [2]int{0, 0}, f.m.Scores())

	f.advance(t)
	require.Eventually(t, func() bool { return c.count(protocol.MsgBallState) == 2 }, time.Second, time.Millisecond)
}

func TestWinningPointEndsMatchOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)

	f.m.mu.Lock()
	f.m.state.Table.Scores = [2]int{9, 4}
	f.m.state.Table.Paddles[physics.Right].Y = 0
	f.m.state.Table.Ball = physics.Ball{X: 788, Y: 500, DX: 5, Radius: 10}
	f.m.mu.Unlock()

	f.advance(t)

	var res Result
	select {
	case res = <-f.ended:
	case <-time.After(time.Second):
		t.Fatal("match did not end")
	}
	assert.Equal(t, ReasonWin, res.Reason)
	assert.Equal(t, physics.Left, res.Winner)
	assert.Equal(t, "a", res.WinnerID)
	assert.Equal(t, "name-a", res.WinnerName)
	assert.Equal(t, [2]int{10, 4}, res.Scores)
	assert.Equal(t, Ended, f.m.Phase())

	var ended protocol.MatchEnded
	f.right.last(t, protocol.MsgMatchEnded, &ended)
	assert.Equal(t, "name-a", ended.WinnerName)
	assert.Equal(t, "left", ended.WinnerSide)
	assert.Equal(t, []protocol.LeaderboardEntry{{Name: "name-a", Score: 1}}, ended.Leaderboard)

	var score protocol.ScoreUpdate
	f.left.last(t, protocol.MsgScoreUpdate, &score)
	assert.Equal(t, protocol.ScoreUpdate{Left: 10, Right: 4}, score)

	types := f.left.types()
	assert.Equal(t, protocol.MsgMatchEnded, types[len(types)-1])

	frames := len(f.left.types())
	f.clk.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.left.types(), frames)
	assert.Equal(t, 1, f.left.count(protocol.MsgMatchEnded))
	assert.Equal(t, []string{"a"}, f.scorer.wins)
}

func TestScoreIsFollowedByResetBall(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)

	f.m.mu.Lock()
	f.m.state.Table.Paddles[physics.Left].Y = 0
	f.m.state.Table.Ball = physics.Ball{X: 12, Y: 500, DX: -5, Radius: 10}
	f.m.mu.Unlock()

	f.advance(t)
	require.Eventually(t, func() bool { return f.left.count(protocol.MsgScoreUpdate) == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.left.count(protocol.MsgBallState) == 2 }, time.Second, time.Millisecond)

	types := f.left.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, []string{protocol.MsgScoreUpdate, protocol.MsgBallState}, types[len(types)-2:])

	var ball protocol.BallState
	f.left.last(t, protocol.MsgBallState, &ball)
	assert.Equal(t, protocol.BallState{X: 400, Y: 300}, ball)
	assert.Equal(t, [2]int{0, 1}, f.m.Scores())
}

func TestReleaseAllFreesBothSides(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)

	f.m.ReleaseAll()

	assert.True(t, f.m.Empty())
	assert.Equal(t, Ended, f.m.Phase())
	var slots protocol.SlotsUpdate
	f.left.last(t, protocol.MsgSlotsUpdate, &slots)
	assert.Nil(t, slots.Left)
	assert.Nil(t, slots.Right)
}

func TestStartKeepsPaddlePositions(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Claim(physics.Left, "a", false, f.left)
	require.NoError(t, err)
	require.NoError(t, f.m.MovePaddle("a", 10))
	assert.Zero(t, f.left.count(protocol.MsgOpponentPaddleMoved))

	started, err := f.m.Claim(physics.Right, "b", false, f.right)
	require.NoError(t, err)
	require.True(t, started)

	assert.Equal(t, 10.0, f.m.Paddle(physics.Left).Y)
	assert.Equal(t, 250.0, f.m.Paddle(physics.Right).Y)
	assert.Equal(t, [2]int{0, 0}, f.m.Scores())
	assert.Zero(t, f.right.count(protocol.MsgOpponentPaddleMoved))
}

func TestRestartAfterDisconnectKeepsRemainingPaddle(t *testing.T) {
	f := newFixture(t)
	f.start(t, false, false)
	_, ok := f.m.Vacate("a")
	require.True(t, ok)

	require.NoError(t, f.m.MovePaddle("b", 420))

	c := &recorder{}
	started, err := f.m.Claim(physics.Left, "c", true, c)
	require.NoError(t, err)
	require.True(t, started)

	assert.Equal(t, physics.CompactMobile, f.m.Device())
	right := f.m.Paddle(physics.Right)
	assert.Equal(t, 420.0, right.Y)
	assert.Equal(t, 120.0, right.Height)
}

func TestVacateAfterWinSkipsDisconnectNotice(t *testing.T) {
	f := newFixture(t)
	f.m.onEnd = nil
	f.start(t, false, false)

	f.m.mu.Lock()
	f.m.state.Table.Scores = [2]int{9, 0}
	f.m.state.Table.Paddles[physics.Right].Y = 0
	f.m.state.Table.Ball = physics.Ball{X: 788, Y: 500, DX: 5, Radius: 10}
	f.m.mu.Unlock()

	f.advance(t)
	require.Eventually(t, func() bool { return f.m.Phase() == Ended }, time.Second, time.Millisecond)

	// The loser leaves before the win has been handled upstream.
	dep, ok := f.m.Vacate("b")
	require.True(t, ok)
	assert.False(t, dep.Ended)
	assert.Zero(t, f.left.count(protocol.MsgOpponentDisconnected))

	var slots protocol.SlotsUpdate
	f.left.last(t, protocol.MsgSlotsUpdate, &slots)
	require.NotNil(t, slots.Left)
	assert.Nil(t, slots.Right)
}
