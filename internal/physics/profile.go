package physics

import "time"

const (
	TableWidth  = 800
	TableHeight = 600
)

// DeviceClass is the coarse performance profile of a match.
type DeviceClass string

const (
	Standard      DeviceClass = "standard"
	CompactMobile DeviceClass = "compact-mobile"
)

// Profile holds every size and speed that depends on the device class.
// Speeds are in pixels per tick.
type Profile struct {
	Class              DeviceClass
	PaddleWidth        float64
	PaddleHeight       float64
	PaddleOffset       float64
	BallRadius         float64
	BaseSpeed          float64
	MinHorizontalSpeed float64
	MaxSpeed           float64
	SpeedUp            float64
}

var (
	standardProfile = Profile{
		Class:              Standard,
		PaddleWidth:        10,
		PaddleHeight:       100,
		PaddleOffset:       30,
		BallRadius:         10,
		BaseSpeed:          5,
		MinHorizontalSpeed: 2.0,
		MaxSpeed:           9,
		SpeedUp:            1.02,
	}
	// Compact matches tick at 30 Hz, so the ball covers more ground per tick.
	compactProfile = Profile{
		Class:              CompactMobile,
		PaddleWidth:        12,
		PaddleHeight:       120,
		PaddleOffset:       30,
		BallRadius:         12,
		BaseSpeed:          6,
		MinHorizontalSpeed: 1.5,
		MaxSpeed:           12,
		SpeedUp:            1.03,
	}
)

// ProfileFor returns the profile for c, falling back to Standard.
func ProfileFor(c DeviceClass) Profile {
	if c == CompactMobile {
		return compactProfile
	}
	return standardProfile
}

// Rules are the match-level constants that do not depend on the device.
type Rules struct {
	WinScore    int
	HitCooldown time.Duration
}

func DefaultRules() Rules {
	return Rules{WinScore: 10, HitCooldown: 100 * time.Millisecond}
}
