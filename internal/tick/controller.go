package tick

import "time"

type Config struct {
	InitialHz     int           `yaml:"initial_hz"`
	MinHz         int           `yaml:"min_hz"`
	MaxHz         int           `yaml:"max_hz"`
	StepHz        int           `yaml:"step_hz"`
	Window        int           `yaml:"window"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	FastThreshold time.Duration `yaml:"fast_threshold"`
	MobileHz      int           `yaml:"mobile_hz"`
}

func DefaultConfig() Config {
	return Config{
		InitialHz:     60,
		MinHz:         30,
		MaxHz:         60,
		StepHz:        5,
		Window:        60,
		SlowThreshold: 20 * time.Millisecond,
		FastThreshold: 12 * time.Millisecond,
		MobileHz:      30,
	}
}

// Controller picks the tick rate from a rolling window of observed
// inter-tick durations. A decision is taken each time the window fills and
// the window then starts over, so every decision is based on samples taken
// at the current rate. Not safe for concurrent use.
type Controller struct {
	cfg     Config
	samples []time.Duration
	sum     time.Duration
	rate    int
	pinned  bool
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg,
		samples: make([]time.Duration, 0, cfg.Window),
		rate:    cfg.InitialHz,
	}
}

// Pin fixes the rate; observations are ignored from then on.
func (c *Controller) Pin(hz int) {
	c.rate = hz
	c.pinned = true
	c.samples = c.samples[:0]
	c.sum = 0
}

func (c *Controller) Pinned() bool { return c.pinned }

func (c *Controller) Rate() int { return c.rate }

func (c *Controller) Interval() time.Duration {
	return time.Second / time.Duration(c.rate)
}

// Observe records one inter-tick duration and reports whether the rate
// changed.
func (c *Controller) Observe(d time.Duration) bool {
	if c.pinned || d <= 0 {
		return false
	}
	c.samples = append(c.samples, d)
	c.sum += d
	if len(c.samples) < c.cfg.Window {
		return false
	}

	avg := c.sum / time.Duration(len(c.samples))
	c.samples = c.samples[:0]
	c.sum = 0

	prev := c.rate
	switch {
	case avg > c.cfg.SlowThreshold:
		c.rate = max(c.rate-c.cfg.StepHz, c.cfg.MinHz)
	case avg < c.cfg.FastThreshold:
		c.rate = min(c.rate+c.cfg.StepHz, c.cfg.MaxHz)
	}
	return c.rate != prev
}
