// Package config loads the server configuration from YAML, on top of
// built-in defaults, with a few environment overrides for deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tanav.me/pong/internal/match"
	"tanav.me/pong/internal/physics"
	"tanav.me/pong/internal/tick"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	WebSocket struct {
		SendBuffer   int           `yaml:"send_buffer"`
		ReadLimit    int64         `yaml:"read_limit"`
		PongWait     time.Duration `yaml:"pong_wait"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteWait    time.Duration `yaml:"write_wait"`
	} `yaml:"websocket"`

	Game struct {
		WinScore    int           `yaml:"win_score"`
		HitCooldown time.Duration `yaml:"hit_cooldown"`
	} `yaml:"game"`

	Tick tick.Config `yaml:"tick"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Sink struct {
		QueueSize int           `yaml:"queue_size"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"sink"`
}

func Default() *Config {
	var c Config

	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.IdleTimeout = 120 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Server.AllowedOrigins = []string{
		"http://localhost:8080",
		"https://localhost:8080",
		"http://127.0.0.1:8080",
		"https://127.0.0.1:8080",
	}

	c.WebSocket.SendBuffer = 64
	c.WebSocket.ReadLimit = 4096
	c.WebSocket.PongWait = 60 * time.Second
	c.WebSocket.PingInterval = 30 * time.Second
	c.WebSocket.WriteWait = 10 * time.Second

	rules := physics.DefaultRules()
	c.Game.WinScore = rules.WinScore
	c.Game.HitCooldown = rules.HitCooldown

	c.Tick = tick.DefaultConfig()

	c.Log.Level = "info"
	c.Log.Format = "text"

	c.Redis.Addr = "localhost:6379"
	c.Redis.Key = "pong:leaderboard"

	c.NATS.URL = "nats://localhost:4222"
	c.NATS.Subject = "pong.match"

	c.Sink.QueueSize = 256
	c.Sink.Timeout = 2 * time.Second

	return &c
}

// Load reads path over the defaults. An empty path uses the defaults alone.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if p := getenv("PORT"); p != "" {
		c.Server.Addr = ":" + p
	}
	if a := getenv("REDIS_ADDR"); a != "" {
		c.Redis.Addr = a
		c.Redis.Enabled = true
	}
	if u := getenv("NATS_URL"); u != "" {
		c.NATS.URL = u
		c.NATS.Enabled = true
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_interval must be shorter than pong_wait"))
	}
	if c.Game.WinScore <= 0 {
		errs = append(errs, errors.New("game.win_score must be positive"))
	}
	if c.Game.HitCooldown < 0 {
		errs = append(errs, errors.New("game.hit_cooldown must not be negative"))
	}
	t := c.Tick
	if t.MinHz <= 0 || t.MinHz > t.MaxHz {
		errs = append(errs, fmt.Errorf("tick: need 0 < min_hz <= max_hz, got %d..%d", t.MinHz, t.MaxHz))
	}
	if t.InitialHz < t.MinHz || t.InitialHz > t.MaxHz {
		errs = append(errs, fmt.Errorf("tick.initial_hz %d outside %d..%d", t.InitialHz, t.MinHz, t.MaxHz))
	}
	if t.MobileHz <= 0 {
		errs = append(errs, errors.New("tick.mobile_hz must be positive"))
	}
	if t.Window <= 0 || t.StepHz <= 0 {
		errs = append(errs, errors.New("tick.window and tick.step_hz must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Redis.Enabled && c.Redis.Key == "" {
		errs = append(errs, errors.New("redis.key is required when redis is enabled"))
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Match is the per-match configuration derived from the game and tick
// sections.
func (c *Config) Match() match.Config {
	return match.Config{
		Rules: physics.Rules{
			WinScore:    c.Game.WinScore,
			HitCooldown: c.Game.HitCooldown,
		},
		Tick: c.Tick,
	}
}
