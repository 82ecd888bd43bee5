package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		CacheTTL   string `yaml:"cache_ttl"`
		File       string `yaml:"file"`
		DefaultSet string `yaml:"default_set"`
	} `yaml:"questions"`
	Auth struct {
		Secret string `yaml:"secret"`
		Issuer string `yaml:"issuer"`
	} `yaml:"auth"`
	Rooms struct {
		DefaultMaxPlayers int    `yaml:"default_max_players"`
		MaxPlayers        int    `yaml:"max_players"`
		QuestionCount     int    `yaml:"question_count"`
		TimeLimitSec      int    `yaml:"time_limit_sec"`
		Shuffle           bool   `yaml:"shuffle"`
		RevealDelay       string `yaml:"reveal_delay"`
		IdleTimeout       string `yaml:"idle_timeout"`
		SweepInterval     string `yaml:"sweep_interval"`
	} `yaml:"rooms"`
	Scoring struct {
		BasePoints       int64  `yaml:"base_points"`
		MinBonusBP       int64  `yaml:"min_bonus_bp"`
		LatencyAllowance string `yaml:"latency_allowance"`
	} `yaml:"scoring"`
	Gateway struct {
		EventBuffer int `yaml:"event_buffer"`
		ReplyBuffer int `yaml:"reply_buffer"`
	} `yaml:"gateway"`
}

// Load reads YAML config from path, then applies env overrides and defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}
	if url := os.Getenv("DATABASE_URL"); url != "" && c.Postgres.URL == "" {
		c.Postgres.URL = url
	}
}

// ApplyDefaults fills in every unset value.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Questions.DefaultSet == "" {
		c.Questions.DefaultSet = "general"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "million-dialogue"
	}
	if c.Rooms.MaxPlayers == 0 {
		c.Rooms.MaxPlayers = 50
	}
	if c.Rooms.DefaultMaxPlayers == 0 {
		c.Rooms.DefaultMaxPlayers = c.Rooms.MaxPlayers
	}
	if c.Rooms.QuestionCount == 0 {
		c.Rooms.QuestionCount = 10
	}
	if c.Rooms.TimeLimitSec == 0 {
		c.Rooms.TimeLimitSec = 15
	}
	if c.Scoring.BasePoints == 0 {
		c.Scoring.BasePoints = 1000
	}
	if c.Scoring.MinBonusBP == 0 {
		c.Scoring.MinBonusBP = 5000
	}
	if c.Gateway.EventBuffer == 0 {
		c.Gateway.EventBuffer = 64
	}
	if c.Gateway.ReplyBuffer == 0 {
		c.Gateway.ReplyBuffer = 16
	}
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required (or set AUTH_SECRET)"))
	}
	if c.Rooms.MaxPlayers < 1 {
		errs = append(errs, fmt.Errorf("rooms.max_players must be positive, got %d", c.Rooms.MaxPlayers))
	}
	if c.Rooms.DefaultMaxPlayers < 1 || c.Rooms.DefaultMaxPlayers > c.Rooms.MaxPlayers {
		errs = append(errs, fmt.Errorf("rooms.default_max_players must be between 1 and %d", c.Rooms.MaxPlayers))
	}
	if c.Rooms.TimeLimitSec < 1 {
		errs = append(errs, fmt.Errorf("rooms.time_limit_sec must be positive, got %d", c.Rooms.TimeLimitSec))
	}
	if c.Scoring.MinBonusBP < 0 || c.Scoring.MinBonusBP > 10000 {
		errs = append(errs, fmt.Errorf("scoring.min_bonus_bp must be within [0, 10000], got %d", c.Scoring.MinBonusBP))
	}
	if c.Scoring.BasePoints < 1 {
		errs = append(errs, fmt.Errorf("scoring.base_points must be positive, got %d", c.Scoring.BasePoints))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Duration parses a duration string or returns the fallback if empty or malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
