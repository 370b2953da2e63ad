// Package config loads client and dev server settings: built-in defaults,
// then an optional TOML file, then .env and DRAFT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/lol-draft-client/internal/session"
	"github.com/DoyleJ11/lol-draft-client/internal/transport"
)

const envPrefix = "DRAFT_"

type Config struct {
	ServerURL  string
	StoreDSN   string
	LogLevel   string
	ListenAddr string

	Heartbeat time.Duration
	Backoff   transport.Backoff

	RetryDelay time.Duration
	MaxRetries int
	AckDelay   time.Duration
}

func Default() Config {
	s := session.DefaultConfig()
	return Config{
		ServerURL:  "http://localhost:8080",
		LogLevel:   "info",
		ListenAddr: ":8080",
		Heartbeat:  transport.DefaultHeartbeatInterval,
		Backoff:    transport.DefaultBackoff(),
		RetryDelay: s.RetryDelay,
		MaxRetries: s.MaxRetries,
		AckDelay:   s.AckDelay,
	}
}

// Session converts the protocol settings into a driver config.
func (c Config) Session() session.Config {
	s := session.DefaultConfig()
	s.RetryDelay = c.RetryDelay
	s.MaxRetries = c.MaxRetries
	s.AckDelay = c.AckDelay
	s.Transport = []transport.Option{
		transport.WithHeartbeat(c.Heartbeat),
		transport.WithBackoff(c.Backoff),
	}
	return s
}

func (c Config) Validate() error {
	switch {
	case c.ServerURL == "":
		return errors.New("config: server_url is required")
	case c.Backoff.Base <= 0 || c.Backoff.Cap < c.Backoff.Base:
		return fmt.Errorf("config: bad reconnect backoff %v..%v", c.Backoff.Base, c.Backoff.Cap)
	case c.Backoff.MaxAttempts < 0 || c.MaxRetries < 0:
		return errors.New("config: attempt limits must not be negative")
	case c.RetryDelay <= 0 || c.AckDelay < 0 || c.Heartbeat < 0:
		return errors.New("config: delays must not be negative")
	}
	return nil
}

type fileConfig struct {
	ServerURL    string `toml:"server_url"`
	StoreDSN     string `toml:"store_dsn"`
	LogLevel     string `toml:"log_level"`
	ListenAddr   string `toml:"listen_addr"`
	Heartbeat    string `toml:"heartbeat"`
	ReconnectMin string `toml:"reconnect_base"`
	ReconnectMax string `toml:"reconnect_cap"`
	ReconnectN   int    `toml:"reconnect_max_attempts"`
	RetryDelay   string `toml:"resume_retry_delay"`
	MaxRetries   int    `toml:"resume_max_retries"`
	AckDelay     string `toml:"ack_delay"`
}

// Load builds a Config. path may be empty, and a missing .env is fine.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}

	if meta.IsDefined("server_url") {
		c.ServerURL = strings.TrimSpace(raw.ServerURL)
	}
	if meta.IsDefined("store_dsn") {
		c.StoreDSN = strings.TrimSpace(raw.StoreDSN)
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("listen_addr") {
		c.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("reconnect_max_attempts") {
		c.Backoff.MaxAttempts = raw.ReconnectN
	}
	if meta.IsDefined("resume_max_retries") {
		c.MaxRetries = raw.MaxRetries
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat", raw.Heartbeat, &c.Heartbeat},
		{"reconnect_base", raw.ReconnectMin, &c.Backoff.Base},
		{"reconnect_cap", raw.ReconnectMax, &c.Backoff.Cap},
		{"resume_retry_delay", raw.RetryDelay, &c.RetryDelay},
		{"ack_delay", raw.AckDelay, &c.AckDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SERVER_URL", &c.ServerURL)
	str("STORE_DSN", &c.StoreDSN)
	str("LOG_LEVEL", &c.LogLevel)
	str("LISTEN_ADDR", &c.ListenAddr)

	ints := map[string]*int{
		"RECONNECT_MAX_ATTEMPTS": &c.Backoff.MaxAttempts,
		"RESUME_MAX_RETRIES":     &c.MaxRetries,
	}
	for name, dst := range ints {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"HEARTBEAT":          &c.Heartbeat,
		"RECONNECT_BASE":     &c.Backoff.Base,
		"RECONNECT_CAP":      &c.Backoff.Cap,
		"RESUME_RETRY_DELAY": &c.RetryDelay,
		"ACK_DELAY":          &c.AckDelay,
	}
	for name, dst := range durations {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}
	return nil
}
