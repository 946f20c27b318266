// Package config loads the dashboard's YAML configuration, fills in defaults
// and validates the result before anything is dialled.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete dashboard configuration.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	UI            UIConfig            `yaml:"ui"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Streams       StreamsConfig       `yaml:"streams"`
	Video         VideoConfig         `yaml:"video"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Probe         ProbeConfig         `yaml:"probe"`
}

// BackendConfig addresses the drone backend. The durations are pointers so that
// an explicit "0s" (disabled) differs from leaving them out (default).
type BackendConfig struct {
	URL            string         `yaml:"url"`
	ChannelURL     string         `yaml:"channel_url"`
	ChannelPort    int            `yaml:"channel_port"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`
	ReconnectDelay *time.Duration `yaml:"reconnect_delay"`
}

// Timeout returns the per-request timeout; 0 means none.
func (b BackendConfig) Timeout() time.Duration {
	if b.RequestTimeout == nil {
		return DefaultRequestTimeout
	}
	return *b.RequestTimeout
}

// Reconnect returns the delay before redialling a lost push channel; 0 means
// the channel is dialled once.
func (b BackendConfig) Reconnect() time.Duration {
	if b.ReconnectDelay == nil {
		return DefaultReconnectDelay
	}
	return *b.ReconnectDelay
}

// UIConfig configures the local dashboard server.
type UIConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// StreamsConfig bounds start-all/stop-all concurrency.
type StreamsConfig struct {
	FanoutLimit int `yaml:"fanout_limit"`
}

// VideoConfig sizes the per-drone video surfaces.
type VideoConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// NotificationsConfig sets how long a notification stays up.
type NotificationsConfig struct {
	DismissAfter time.Duration `yaml:"dismiss_after"`
}

// ProbeConfig drives the ICMP reachability checks.
type ProbeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Count      int           `yaml:"count"`
	Privileged bool          `yaml:"privileged"`
}

// Defaults for the backend durations.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultReconnectDelay = time.Second
)

// Load reads a YAML file, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse is Load without the file read.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:5000"
	}
	if c.Backend.ChannelPort == 0 {
		c.Backend.ChannelPort = 5000
	}
	if c.Backend.RequestTimeout == nil {
		timeout := DefaultRequestTimeout
		c.Backend.RequestTimeout = &timeout
	}
	if c.Backend.ReconnectDelay == nil {
		delay := DefaultReconnectDelay
		c.Backend.ReconnectDelay = &delay
	}
	if c.UI.Addr == "" {
		c.UI.Addr = ":8080"
	}
	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	if c.Streams.FanoutLimit == 0 {
		c.Streams.FanoutLimit = 4
	}
	if c.Video.Width == 0 {
		c.Video.Width = 640
	}
	if c.Video.Height == 0 {
		c.Video.Height = 480
	}
	if c.Notifications.DismissAfter == 0 {
		c.Notifications.DismissAfter = 5 * time.Second
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = 2 * time.Second
	}
	if c.Probe.Count == 0 {
		c.Probe.Count = 3
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("backend.url: missing host")
	}
	if c.Backend.ChannelPort < 0 || c.Backend.ChannelPort > 65535 {
		return fmt.Errorf("backend.channel_port out of range: %d", c.Backend.ChannelPort)
	}
	if c.Backend.Timeout() < 0 || c.Backend.Reconnect() < 0 {
		return errors.New("backend: durations must not be negative")
	}
	if c.Streams.FanoutLimit < 0 {
		return fmt.Errorf("streams.fanout_limit must be positive, got %d", c.Streams.FanoutLimit)
	}
	if c.Video.Width < 0 || c.Video.Height < 0 {
		return errors.New("video: dimensions must be positive")
	}
	if c.Probe.Count < 0 {
		return fmt.Errorf("probe.count must be positive, got %d", c.Probe.Count)
	}
	if c.Probe.Interval < 0 {
		return fmt.Errorf("probe.interval must be positive, got %s", c.Probe.Interval)
	}
	return nil
}

// MetricsEnabled reports whether the /metrics endpoint should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// ChannelURL returns the push channel URL. An explicit backend.channel_url wins;
// otherwise it is derived from backend.url: http maps to ws, https to wss, and the
// port is backend.channel_port on the same hostname.
func (c *Config) ChannelURL() (string, error) {
	if c.Backend.ChannelURL != "" {
		return c.Backend.ChannelURL, nil
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	host := net.JoinHostPort(u.Hostname(), strconv.Itoa(c.Backend.ChannelPort))
	return (&url.URL{Scheme: scheme, Host: host}).String(), nil
}
