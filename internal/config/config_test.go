package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
backend:
  url: https://tello.local:8443
streams:
  fanout_limit: 8
probe:
  enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Backend.ChannelPort != 5000 {
		t.Fatalf("expected channel port default 5000, got %d", cfg.Backend.ChannelPort)
	}
	if cfg.Streams.FanoutLimit != 8 {
		t.Fatalf("expected fanout limit 8, got %d", cfg.Streams.FanoutLimit)
	}
	if cfg.Notifications.DismissAfter != 5*time.Second {
		t.Fatalf("expected dismiss default 5s, got %s", cfg.Notifications.DismissAfter)
	}
	if cfg.Video.Width != 640 || cfg.Video.Height != 480 {
		t.Fatalf("expected 640x480 surfaces, got %dx%d", cfg.Video.Width, cfg.Video.Height)
	}
	if cfg.UI.Addr != ":8080" {
		t.Fatalf("expected default ui addr :8080, got %s", cfg.UI.Addr)
	}
	if !cfg.MetricsEnabled() {
		t.Fatalf("expected metrics enabled by default")
	}
	if !cfg.Probe.Enabled || cfg.Probe.Interval != 2*time.Second {
		t.Fatalf("unexpected probe config %+v", cfg.Probe)
	}
}

func TestChannelURLDerivedFromBackend(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":     "ws://localhost:5000",
		"https://tello.local":       "wss://tello.local:5000",
		"http://[::1]:9000/console": "ws://[::1]:5000",
	}
	for backend, want := range cases {
		cfg := Default()
		cfg.Backend.URL = backend
		got, err := cfg.ChannelURL()
		if err != nil {
			t.Fatalf("%s: %v", backend, err)
		}
		if got != want {
			t.Fatalf("%s: expected %s, got %s", backend, want, got)
		}
	}
}

func TestChannelURLExplicitWins(t *testing.T) {
	cfg := Default()
	cfg.Backend.ChannelURL = "ws://other:7000"
	got, err := cfg.ChannelURL()
	if err != nil {
		t.Fatalf("channel url: %v", err)
	}
	if got != "ws://other:7000" {
		t.Fatalf("expected explicit channel url, got %s", got)
	}
}

func TestParseRejectsBadBackend(t *testing.T) {
	for _, data := range []string{
		"backend:\n  url: ftp://drones\n",
		"backend:\n  url: http://\n",
		"streams:\n  fanout_limit: -1\n",
	} {
		if _, err := Parse([]byte(data)); err == nil {
			t.Fatalf("expected error for %q", data)
		}
	}
}

func TestMetricsCanBeDisabled(t *testing.T) {
	cfg, err := Parse([]byte("metrics:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MetricsEnabled() {
		t.Fatalf("expected metrics disabled")
	}
}

func TestBackendDurationsZeroDisables(t *testing.T) {
	cfg, err := Parse([]byte("backend:\n  request_timeout: 0s\n  reconnect_delay: 0s\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend.Timeout() != 0 {
		t.Fatalf("expected explicit zero timeout to survive defaults, got %s", cfg.Backend.Timeout())
	}
	if cfg.Backend.Reconnect() != 0 {
		t.Fatalf("expected explicit zero reconnect delay, got %s", cfg.Backend.Reconnect())
	}

	def := Default()
	if def.Backend.Timeout() != DefaultRequestTimeout {
		t.Fatalf("expected default timeout %s, got %s", DefaultRequestTimeout, def.Backend.Timeout())
	}
	if def.Backend.Reconnect() != DefaultReconnectDelay {
		t.Fatalf("expected default reconnect delay %s, got %s", DefaultReconnectDelay, def.Backend.Reconnect())
	}

	if _, err := Parse([]byte("backend:\n  reconnect_delay: -1s\n")); err == nil {
		t.Fatalf("expected negative reconnect delay to be rejected")
	}
}
