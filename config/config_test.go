package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const agentYAML = `
interval_seconds: 15
log_level: debug
endpoint:
  url: http://ingest.internal:8080/ingest
  timeout: 5s
  max_retries: 4
  base_delay: 500ms
  max_delay: 20s
`

func TestLoadAgent(t *testing.T) {
	cfg, err := LoadAgent(writeConfig(t, agentYAML))
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.IntervalSeconds != 15 || cfg.Interval() != 15*time.Second {
		t.Errorf("interval = %d", cfg.IntervalSeconds)
	}
	if cfg.Endpoint.URL != "http://ingest.internal:8080/ingest" {
		t.Errorf("url = %q", cfg.Endpoint.URL)
	}
	if cfg.Endpoint.Timeout.Std() != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Endpoint.Timeout.Std())
	}
	if cfg.Endpoint.BaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("base_delay = %v", cfg.Endpoint.BaseDelay.Std())
	}
	if cfg.Endpoint.MaxRetries != 4 {
		t.Errorf("max_retries = %d", cfg.Endpoint.MaxRetries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}

func TestLoadAgentDefaults(t *testing.T) {
	cfg, err := LoadAgent(writeConfig(t, "endpoint:\n  url: http://localhost:8080/ingest\n"))
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if cfg.IntervalSeconds != 30 {
		t.Errorf("default interval = %d, want 30", cfg.IntervalSeconds)
	}
	if cfg.Endpoint.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.Endpoint.MaxRetries)
	}
	if cfg.Endpoint.MaxDelay.Std() != 30*time.Second {
		t.Errorf("default max_delay = %v", cfg.Endpoint.MaxDelay.Std())
	}
}

func TestLoadAgentMissingURL(t *testing.T) {
	_, err := LoadAgent(writeConfig(t, "interval_seconds: 5\n"))
	if err == nil || !strings.Contains(err.Error(), "endpoint.url") {
		t.Fatalf("err = %v, want endpoint.url error", err)
	}
}

const serverYAML = `
log_format: json
thresholds:
  cpu: 80
  memory: 85
  disk: 90
  swap: 50
alerts:
  cooldown_minutes: 5
  channels: [log, slack]
  slack_webhook: https://hooks.slack.com/services/T/B/x
  notify_recovery: true
storage:
  backend: sqlite
  sqlite:
    path: /var/lib/hostwatch/metrics.db
server:
  listen_addr: ":9090"
`

func TestLoadServer(t *testing.T) {
	cfg, err := LoadServer(writeConfig(t, serverYAML))
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Thresholds["cpu"] != 80 || cfg.Thresholds["swap"] != 50 {
		t.Errorf("thresholds = %v", cfg.Thresholds)
	}
	if cfg.Cooldown() != 5*time.Minute {
		t.Errorf("cooldown = %v", cfg.Cooldown())
	}
	if len(cfg.Alerts.Channels) != 2 || cfg.Alerts.Channels[1] != "slack" {
		t.Errorf("channels = %v", cfg.Alerts.Channels)
	}
	if !cfg.Alerts.NotifyRecovery {
		t.Error("notify_recovery not set")
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLite.Path == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log_format = %q", cfg.LogFormat)
	}
}

func TestLoadServerValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no backend", "server:\n  listen_addr: ':8080'\n", "storage.backend"},
		{"sqlite without path", "storage:\n  backend: sqlite\n", "storage.sqlite.path"},
		{"timescale without dsn", "storage:\n  backend: timescale\n", "storage.timescale.dsn"},
		{"unknown backend", "storage:\n  backend: influx\n", "unknown storage backend"},
		{
			"unknown threshold metric",
			"thresholds:\n  gpu: 90\nstorage:\n  backend: sqlite\n  sqlite:\n    path: /tmp/m.db\n",
			"unknown threshold metric",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadServer(writeConfig(t, c.yaml))
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("err = %v, want %q", err, c.wantErr)
			}
		})
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	cfg, err := LoadAgent(writeConfig(t, agentYAML+"\nfuture_feature: true\n"))
	if err != nil {
		t.Fatalf("unknown key rejected: %v", err)
	}
	if cfg.Endpoint.MaxRetries != 4 {
		t.Errorf("max_retries = %d", cfg.Endpoint.MaxRetries)
	}
}

func TestMissingFileErrors(t *testing.T) {
	if _, err := LoadAgent(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file did not error")
	}
}

func TestBadDuration(t *testing.T) {
	_, err := LoadAgent(writeConfig(t, "endpoint:\n  url: http://x/ingest\n  timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("err = %v, want invalid duration", err)
	}
}
