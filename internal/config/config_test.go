package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/duplex/internal/errors"
	"github.com/vango-dev/duplex/pkg/client"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.Server.Path != "/ws" {
		t.Errorf("Server.Path = %q, want /ws", cfg.Server.Path)
	}
	if cfg.Reconnect.Delay.Std() != 5*time.Second {
		t.Errorf("Reconnect.Delay = %v, want 5s", cfg.Reconnect.Delay)
	}
	if cfg.Reconnect.Mode != "reload" {
		t.Errorf("Reconnect.Mode = %q, want reload", cfg.Reconnect.Mode)
	}
	if cfg.Eval.Allow {
		t.Error("Eval.Allow should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate should pass for defaults: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Host != DefaultHost || cfg.Path() != "" {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoad_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	configJSON := `{
  "server": {"host": "example.com:443", "secure": true},
  "reconnect": {"mode": "resocket", "delay": "2s"},
  "log": {"level": "debug", "format": "json"}
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Host != "example.com:443" || !cfg.Server.Secure {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.Path != "/ws" {
		t.Errorf("Server.Path = %q, want default /ws", cfg.Server.Path)
	}
	if cfg.Reconnect.Mode != "resocket" || cfg.Reconnect.Delay.Std() != 2*time.Second {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate error: %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configTOML := `
[server]
host = "toml.example:9000"
path = "/socket"

[reconnect]
mode = "resocket"
delay = "250ms"
max_delay = "30s"
multiplier = 1.5
jitter = false

[dev]
ping_interval = "1s"
`
	if err := os.WriteFile(filepath.Join(tmpDir, TOMLFileName), []byte(configTOML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Host != "toml.example:9000" || cfg.Server.Path != "/socket" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Reconnect.Delay.Std() != 250*time.Millisecond || cfg.Reconnect.MaxDelay.Std() != 30*time.Second {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Reconnect.Jitter == nil || *cfg.Reconnect.Jitter {
		t.Errorf("Reconnect.Jitter = %v, want false", cfg.Reconnect.Jitter)
	}
	if cfg.Dev.PingInterval.Std() != time.Second {
		t.Errorf("Dev.PingInterval = %v, want 1s", cfg.Dev.PingInterval)
	}

	cc := cfg.ClientConfig()
	if cc.ReconnectMode != client.ReconnectResocket || cc.Backoff.Multiplier != 1.5 || cc.Backoff.Jitter {
		t.Errorf("ClientConfig = %+v", cc)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := LoadFile(filepath.Join(tmpDir, "missing.json"))
	if !stderrors.Is(err, errors.New("C001")) {
		t.Errorf("missing file error = %v, want C001", err)
	}

	bad := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(bad, []byte("not valid json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = LoadFile(bad)
	if err == nil || !strings.Contains(err.Error(), "C001") {
		t.Errorf("invalid JSON error = %v, want C001", err)
	}

	unknown := filepath.Join(tmpDir, "x.toml")
	if err := os.WriteFile(unknown, []byte("[server]\nhots = \"typo\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = LoadFile(unknown)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("unknown TOML key error = %v", err)
	}

	badDuration := filepath.Join(tmpDir, "d.json")
	if err := os.WriteFile(badDuration, []byte(`{"reconnect":{"delay":5}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(badDuration); err == nil {
		t.Error("expected error for numeric duration")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DUPLEX_HOST", "env.example:1234")
	t.Setenv("DUPLEX_PATH", "/live")
	t.Setenv("DUPLEX_SECURE", "true")
	t.Setenv("DUPLEX_RECONNECT_DELAY", "750ms")
	t.Setenv("DUPLEX_RECONNECT_MODE", "resocket")
	t.Setenv("DUPLEX_LOG_LEVEL", "warn")
	t.Setenv("DUPLEX_ALLOW_EVAL", "true")
	t.Setenv("DUPLEX_METRICS_ADDR", ":9100")

	cfg := New()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	if cfg.Server.Host != "env.example:1234" || cfg.Server.Path != "/live" || !cfg.Server.Secure {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Reconnect.Delay.Std() != 750*time.Millisecond || cfg.Reconnect.Mode != "resocket" {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Eval.Allow || cfg.Metrics.Addr != ":9100" {
		t.Errorf("Eval/Metrics = %+v / %+v", cfg.Eval, cfg.Metrics)
	}
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"server":{"host":"file:1"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DUPLEX_HOST", "env:2")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Server.Host != "env:2" {
		t.Errorf("Server.Host = %q, want env:2", cfg.Server.Host)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("DUPLEX_SECURE", "sometimes")
	if err := New().ApplyEnv(); !stderrors.Is(err, errors.New("C002")) {
		t.Errorf("ApplyEnv error = %v, want C002", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Server.Host = "" }},
		{"scheme in host", func(c *Config) { c.Server.Host = "ws://x" }},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }},
		{"unknown mode", func(c *Config) { c.Reconnect.Mode = "retry" }},
		{"negative delay", func(c *Config) { c.Reconnect.Delay = -1 }},
		{"small multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !stderrors.Is(err, errors.New("C002")) {
				t.Fatalf("Validate() = %v, want C002", err)
			}
		})
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := New()
	cfg.Server.Host = "saved:1"
	cfg.Reconnect.Delay = Duration(3 * time.Second)

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"delay": "3s"`) {
		t.Errorf("saved file should write durations as strings:\n%s", data)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if loaded.Server.Host != "saved:1" || loaded.Reconnect.Delay.Std() != 3*time.Second {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLogger(t *testing.T) {
	var sb strings.Builder
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"
	logger := cfg.Logger(&sb)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	out := sb.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("warn record missing from json output: %s", out)
	}
}
