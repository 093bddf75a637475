package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/duplex/internal/errors"
	"github.com/vango-dev/duplex/pkg/client"
)

const (
	// ConfigFileName is the JSON configuration file name.
	ConfigFileName = "duplex.json"

	// TOMLFileName is the TOML configuration file name.
	TOMLFileName = "duplex.toml"

	// DefaultHost is the default server authority.
	DefaultHost = "localhost:8080"

	// DefaultDevAddr is the default dev server listen address.
	DefaultDevAddr = "localhost:8080"
)

// Config is the complete duplex configuration.
type Config struct {
	Server    ServerConfig    `json:"server" toml:"server"`
	Reconnect ReconnectConfig `json:"reconnect" toml:"reconnect"`
	Limits    LimitsConfig    `json:"limits" toml:"limits"`
	Log       LogConfig       `json:"log" toml:"log"`
	Eval      EvalConfig      `json:"eval" toml:"eval"`
	Metrics   MetricsConfig   `json:"metrics" toml:"metrics"`
	Dev       DevConfig       `json:"dev" toml:"dev"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig locates the WebSocket endpoint.
type ServerConfig struct {
	// Host is the server authority, e.g. "example.com:443".
	Host string `json:"host,omitempty" toml:"host"`

	// Path is the WebSocket path (default "/ws").
	Path string `json:"path,omitempty" toml:"path"`

	// Secure selects wss://.
	Secure bool `json:"secure,omitempty" toml:"secure"`
}

// ReconnectConfig controls behavior after connection loss.
type ReconnectConfig struct {
	// Mode is "reload" (restart from scratch) or "resocket" (redial in place).
	Mode string `json:"mode,omitempty" toml:"mode"`

	// Delay is the wait after connection loss (default "5s").
	Delay Duration `json:"delay,omitempty" toml:"delay"`

	// MaxDelay caps resocket backoff (default "1m").
	MaxDelay Duration `json:"maxDelay,omitempty" toml:"max_delay"`

	// Multiplier is the resocket backoff factor (default 2).
	Multiplier float64 `json:"multiplier,omitempty" toml:"multiplier"`

	// Jitter randomizes resocket delays (default true).
	Jitter *bool `json:"jitter,omitempty" toml:"jitter"`
}

// LimitsConfig bounds socket resource use.
type LimitsConfig struct {
	MaxMessageSize int64    `json:"maxMessageSize,omitempty" toml:"max_message_size"`
	WriteTimeout   Duration `json:"writeTimeout,omitempty" toml:"write_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" toml:"level"`

	// Format is text or json.
	Format string `json:"format,omitempty" toml:"format"`
}

// EvalConfig gates remote code evaluation.
type EvalConfig struct {
	// Allow installs the shell evaluator. Only enable for trusted servers.
	Allow bool `json:"allow,omitempty" toml:"allow"`

	// Shell runs eval code as `Shell -c code` (default "sh").
	Shell string `json:"shell,omitempty" toml:"shell"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `json:"addr,omitempty" toml:"addr"`
}

// DevConfig configures `duplex serve`.
type DevConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" toml:"addr"`

	// PingInterval is the time between server pings (default "10s").
	PingInterval Duration `json:"pingInterval,omitempty" toml:"ping_interval"`
}

// New creates a new Config with default values.
func New() *Config {
	jitter := true
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Path: client.DefaultPath,
		},
		Reconnect: ReconnectConfig{
			Mode:       string(client.ReconnectReload),
			Delay:      Duration(client.DefaultReconnectDelay),
			MaxDelay:   Duration(time.Minute),
			Multiplier: 2,
			Jitter:     &jitter,
		},
		Limits: LimitsConfig{
			MaxMessageSize: client.DefaultMaxMessageSize,
			WriteTimeout:   Duration(client.DefaultWriteTimeout),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Eval: EvalConfig{
			Shell: "sh",
		},
		Dev: DevConfig{
			Addr:         DefaultDevAddr,
			PingInterval: Duration(10 * time.Second),
		},
	}
}

// Load reads duplex.json, or failing that duplex.toml, from dir. If
// neither exists the defaults are used. Environment overrides are applied
// in every case.
func Load(dir string) (*Config, error) {
	for _, name := range []string{ConfigFileName, TOMLFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	cfg := New()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from path. The format is chosen by
// extension: .toml is TOML, anything else JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("C001").
				WithDetail("No config file at " + path).
				WithSuggestion("Create " + ConfigFileName + " or omit --config to use defaults")
		}
		return nil, errors.New("C001").Wrap(err)
	}

	cfg := New()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("C001").
			WithDetail(fmt.Sprintf("Failed to parse %s: %v", filepath.Base(path), err)).
			WithSuggestion("Check the file syntax")
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

// SaveTo writes the configuration to path as JSON.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("C001").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("C001").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for fields a file left empty.
func (c *Config) applyDefaults() {
	def := New()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Path == "" {
		c.Server.Path = def.Server.Path
	}
	if c.Reconnect.Mode == "" {
		c.Reconnect.Mode = def.Reconnect.Mode
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = def.Reconnect.Delay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = def.Reconnect.MaxDelay
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = def.Reconnect.Multiplier
	}
	if c.Reconnect.Jitter == nil {
		c.Reconnect.Jitter = def.Reconnect.Jitter
	}
	if c.Limits.MaxMessageSize == 0 {
		c.Limits.MaxMessageSize = def.Limits.MaxMessageSize
	}
	if c.Limits.WriteTimeout == 0 {
		c.Limits.WriteTimeout = def.Limits.WriteTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Eval.Shell == "" {
		c.Eval.Shell = def.Eval.Shell
	}
	if c.Dev.Addr == "" {
		c.Dev.Addr = def.Dev.Addr
	}
	if c.Dev.PingInterval == 0 {
		c.Dev.PingInterval = def.Dev.PingInterval
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(detail string) *errors.Error {
		return errors.New("C002").WithDetail(detail)
	}
	if c.Server.Host == "" {
		return invalid("server.host is required")
	}
	if strings.Contains(c.Server.Host, "://") {
		return invalid("server.host must not include a scheme").
			WithSuggestion("Use server.secure for wss://")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return invalid("server.path must start with /")
	}
	switch client.ReconnectMode(c.Reconnect.Mode) {
	case client.ReconnectReload, client.ReconnectResocket:
	default:
		return invalid(fmt.Sprintf("reconnect.mode %q must be reload or resocket", c.Reconnect.Mode))
	}
	if c.Reconnect.Delay < 0 || c.Reconnect.MaxDelay < 0 {
		return invalid("reconnect delays must not be negative")
	}
	if c.Reconnect.Multiplier < 1 {
		return invalid("reconnect.multiplier must be at least 1")
	}
	if c.Limits.MaxMessageSize < 0 {
		return invalid("limits.maxMessageSize must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return invalid(err.Error())
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid(fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Dev.PingInterval < 0 {
		return invalid("dev.pingInterval must not be negative")
	}
	return nil
}

// ClientConfig converts the settings into a client.Config.
func (c *Config) ClientConfig() client.Config {
	jitter := c.Reconnect.Jitter == nil || *c.Reconnect.Jitter
	return client.Config{
		Host:           c.Server.Host,
		Path:           c.Server.Path,
		Secure:         c.Server.Secure,
		ReconnectDelay: c.Reconnect.Delay.Std(),
		ReconnectMode:  client.ReconnectMode(c.Reconnect.Mode),
		Backoff: client.Backoff{
			InitialDelay: c.Reconnect.Delay.Std(),
			MaxDelay:     c.Reconnect.MaxDelay.Std(),
			Multiplier:   c.Reconnect.Multiplier,
			Jitter:       jitter,
		},
		MaxMessageSize: c.Limits.MaxMessageSize,
		WriteTimeout:   c.Limits.WriteTimeout.Std(),
	}
}

// Logger builds the process logger described by the log settings.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q must be debug, info, warn or error", s)
	}
	return level, nil
}
