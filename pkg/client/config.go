package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ReconnectMode selects what happens when the reconnect timer fires.
type ReconnectMode string

const (
	// ReconnectReload asks the Reloader for a full restart.
	ReconnectReload ReconnectMode = "reload"

	// ReconnectResocket redials on the same Conn with backoff.
	ReconnectResocket ReconnectMode = "resocket"
)

// Defaults.
const (
	DefaultPath             = "/ws"
	DefaultReconnectDelay   = 5 * time.Second
	DefaultMaxMessageSize   = 1 << 20
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config configures a Conn.
type Config struct {
	// Host is the server authority, e.g. "example.com:8080".
	Host string

	// Path is the WebSocket endpoint path (default "/ws").
	Path string

	// Secure selects wss:// instead of ws://.
	Secure bool

	// Header is sent with the upgrade request.
	Header http.Header

	// ReconnectDelay is the wait between connection loss and the reconnect
	// action (default 5s).
	ReconnectDelay time.Duration

	// ReconnectMode defaults to ReconnectReload.
	ReconnectMode ReconnectMode

	// Backoff applies to failed redials in ReconnectResocket mode. Its
	// InitialDelay defaults to ReconnectDelay.
	Backoff Backoff

	// MaxMessageSize limits inbound frames (default 1MB).
	MaxMessageSize int64

	// WriteTimeout bounds each frame write (default 10s).
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the upgrade (default 10s).
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ReconnectMode == "" {
		c.ReconnectMode = ReconnectReload
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
		c.Backoff.InitialDelay = c.ReconnectDelay
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff.InitialDelay = c.ReconnectDelay
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if strings.Contains(c.Host, "://") {
		errs = append(errs, fmt.Errorf("host %q must not include a scheme", c.Host))
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect delay %v is negative", c.ReconnectDelay))
	}
	switch c.ReconnectMode {
	case ReconnectReload, ReconnectResocket:
	default:
		errs = append(errs, fmt.Errorf("unknown reconnect mode %q", c.ReconnectMode))
	}
	if c.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("max message size %d is negative", c.MaxMessageSize))
	}
	return errors.Join(errs...)
}

// URL returns the WebSocket URL.
func (c *Config) URL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Host, Path: c.Path}
	return u.String()
}
