package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	derrors "github.com/vango-dev/duplex/internal/errors"
	"github.com/vango-dev/duplex/pkg/codec"
	"github.com/vango-dev/duplex/pkg/console"
	"github.com/vango-dev/duplex/pkg/dispatch"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/metrics"
)

// Connection errors.
var (
	// ErrNotOpen is returned by Send when the socket is not open.
	ErrNotOpen = errors.New("client: connection not open")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("client: already started")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("client: closed")
)

// Deps are the collaborators of a Conn. All fields are optional.
type Deps struct {
	Cookies   dispatch.CookieStore
	Reloader  dispatch.Reloader
	Evaluator dispatch.Evaluator
	Calls     dispatch.CallResolver

	// Logger overrides the process-wide console logger.
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Decoder defaults to codec.Default().
	Decoder *codec.Decoder

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Now is the clock used for ws_datetime (default time.Now).
	Now func() time.Time

	// OnStateChange is called after every transition, outside internal locks.
	OnStateChange func(from, to State)
}

// Conn is a duplex client connection.
type Conn struct {
	id         string
	cfg        Config
	deps       Deps
	dialer     *websocket.Dialer
	decoder    *codec.Decoder
	dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	state   State
	ws      *websocket.Conn
	timer   *time.Timer
	attempt int
	args    any
	ctx     context.Context
	cancel  context.CancelFunc
	rng     *rand.Rand

	// writeMu serializes frame writes. Nothing logs while holding it: the
	// console logger may itself be writing through this Conn.
	writeMu sync.Mutex
}

// New validates cfg and returns a disconnected Conn.
func New(cfg Config, deps Deps) (*Conn, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, derrors.New("C002").Wrap(err)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Conn{
		id:      uuid.NewString(),
		cfg:     cfg,
		deps:    deps,
		dialer:  deps.Dialer,
		decoder: deps.Decoder,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if c.dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = cfg.HandshakeTimeout
		c.dialer = &d
	}
	if c.decoder == nil {
		c.decoder = codec.Default()
	}
	c.dispatcher = dispatch.New(c, dispatch.Deps{
		Cookies:   deps.Cookies,
		Reloader:  deps.Reloader,
		Evaluator: deps.Evaluator,
		Calls:     deps.Calls,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Tracer:    deps.Tracer,
	})
	return c, nil
}

// ID returns the connection id used in logs.
func (c *Conn) ID() string { return c.id }

// URL returns the dial target.
func (c *Conn) URL() string { return c.cfg.URL() }

// Dispatcher returns the dispatcher inbound envelopes are routed to.
func (c *Conn) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) logger() *slog.Logger {
	l := c.deps.Logger
	if l == nil {
		l = console.Logger()
	}
	return l.With("component", "client", "conn", c.id)
}

// Start dials the server and begins reading. args is sent in the ws_start
// envelope, on this and every later resocket.
//
// ctx bounds the lifetime of the connection: cancelling it closes the Conn.
// If the first dial fails, the error is returned and the reconnect timer is
// armed as if an open socket had dropped.
func (c *Conn) Start(ctx context.Context, args any) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateDisconnected:
	default:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.args = args
	c.ctx, c.cancel = context.WithCancel(ctx)
	lifetime := c.ctx
	c.mu.Unlock()

	go func() {
		<-lifetime.Done()
		c.Close()
	}()

	return c.connect(lifetime)
}

// connect performs one dial attempt from Disconnected or Reconnecting.
func (c *Conn) connect(ctx context.Context) error {
	if !c.transition(StateConnecting, StateDisconnected, StateReconnecting) {
		return ErrClosed
	}

	url := c.cfg.URL()
	ws, _, err := c.dialer.DialContext(ctx, url, c.cfg.Header)
	if err != nil {
		c.deps.Metrics.RecordConnect(false)
		c.logger().Warn("dial failed", "url", url, "error", err)
		c.lost(nil)
		return derrors.New("D031").WithDetail(url).Wrap(err)
	}
	c.deps.Metrics.RecordConnect(true)
	ws.SetReadLimit(c.cfg.MaxMessageSize)

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	args := c.args
	c.mu.Unlock()

	// ws_start and ws_datetime are the first frames on every socket. Send
	// refuses until the state is Open.
	if err := c.handshake(ws, args); err != nil {
		c.logger().Error("handshake failed", "url", url, "error", err)
		ws.Close()
		c.lost(ws)
		return derrors.New("D031").WithDetail(url).Wrap(err)
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.ws != ws {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.attempt = 0
	from := c.setStateLocked(StateOpen)
	c.mu.Unlock()
	c.notify(from, StateOpen)

	c.logger().Info("connected", "url", url)

	go c.readLoop(ctx, ws)
	return nil
}

// handshake announces the client and samples its clock.
func (c *Conn) handshake(ws *websocket.Conn, args any) error {
	now := c.deps.Now()
	msgs := []*envelope.Envelope{
		{Type: envelope.TypeStart, Args: args},
		{Type: envelope.TypeDatetime, Args: []int{
			now.Year(), int(now.Month()), now.Day(),
			now.Hour(), now.Minute(), now.Second(),
		}},
	}
	for _, msg := range msgs {
		data, err := envelope.Encode(msg)
		if err != nil {
			return fmt.Errorf("client: %s: %w", msg.Type, err)
		}
		if err := c.write(ws, data); err != nil {
			return err
		}
	}
	return nil
}

// readLoop decodes and dispatches frames until the socket fails.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger().Error("read error", "error", err)
			} else {
				c.logger().Debug("read loop ended", "error", err)
			}
			c.lost(ws)
			return
		}

		frame := codec.Frame{Binary: mt == websocket.BinaryMessage, Data: data}
		env, format, err := c.decoder.Decode(frame)
		c.deps.Metrics.RecordFrame(format.String())
		if err != nil {
			c.deps.Metrics.RecordDecodeError(format.String())
			c.logger().Warn("dropping undecodable frame", "format", format.String(), "error", decodeError(err))
			continue
		}
		c.dispatcher.Handle(ctx, env)
	}
}

func decodeError(err error) *derrors.Error {
	if errors.Is(err, codec.ErrUnknownFormat) {
		return derrors.New("D002").Wrap(err)
	}
	return derrors.New("D001").Wrap(err)
}

// lost handles a socket close or failed dial. ws is the socket that failed,
// nil for a dial failure. Closes of a socket that is no longer current, and
// closes while a timer is already pending, are ignored.
func (c *Conn) lost(ws *websocket.Conn) {
	c.mu.Lock()
	if ws != nil && ws != c.ws {
		c.mu.Unlock()
		return
	}
	if c.state != StateOpen && c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	from := c.setStateLocked(StateReconnecting)
	delay := c.cfg.ReconnectDelay
	if c.attempt > 0 {
		delay = c.cfg.Backoff.Delay(c.attempt+1, c.rng)
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(delay, c.reconnect)
	}
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.notify(from, StateReconnecting)
	c.logger().Info("connection lost", "reconnect_in", delay, "mode", string(c.cfg.ReconnectMode))
}

// reconnect runs when the reconnect timer fires.
func (c *Conn) reconnect() {
	c.mu.Lock()
	c.timer = nil
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	mode := c.cfg.ReconnectMode
	ctx := c.ctx
	if mode == ReconnectResocket {
		c.attempt++
	}
	c.mu.Unlock()

	c.deps.Metrics.RecordReconnect(string(mode))

	if mode == ReconnectResocket {
		if err := c.connect(ctx); err != nil {
			c.logger().Debug("redial failed", "error", err)
		}
		return
	}

	if c.deps.Reloader == nil {
		c.logger().Warn("reconnect timer fired without a reloader")
		return
	}
	c.logger().Info("reloading")
	if err := c.deps.Reloader.Reload(); err != nil {
		c.logger().Error("reload failed", "error", err)
	}
}

// Send encodes env as JSON and writes it as a text frame.
func (c *Conn) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()
	if state != StateOpen || ws == nil {
		c.deps.Metrics.RecordSendError("not_open")
		return derrors.New("D030").WithDetail("state=" + state.String()).Wrap(ErrNotOpen)
	}

	return c.write(ws, data)
}

func (c *Conn) write(ws *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.deps.Metrics.RecordSendError("write")
		return fmt.Errorf("client: write: %w", err)
	}
	c.deps.Metrics.RecordSend()
	return nil
}

// Close ends the connection for good and cancels any pending reconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	from := c.setStateLocked(StateClosed)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ws != nil {
		c.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		err = ws.Close()
	}
	c.notify(from, StateClosed)
	return err
}

// transition moves to `to` if the current state is one of from.
func (c *Conn) transition(to State, from ...State) bool {
	c.mu.Lock()
	ok := false
	for _, s := range from {
		if c.state == s {
			ok = true
			break
		}
	}
	if !ok {
		c.mu.Unlock()
		return false
	}
	prev := c.setStateLocked(to)
	c.mu.Unlock()
	c.notify(prev, to)
	return true
}

func (c *Conn) setStateLocked(to State) State {
	from := c.state
	c.state = to
	c.deps.Metrics.SetState(to.String(), stateNames)
	return from
}

func (c *Conn) notify(from, to State) {
	if from == to {
		return
	}
	if c.deps.OnStateChange != nil {
		c.deps.OnStateChange(from, to)
	}
}
