// Package devserver is a development peer that speaks the server side of
// the duplex protocol.
//
// It accepts client sockets on /ws, logs their handshake, pings each peer
// on an interval with a fresh continuation token (alternating JSON text and
// BERT binary frames) and reports every envelope it receives. /metrics and
// /healthz are served next to it.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/duplex/pkg/bert"
	"github.com/vango-dev/duplex/pkg/codec"
	"github.com/vango-dev/duplex/pkg/console"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/metrics"
)

// ErrNoPeers is returned by Push when no client is connected.
var ErrNoPeers = errors.New("devserver: no connected peers")

// Config configures a Server.
type Config struct {
	// Addr is the listen address for ListenAndServe.
	Addr string

	// PingInterval is the time between pings to each peer. Zero disables pinging.
	PingInterval time.Duration

	// MaxMessageSize limits inbound frames (default 1MB).
	MaxMessageSize int64

	// WriteTimeout bounds each frame write (default 10s).
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown (default 5s).
	ShutdownTimeout time.Duration

	// Gatherer backs /metrics (default prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Metrics records frames handled by the server. May be nil.
	Metrics *metrics.Metrics

	// OnMessage is called for every envelope received from a peer.
	OnMessage func(peer string, env *envelope.Envelope)

	Logger *slog.Logger
}

// Server is the development peer.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
	decoder  *codec.Decoder

	mu    sync.Mutex
	peers map[string]*peer
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = console.Logger()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "devserver"),
		decoder: codec.Default(),
		peers:   make(map[string]*peer),
		upgrader: websocket.Upgrader{
			// Development only: accept any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on cfg.Addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.closePeers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// Peers returns the ids of connected peers.
func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// Push sends env to every connected peer in the given format and returns
// the number of peers it reached.
func (s *Server) Push(env *envelope.Envelope, format codec.Format) (int, error) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if len(peers) == 0 {
		return 0, ErrNoPeers
	}
	sent := 0
	var errs []error
	for _, p := range peers {
		if err := p.send(env, format); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"peers":  len(s.Peers()),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	p := &peer{
		id:      uuid.NewString(),
		conn:    conn,
		timeout: s.cfg.WriteTimeout,
		metrics: s.cfg.Metrics,
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()

	logger := s.logger.With("peer", p.id, "remote", r.RemoteAddr)
	logger.Info("peer connected")

	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		close(p.done)
		conn.Close()
		logger.Info("peer disconnected")
	}()

	if s.cfg.PingInterval > 0 {
		go s.pingLoop(p, logger)
	}
	s.readLoop(p, logger)
}

func (s *Server) readLoop(p *peer, logger *slog.Logger) {
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logger.Error("read error", "error", err)
			}
			return
		}

		env, format, err := s.decoder.Decode(codec.Frame{Binary: mt == websocket.BinaryMessage, Data: data})
		s.cfg.Metrics.RecordFrame(format.String())
		if err != nil {
			s.cfg.Metrics.RecordDecodeError(format.String())
			logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		switch {
		case env.Type == envelope.TypeStart:
			logger.Info("client started", "args", env.Args)
		case env.Type == envelope.TypeDatetime:
			logger.Info("client clock", "datetime", env.Args)
		case env.Type == envelope.TypeLog:
			logger.Info("client log", "log", env.Log)
		case env.IsReply():
			if env.HasOK() {
				logger.Info("reply", "action", env.Action, "ok", env.OK)
			} else {
				logger.Info("error reply", "action", env.Action, "error", env.Error, "error_str", env.ErrorStr)
			}
		default:
			logger.Info("client message", "type", env.Type, "action", env.Action, "form", len(env.Form))
		}

		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(p.id, env)
		}
	}
}

// pingLoop sends a ping request on every tick, alternating encodings.
func (s *Server) pingLoop(p *peer, logger *slog.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	formats := [2]codec.Format{codec.FormatJSON, codec.FormatBERT}
	for n := 0; ; n++ {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		env := &envelope.Envelope{Type: "ping", Cont: envelope.StringToken(uuid.NewString())}
		format := formats[n%2]
		if err := p.send(env, format); err != nil {
			logger.Warn("ping failed", "error", err)
			return
		}
		logger.Debug("ping sent", "cont", env.Cont.String(), "format", format.String())
	}
}

func (s *Server) closePeers() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

type peer struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration
	metrics *metrics.Metrics
	done    chan struct{}
	writeMu sync.Mutex
}

func (p *peer) send(env *envelope.Envelope, format codec.Format) error {
	var (
		data []byte
		mt   int
		err  error
	)
	switch format {
	case codec.FormatBERT:
		data, err = bert.EncodeEnvelope(env)
		mt = websocket.BinaryMessage
	default:
		data, err = envelope.Encode(env)
		mt = websocket.TextMessage
	}
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	if err := p.conn.WriteMessage(mt, data); err != nil {
		p.metrics.RecordSendError("write")
		return err
	}
	p.metrics.RecordSend()
	return nil
}

func (p *peer) close() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(p.timeout))
}
