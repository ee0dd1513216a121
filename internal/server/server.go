package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/wscast/internal/certs"
	"github.com/zsiec/wscast/internal/media"
	"github.com/zsiec/wscast/internal/ws"
)

const tlsHandshakeTimeout = 10 * time.Second

// Config holds the streaming server's configuration.
type Config struct {
	// Port to listen on. Zero picks an ephemeral port.
	Port   int
	Stream *media.Stream
	Cert   *certs.CertInfo
	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Server pushes one media stream to every connected WebSocket client.
type Server struct {
	cfg    Config
	log    *slog.Logger
	stream *media.Stream
	tlsCfg *tls.Config
	offer  []byte

	mu       sync.Mutex
	ln       net.Listener
	sessions map[uint64]*session
	nextID   uint64

	// frameID is shared by all sessions and owned by the scheduler
	// goroutine, the only place media is encoded. Wraps at 16 bits.
	frameID uint16

	totalConns    atomic.Int64
	totalMessages atomic.Int64
	totalBytes    atomic.Int64
}

// New creates a Server. It returns an error if required fields are
// missing or the stream is empty.
func New(cfg Config) (*Server, error) {
	if cfg.Stream == nil {
		return nil, errors.New("server: Stream is required")
	}
	if cfg.Cert == nil {
		return nil, errors.New("server: Cert is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("server: invalid port %d", cfg.Port)
	}
	if len(cfg.Stream.AccessUnits) == 0 && len(cfg.Stream.Packets) == 0 {
		return nil, errors.New("server: stream has no frames")
	}
	if cfg.Stream.IsContainer() && cfg.Stream.DurationMs <= 0 {
		return nil, errors.New("server: container stream missing duration")
	}

	offer, err := buildOffer(cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("server: build media offer: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log.With("component", "server"),
		stream:   cfg.Stream,
		tlsCfg:   cfg.Cert.TLSConfig(),
		offer:    offer,
		sessions: make(map[uint64]*session),
	}, nil
}

// Addr returns the bound listen address, or nil before Start has bound
// the listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start listens for clients and blocks until the context is cancelled
// or the listener fails. On cancellation every open session is told the
// server is going away before the listener closes.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	mode := "raw"
	if s.stream.IsContainer() {
		mode = "container"
	}
	s.log.Info("listening",
		"addr", ln.Addr().String(),
		"mode", mode,
		"codec", s.stream.Codec.String(),
		"fps", s.stream.FPS,
		"tickInterval", s.tickInterval())

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	go s.runScheduler(schedCtx)

	stop := context.AfterFunc(ctx, func() {
		s.closeAllSessions()
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs one client connection to completion. The session is
// not registered (or counted) until the TLS handshake succeeds.
func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	tlsConn := tls.Server(netConn, s.tlsCfg)
	c := &session{
		srv:         s,
		conn:        tlsConn,
		state:       StateHandshakingTLS,
		out:         make(chan []byte, outQueueDepth),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		log:         s.log.With("remote", netConn.RemoteAddr().String()),
	}

	hsCtx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
	err := tlsConn.HandshakeContext(hsCtx)
	cancel()
	if err != nil {
		c.log.Debug("TLS handshake failed", "err", err)
		netConn.Close()
		return
	}

	s.register(c)
	defer s.unregister(c)

	c.setState(StateHandshakingWS)
	go c.writeLoop()
	c.readLoop()
}

func (s *Server) register(c *session) {
	s.mu.Lock()
	s.nextID++
	c.id = s.nextID
	s.sessions[c.id] = c
	n := len(s.sessions)
	s.mu.Unlock()

	s.totalConns.Add(1)
	c.log = s.log.With("session", c.id, "remote", c.conn.RemoteAddr().String())
	c.log.Info("client connected", "connections", n)
}

func (s *Server) unregister(c *session) {
	c.shutdown(nil)

	s.mu.Lock()
	delete(s.sessions, c.id)
	n := len(s.sessions)
	s.mu.Unlock()

	c.log.Info("client disconnected",
		"durationSec", int(time.Since(c.connectedAt).Seconds()),
		"messages", c.messages.Load(),
		"mbSent", float64(c.bytesSent.Load())/(1<<20),
		"connections", n)
}

// snapshot copies the session registry so the scheduler can iterate it
// without holding the lock.
func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, c := range s.sessions {
		out = append(out, c)
	}
	return out
}

func (s *Server) closeAllSessions() {
	for _, c := range s.snapshot() {
		c.shutdown(ws.CloseFrame(ws.CloseNormalClosure, "Server is shutting down"))
	}
}

// logStatus reports aggregate delivery counters. Quiet when idle.
func (s *Server) logStatus() {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()
	if active == 0 {
		return
	}
	s.log.Info("server status",
		"connections", active,
		"totalConnections", s.totalConns.Load(),
		"messages", s.totalMessages.Load(),
		"mbSent", float64(s.totalBytes.Load())/(1<<20))
}
