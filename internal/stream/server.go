// Package stream owns the TCP listener for the pixel stream. It serves one
// client at a time and enforces the inactivity timeout.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrServerClosed = errors.New("stream: server closed")

// Reason explains why a client session ended.
type Reason string

const (
	ReasonClosed   Reason = "closed"   // client closed the socket
	ReasonError    Reason = "error"    // read failed
	ReasonTimeout  Reason = "timeout"  // idle longer than the timeout
	ReasonShutdown Reason = "shutdown" // server stopping
)

// Handler receives every connection event. All calls come from the goroutine
// running Server.Run, one at a time.
type Handler interface {
	OnConnect(remote string, now time.Time)
	OnData(b []byte, now time.Time)
	// OnLateData reports bytes read from a session that already ended.
	OnLateData(n int, now time.Time)
	OnDisconnect(reason Reason, now time.Time)
	OnReject(remote string, now time.Time)
	OnTick(now time.Time)
}

// State is the connection bookkeeping owned by the run loop.
type State struct {
	Connected     bool
	Remote        string
	Session       uuid.UUID
	LastActivity  time.Time
	BytesReceived uint64
}

// Options configures a Server. Zero values pick the defaults.
type Options struct {
	// Timeout closes a client that sends nothing for longer than this. Zero
	// disables the check.
	Timeout time.Duration
	// Tick is how often Handler.OnTick runs and the timeout is evaluated.
	Tick time.Duration
	// ReadSize is the per read buffer size.
	ReadSize int
	// Now is the clock; defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
}

type chunk struct {
	session uuid.UUID
	data    []byte
	err     error
}

// Server accepts clients from a listener and funnels everything into a single
// control loop, so the handler never needs a lock.
type Server struct {
	ln   net.Listener
	opts Options
	log  zerolog.Logger

	conn  net.Conn
	state State
}

func NewServer(ln net.Listener, opts Options) *Server {
	if opts.Tick <= 0 {
		opts.Tick = time.Millisecond
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = 4096
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{ln: ln, opts: opts, log: opts.Logger.With().Str("component", "stream").Logger()}
}

// Listen opens a TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run serves until ctx is done or the listener is closed. It closes the
// listener and any active client before returning; a cancelled ctx returns
// nil. Other accept errors are logged and retried with a backoff.
func (s *Server) Run(ctx context.Context, h Handler) error {
	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	chunks := make(chan chunk, 16)
	done := make(chan struct{})
	defer close(done)

	go s.acceptLoop(conns, acceptErr, done)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	defer s.ln.Close()

	for {
		select {
		case <-ctx.Done():
			s.drop(h, ReasonShutdown)
			return nil

		case <-acceptErr:
			s.drop(h, ReasonShutdown)
			return ErrServerClosed

		case c := <-conns:
			s.accept(c, h, chunks, done)

		case ck := <-chunks:
			s.handleChunk(h, ck)

		case <-ticker.C:
			now := s.opts.Now()
			if s.Idle(now) {
				s.log.Info().Str("remote", s.state.Remote).Dur("idle", now.Sub(s.state.LastActivity)).Msg("client timed out")
				s.drop(h, ReasonTimeout)
			}
			h.OnTick(now)
		}
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptLoop hands accepted conns to the run loop. Only a closed listener
// ends it.
func (s *Server) acceptLoop(conns chan<- net.Conn, closed chan<- error, done <-chan struct{}) {
	var delay time.Duration
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				closed <- err
				return
			}
			delay *= 2
			if delay == 0 {
				delay = minAcceptDelay
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.log.Error().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
				continue
			case <-done:
				return
			}
		}
		delay = 0
		select {
		case conns <- c:
		case <-done:
			_ = c.Close()
			return
		}
	}
}

// handleChunk applies one read result. Bytes from a session that already
// ended are still counted but never reach the assembler.
func (s *Server) handleChunk(h Handler, ck chunk) {
	now := s.opts.Now()
	if !s.state.Connected || ck.session != s.state.Session {
		if len(ck.data) > 0 {
			s.state.BytesReceived += uint64(len(ck.data))
			h.OnLateData(len(ck.data), now)
		}
		return
	}
	if len(ck.data) > 0 {
		s.state.LastActivity = now
		s.state.BytesReceived += uint64(len(ck.data))
		h.OnData(ck.data, now)
	}
	if ck.err != nil {
		if errors.Is(ck.err, io.EOF) {
			s.drop(h, ReasonClosed)
		} else {
			s.log.Warn().Err(ck.err).Str("remote", s.state.Remote).Msg("read failed")
			s.drop(h, ReasonError)
		}
	}
}

// Idle reports whether the active client exceeded the inactivity timeout.
func (s *Server) Idle(now time.Time) bool {
	return s.state.Connected && s.opts.Timeout > 0 && now.Sub(s.state.LastActivity) > s.opts.Timeout
}

// State returns a copy of the connection bookkeeping. Only valid from handler
// callbacks or after Run returns.
func (s *Server) State() State { return s.state }

func (s *Server) accept(c net.Conn, h Handler, chunks chan<- chunk, done <-chan struct{}) {
	remote := c.RemoteAddr().String()
	if s.state.Connected {
		s.log.Warn().Str("remote", remote).Str("active", s.state.Remote).Msg("rejecting second client")
		_ = c.Close()
		h.OnReject(remote, s.opts.Now())
		return
	}

	now := s.opts.Now()
	s.conn = c
	s.state.Connected = true
	s.state.Remote = remote
	s.state.Session = uuid.New()
	s.state.LastActivity = now
	s.log.Info().Str("remote", remote).Str("session", s.state.Session.String()).Msg("client connected")
	h.OnConnect(remote, now)

	go s.read(c, s.state.Session, chunks, done)
}

func (s *Server) read(c net.Conn, session uuid.UUID, chunks chan<- chunk, done <-chan struct{}) {
	for {
		buf := make([]byte, s.opts.ReadSize)
		n, err := c.Read(buf)
		ck := chunk{session: session, data: buf[:n], err: err}
		if n == 0 && err == nil {
			continue
		}
		select {
		case chunks <- ck:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) drop(h Handler, reason Reason) {
	if !s.state.Connected {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
	s.log.Info().Str("remote", s.state.Remote).Str("reason", string(reason)).Msg("client disconnected")
	s.state.Connected = false
	s.state.Remote = ""
	s.state.Session = uuid.Nil
	h.OnDisconnect(reason, s.opts.Now())
}
