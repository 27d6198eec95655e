package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind   string
	remote string
	data   []byte
	reason Reason
}

type recorder struct {
	events chan event
	ticks  atomic.Int64
}

func newRecorder() *recorder { return &recorder{events: make(chan event, 64)} }

func (r *recorder) OnConnect(remote string, _ time.Time) {
	r.events <- event{kind: "connect", remote: remote}
}

func (r *recorder) OnData(b []byte, _ time.Time) {
	r.events <- event{kind: "data", data: append([]byte(nil), b...)}
}

func (r *recorder) OnLateData(n int, _ time.Time) {
	r.events <- event{kind: "late", data: make([]byte, n)}
}

func (r *recorder) OnDisconnect(reason Reason, _ time.Time) {
	r.events <- event{kind: "disconnect", reason: reason}
}

func (r *recorder) OnReject(remote string, _ time.Time) {
	r.events <- event{kind: "reject", remote: remote}
}

func (r *recorder) OnTick(time.Time) { r.ticks.Add(1) }

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return event{}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(d):
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func start(t *testing.T, opts Options) (*Server, *recorder, func()) {
	t.Helper()
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	opts.Logger = zerolog.Nop()
	srv := NewServer(ln, opts)
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx, rec) }()

	return srv, rec, func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	}
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestForwardsBytesAndClientClose(t *testing.T) {
	srv, rec, stop := start(t, Options{})
	defer stop()

	c := dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)

	_, err := c.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	var got []byte
	for len(got) < 5 {
		e := rec.next(t)
		require.Equal(t, "data", e.kind)
		got = append(got, e.data...)
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)

	require.NoError(t, c.Close())
	e := rec.next(t)
	assert.Equal(t, "disconnect", e.kind)
	assert.Equal(t, ReasonClosed, e.reason)
}

func TestRejectsSecondClient(t *testing.T) {
	srv, rec, stop := start(t, Options{})
	defer stop()

	first := dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)

	second := dial(t, srv)
	e := rec.next(t)
	assert.Equal(t, "reject", e.kind)
	assert.Equal(t, second.LocalAddr().String(), e.remote)

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := second.Read(make([]byte, 1))
	assert.Error(t, err)

	// the first client is untouched
	_, err = first.Write([]byte{9})
	require.NoError(t, err)
	e = rec.next(t)
	assert.Equal(t, "data", e.kind)
	assert.Equal(t, []byte{9}, e.data)
}

func TestAcceptsNewClientAfterDisconnect(t *testing.T) {
	srv, rec, stop := start(t, Options{})
	defer stop()

	first := dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)
	require.NoError(t, first.Close())
	assert.Equal(t, "disconnect", rec.next(t).kind)

	dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)
}

func TestIdleTimeoutDisconnectsOnce(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	srv, rec, stop := start(t, Options{Timeout: 5000 * time.Millisecond, Now: clk.Now})
	defer stop()

	c := dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)

	clk.Advance(5000 * time.Millisecond)
	rec.quiet(t, 50*time.Millisecond)

	clk.Advance(time.Millisecond)
	e := rec.next(t)
	assert.Equal(t, "disconnect", e.kind)
	assert.Equal(t, ReasonTimeout, e.reason)

	clk.Advance(time.Hour)
	rec.quiet(t, 50*time.Millisecond)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestZeroTimeoutNeverExpires(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	srv, rec, stop := start(t, Options{Now: clk.Now})
	defer stop()

	dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)

	clk.Advance(24 * time.Hour)
	rec.quiet(t, 50*time.Millisecond)
	assert.Positive(t, rec.ticks.Load())
}

func TestActivityPushesTimeoutBack(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	srv, rec, stop := start(t, Options{Timeout: time.Second, Now: clk.Now})
	defer stop()

	c := dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)

	clk.Advance(900 * time.Millisecond)
	_, err := c.Write([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, "data", rec.next(t).kind)

	clk.Advance(900 * time.Millisecond)
	rec.quiet(t, 50*time.Millisecond)

	clk.Advance(101 * time.Millisecond)
	assert.Equal(t, ReasonTimeout, rec.next(t).reason)
}

func TestShutdownDisconnectsActiveClient(t *testing.T) {
	srv, rec, stop := start(t, Options{})

	dial(t, srv)
	assert.Equal(t, "connect", rec.next(t).kind)

	stop()
	e := rec.next(t)
	assert.Equal(t, "disconnect", e.kind)
	assert.Equal(t, ReasonShutdown, e.reason)
}

func TestIdle(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	s := &Server{opts: Options{Timeout: 5 * time.Second}}
	assert.False(t, s.Idle(t0.Add(time.Hour)), "no client")

	s.state = State{Connected: true, LastActivity: t0}
	assert.False(t, s.Idle(t0.Add(5000*time.Millisecond)))
	assert.True(t, s.Idle(t0.Add(5001*time.Millisecond)))

	s.opts.Timeout = 0
	assert.False(t, s.Idle(t0.Add(time.Hour)))
}

func TestLateBytesFromEndedSessionAreCounted(t *testing.T) {
	rec := newRecorder()
	s := &Server{opts: Options{Now: time.Now}, log: zerolog.Nop()}
	old := uuid.New()

	s.handleChunk(rec, chunk{session: old, data: make([]byte, 7), err: io.EOF})
	e := rec.next(t)
	assert.Equal(t, "late", e.kind)
	assert.Len(t, e.data, 7)
	assert.Equal(t, uint64(7), s.State().BytesReceived)

	s.state = State{Connected: true, Session: uuid.New()}
	s.handleChunk(rec, chunk{session: old, data: make([]byte, 3)})
	assert.Equal(t, "late", rec.next(t).kind)
	assert.Equal(t, uint64(10), s.State().BytesReceived)
	assert.True(t, s.State().Connected, "late bytes never touch the live session")
}

// flakyListener fails Accept a few times before handing out one conn, then
// blocks until closed.
type flakyListener struct {
	failures int
	conn     net.Conn
	closed   chan struct{}
	once     sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("accept: too many open files")
	}
	if c := l.conn; c != nil {
		l.conn = nil
		return c, nil
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestTransientAcceptErrorsAreRetried(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	ln := &flakyListener{failures: 3, conn: server, closed: make(chan struct{})}
	srv := NewServer(ln, Options{Logger: zerolog.Nop()})
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx, rec) }()

	assert.Equal(t, "connect", rec.next(t).kind)

	cancel()
	assert.Equal(t, ReasonShutdown, rec.next(t).reason)
	require.NoError(t, <-errc)
}

func TestClosedListenerEndsRun(t *testing.T) {
	ln := &flakyListener{closed: make(chan struct{})}
	srv := NewServer(ln, Options{Logger: zerolog.Nop()})
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(context.Background(), newRecorder()) }()

	require.NoError(t, ln.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
