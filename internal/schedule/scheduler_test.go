package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/tcp-led-stream/internal/frame"
)

type recorder struct {
	frames []uint64
	err    error
}

func (r *recorder) Commit(f frame.Frame) error {
	r.frames = append(r.frames, f.Seq)
	return r.err
}

var t0 = time.Unix(1700000000, 0)

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestHeuristicOverlapThenCommit(t *testing.T) {
	rec := &recorder{}
	s := New(Heuristic(15*time.Millisecond), rec)
	assert.Equal(t, Idle, s.State())

	d, err := s.Offer(frame.Frame{Seq: 1}, at(0))
	require.NoError(t, err)
	assert.Equal(t, Committed, d)
	assert.Equal(t, Showing, s.State())

	d, _ = s.Offer(frame.Frame{Seq: 2}, at(10*time.Millisecond))
	assert.Equal(t, Overlapped, d)
	assert.Equal(t, Showing, s.State())
	assert.Equal(t, uint64(1), s.Overlaps())

	d, _ = s.Offer(frame.Frame{Seq: 3}, at(20*time.Millisecond))
	assert.Equal(t, Committed, d)
	assert.Equal(t, Showing, s.State())
	assert.Equal(t, uint64(1), s.Overlaps())
	assert.Equal(t, at(20*time.Millisecond), s.Cycle().CommitAt)

	assert.Equal(t, []uint64{1, 3}, rec.frames)
}

func TestEstimateThreshold(t *testing.T) {
	p := Estimate(30*time.Microsecond, 100, 0)
	c := p.Begin(at(0))
	assert.Equal(t, 3000*time.Microsecond, c.Expected)

	rec := &recorder{}
	s := New(p, rec)
	_, err := s.Offer(frame.Frame{Seq: 1}, at(0))
	require.NoError(t, err)

	d, _ := s.Offer(frame.Frame{Seq: 2}, at(2999*time.Microsecond))
	assert.Equal(t, Overlapped, d)

	d, _ = s.Offer(frame.Frame{Seq: 3}, at(3000*time.Microsecond))
	assert.Equal(t, Committed, d)
	assert.Equal(t, uint64(1), s.Overlaps())
	assert.Equal(t, []uint64{1, 3}, rec.frames)
}

func TestEstimateSafetyMargin(t *testing.T) {
	p := Estimate(30*time.Microsecond, 100, 2*time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, p.Begin(at(0)).Expected)
}

func TestTickReturnsToIdleWithoutNewFrames(t *testing.T) {
	s := New(Heuristic(15*time.Millisecond), &recorder{})
	_, _ = s.Offer(frame.Frame{Seq: 1}, at(0))

	s.Tick(at(14 * time.Millisecond))
	assert.Equal(t, Showing, s.State())

	s.Tick(at(15 * time.Millisecond))
	assert.Equal(t, Idle, s.State())
}

func TestEveryFrameArrivingWhileShowingCounts(t *testing.T) {
	s := New(Heuristic(15*time.Millisecond), &recorder{})
	_, _ = s.Offer(frame.Frame{Seq: 1}, at(0))
	for i := 0; i < 3; i++ {
		d, _ := s.Offer(frame.Frame{Seq: uint64(i + 2)}, at(time.Millisecond))
		assert.Equal(t, Overlapped, d)
	}
	assert.Equal(t, uint64(3), s.Overlaps())
	assert.Equal(t, uint64(1), s.Commits())
}

func TestResetAllowsImmediateCommit(t *testing.T) {
	rec := &recorder{}
	s := New(Heuristic(100*time.Millisecond), rec)
	_, _ = s.Offer(frame.Frame{Seq: 1}, at(0))
	s.Reset()
	assert.Equal(t, Idle, s.State())

	d, _ := s.Offer(frame.Frame{Seq: 2}, at(time.Millisecond))
	assert.Equal(t, Committed, d)
}

func TestCommitErrorIsReturnedAndCycleStarts(t *testing.T) {
	boom := errors.New("spi gone")
	s := New(Heuristic(15*time.Millisecond), &recorder{err: boom})

	d, err := s.Offer(frame.Frame{Seq: 1}, at(0))
	assert.Equal(t, Committed, d)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Showing, s.State())
}

type busyFlag struct{ busy bool }

func (b *busyFlag) Busy() bool { return b.busy }

func TestBusySignalPolicy(t *testing.T) {
	flag := &busyFlag{}
	s := New(BusySignal(flag), &recorder{})

	_, _ = s.Offer(frame.Frame{Seq: 1}, at(0))
	flag.busy = true
	d, _ := s.Offer(frame.Frame{Seq: 2}, at(time.Hour))
	assert.Equal(t, Overlapped, d)

	flag.busy = false
	d, _ = s.Offer(frame.Frame{Seq: 3}, at(time.Hour))
	assert.Equal(t, Committed, d)
	assert.Equal(t, ModeBusy, s.Mode())
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeHeuristic, ModeEstimate, ModeBusy} {
		got, err := ParseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("guess")
	assert.Error(t, err)
}
