// Package schedule decides when a completed frame may be committed to the
// lights without tearing a show cycle that is still rendering.
package schedule

import (
	"time"

	"github.com/coreman2200/tcp-led-stream/internal/frame"
)

type State int

const (
	Idle State = iota
	Showing
)

func (s State) String() string {
	if s == Showing {
		return "showing"
	}
	return "idle"
}

// ShowCycle is the lifecycle of one committed frame. A new commit supersedes it.
type ShowCycle struct {
	CommitAt time.Time
	Expected time.Duration // estimate mode only
	State    State
}

// Decision is the outcome of offering a frame.
type Decision int

const (
	Committed Decision = iota
	Overlapped
)

func (d Decision) String() string {
	if d == Overlapped {
		return "overlap"
	}
	return "commit"
}

// Committer pushes a frame to every light and triggers the show.
type Committer interface {
	Commit(f frame.Frame) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(f frame.Frame) error

func (fn CommitFunc) Commit(f frame.Frame) error { return fn(f) }

// Scheduler is the Idle/Showing state machine. It is owned by the control loop
// and is not safe for concurrent use.
type Scheduler struct {
	policy    Policy
	committer Committer
	cycle     ShowCycle
	overlaps  uint64
	commits   uint64
}

func New(policy Policy, committer Committer) *Scheduler {
	return &Scheduler{policy: policy, committer: committer}
}

// Offer evaluates completion of the current cycle and then either commits f or
// drops it as an overlap. Every frame arriving while Showing counts once.
func (s *Scheduler) Offer(f frame.Frame, now time.Time) (Decision, error) {
	s.Tick(now)
	if s.cycle.State == Showing {
		s.overlaps++
		return Overlapped, nil
	}

	s.cycle = s.policy.Begin(now)
	s.cycle.State = Showing
	s.commits++
	return Committed, s.committer.Commit(f)
}

// Tick moves Showing to Idle once the policy presumes the show finished, so a
// later frame is never judged against a stale cycle.
func (s *Scheduler) Tick(now time.Time) {
	if s.cycle.State == Showing && s.policy.Finished(s.cycle, now) {
		s.cycle.State = Idle
	}
}

// Reset forgets the current cycle, as after a disconnect.
func (s *Scheduler) Reset() {
	s.cycle = ShowCycle{}
}

func (s *Scheduler) State() State { return s.cycle.State }

func (s *Scheduler) Cycle() ShowCycle { return s.cycle }

func (s *Scheduler) Mode() Mode { return s.policy.Mode() }

func (s *Scheduler) Overlaps() uint64 { return s.overlaps }

func (s *Scheduler) Commits() uint64 { return s.commits }
