package schedule

import (
	"fmt"
	"time"
)

// Mode names a completion policy in configuration.
type Mode string

const (
	ModeHeuristic Mode = "heuristic"
	ModeEstimate  Mode = "estimate"
	ModeBusy      Mode = "busy"
)

// ParseMode accepts the configuration spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHeuristic, ModeEstimate, ModeBusy:
		return m, nil
	}
	return "", fmt.Errorf("unknown completion mode %q", s)
}

// Policy decides when a committed show cycle has physically finished. None of
// the outputs in scope raise a completion interrupt, so policies estimate it.
type Policy interface {
	Mode() Mode
	// Begin stamps a cycle committed at now.
	Begin(now time.Time) ShowCycle
	// Finished reports whether c is presumed complete at now.
	Finished(c ShowCycle, now time.Time) bool
}

// BusyReporter is implemented by outputs that know whether they are still
// clocking data out to the strip.
type BusyReporter interface {
	Busy() bool
}

type heuristic struct {
	interval time.Duration
}

// Heuristic treats a show as finished once a fixed settle window has passed.
func Heuristic(interval time.Duration) Policy {
	return heuristic{interval: interval}
}

func (h heuristic) Mode() Mode { return ModeHeuristic }

func (h heuristic) Begin(now time.Time) ShowCycle {
	return ShowCycle{CommitAt: now}
}

func (h heuristic) Finished(c ShowCycle, now time.Time) bool {
	return now.Sub(c.CommitAt) >= h.interval
}

type estimate struct {
	expected time.Duration
}

// Estimate presumes completion after perLED × pixels (+ margin).
func Estimate(perLED time.Duration, pixels int, margin time.Duration) Policy {
	return estimate{expected: perLED*time.Duration(pixels) + margin}
}

func (e estimate) Mode() Mode { return ModeEstimate }

func (e estimate) Begin(now time.Time) ShowCycle {
	return ShowCycle{CommitAt: now, Expected: e.expected}
}

func (e estimate) Finished(c ShowCycle, now time.Time) bool {
	return now.Sub(c.CommitAt) >= c.Expected
}

type busySignal struct {
	reporters []BusyReporter
}

// BusySignal defers to outputs that report a real busy flag; the show is over
// once none of them is busy.
func BusySignal(reporters ...BusyReporter) Policy {
	return busySignal{reporters: reporters}
}

func (b busySignal) Mode() Mode { return ModeBusy }

func (b busySignal) Begin(now time.Time) ShowCycle {
	return ShowCycle{CommitAt: now}
}

func (b busySignal) Finished(_ ShowCycle, _ time.Time) bool {
	for _, r := range b.reporters {
		if r.Busy() {
			return false
		}
	}
	return true
}
