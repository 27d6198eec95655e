// Package diagnostics describes notable stream events in a form a human can
// act on. They are pushed to the /diag websocket feed.
package diagnostics

import "time"

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

const (
	CodeConnect     = "STREAM.CONNECT"
	CodeDisconnect  = "STREAM.DISCONNECT"
	CodeTimeout     = "STREAM.TIMEOUT"
	CodeReject      = "STREAM.REJECT"
	CodeOverlap     = "SHOW.OVERLAP"
	CodeCommitError = "SHOW.COMMIT_FAILED"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

func Connect(remote string, now time.Time) Diagnostic {
	return Diagnostic{
		Time: now, Severity: Info, Code: CodeConnect,
		Summary:  "Stream client connected",
		Evidence: map[string]any{"remote": remote},
	}
}

func Disconnect(reason string, now time.Time) Diagnostic {
	return Diagnostic{
		Time: now, Severity: Info, Code: CodeDisconnect,
		Summary:  "Stream client disconnected",
		Evidence: map[string]any{"reason": reason},
	}
}

func Timeout(idle time.Duration, now time.Time) Diagnostic {
	return Diagnostic{
		Time: now, Severity: Warn, Code: CodeTimeout,
		Summary:      "Stream client idle, connection closed",
		LikelyCauses: []string{"sender paused or crashed", "network dropped without a FIN"},
		SuggestedFixes: []string{
			"keep sending frames or reconnect",
			"raise timeout_ms, or set it to 0 to disable the check",
		},
		Evidence: map[string]any{"idle_ms": idle.Milliseconds()},
	}
}

func Reject(remote, active string, now time.Time) Diagnostic {
	return Diagnostic{
		Time: now, Severity: Warn, Code: CodeReject,
		Summary:        "Second stream client refused",
		LikelyCauses:   []string{"another sender is already streaming", "a stale sender still holds the socket"},
		SuggestedFixes: []string{"stop the other sender", "wait for the idle timeout to free the slot"},
		Evidence:       map[string]any{"remote": remote, "active": active},
	}
}

// Overlap reports frames dropped while a show was still running. total is
// the lifetime overlap count.
func Overlap(seq, total uint64, now time.Time) Diagnostic {
	return Diagnostic{
		Time: now, Severity: Info, Code: CodeOverlap,
		Summary:      "Frame dropped, previous show still in progress",
		LikelyCauses: []string{"sender frame rate exceeds what the strip can display"},
		SuggestedFixes: []string{
			"lower the sender frame rate",
			"shorten frame_completion_interval_ms or show_time_per_led_us if the strip is faster",
		},
		Evidence: map[string]any{"seq": seq, "overlaps": total},
	}
}

func CommitError(err error, now time.Time) Diagnostic {
	return Diagnostic{
		Time: now, Severity: Err, Code: CodeCommitError,
		Summary:        "Light output rejected a frame",
		Detail:         err.Error(),
		SuggestedFixes: []string{"check the SPI wiring and permissions on the spidev node"},
	}
}
