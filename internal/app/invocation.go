package app

import "time"

// Invocation identifies one CLI command run. Its ID tags every log line
// written during the run, so the lines of one command can be grepped out of
// the shared log file.
type Invocation struct {
	ID      string
	Command string
	Started time.Time
}

// NewInvocation creates an invocation of command starting at now.
func NewInvocation(command string, now time.Time) *Invocation {
	return &Invocation{
		ID:      now.UTC().Format("20060102T150405Z"),
		Command: command,
		Started: now,
	}
}

// Elapsed returns the time since the invocation started, truncated to
// milliseconds for log output.
func (inv *Invocation) Elapsed(now time.Time) time.Duration {
	return now.Sub(inv.Started).Truncate(time.Millisecond)
}
