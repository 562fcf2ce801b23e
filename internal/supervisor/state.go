package supervisor

import (
	"fmt"
	"time"

	"locus-desktop/internal/health"
	"locus-desktop/internal/sidecar"
)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateCrashed
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a point-in-time copy of the supervisor's view of the backend.
type Status struct {
	State        State
	PID          int
	Restarts     int
	LastExit     *sidecar.ExitStatus
	LastError    string
	StartedAt    time.Time
	Health       health.State
	HealthDetail string
}

// Uptime is zero unless the backend is running.
func (s Status) Uptime(now time.Time) time.Duration {
	if s.State != StateRunning || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
