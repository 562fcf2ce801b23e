package views

import (
	"fmt"
	"strconv"
	"time"

	"locus-desktop/internal/health"
	"locus-desktop/internal/supervisor"
)

// Summary is the one-line text for the status bar and tray tooltip.
func Summary(st supervisor.Status, now time.Time) string {
	switch st.State {
	case supervisor.StateRunning:
		return fmt.Sprintf("Backend running (pid %d, up %s)", st.PID, FormatUptime(st.Uptime(now)))
	case supervisor.StateStopped:
		if st.LastError != "" {
			return "Backend stopped: " + st.LastError
		}
		return "Backend stopped"
	case supervisor.StateCrashed:
		return "Backend crashed: " + FormatExit(st)
	case supervisor.StateRestarting:
		return fmt.Sprintf("Backend restarting (restart %d)", st.Restarts+1)
	}
	return "Backend starting"
}

func FormatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func FormatExit(st supervisor.Status) string {
	if st.LastExit == nil {
		return "-"
	}
	return st.LastExit.String()
}

func FormatHealth(st supervisor.Status) string {
	switch st.Health {
	case health.Healthy:
		return "healthy"
	case health.Unhealthy:
		if st.HealthDetail != "" {
			return "unhealthy (" + st.HealthDetail + ")"
		}
		return "unhealthy"
	}
	return "unknown"
}

// FormatUptime rounds to the second; below a second it prints "0s".
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return d.Truncate(time.Second).String()
}

func FormatLine(stream, line string) string {
	if stream == "stderr" {
		return "! " + line
	}
	return "  " + line
}
