package supervisor

import (
	"context"
	"fmt"
	"time"

	"locus-desktop/internal/events"
	"locus-desktop/internal/health"
)

// healthReport is a check result tagged with the PID that was running
// when the check started.
type healthReport struct {
	pid    int
	result health.Result
}

// pollHealth polls the health checker while the backend is running and hands
// results to the loop.
func (s *Supervisor) pollHealth(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := s.Status()
		if st.State != StateRunning {
			continue
		}

		res := healthReport{pid: st.PID, result: s.opts.Health.Check(ctx)}
		select {
		case s.healthC <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) handleHealth(report healthReport) {
	// a check that straddled a restart says nothing about the new child
	if s.child == nil || report.pid != s.child.PID {
		return
	}
	res := report.result

	s.update(func(st *Status) {
		st.Health = res.State
		st.HealthDetail = res.Detail
	})
	s.bus.Publish(events.Event{
		Type: EventHealth,
		Data: map[string]interface{}{"result": res},
	})

	if res.State == health.Healthy {
		s.failures = 0
		return
	}

	s.failures++
	s.log.Warning("supervisor", "backend health check failed", map[string]interface{}{
		"detail":   res.Detail,
		"failures": s.failures,
	})

	if !s.opts.RestartOnUnhealthy || s.failures < s.opts.UnhealthyThreshold {
		return
	}

	reason := fmt.Sprintf("backend unhealthy after %d checks: %s", s.failures, res.Detail)
	s.failures = 0
	s.stopChild()
	s.update(func(st *Status) {
		st.State = StateCrashed
		st.Health = health.Unhealthy
	})
	s.scheduleRestart(reason)
}
