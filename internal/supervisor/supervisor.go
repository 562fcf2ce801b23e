// Package supervisor owns the backend child process after launch. It
// forwards the child's output to a log sink, restarts it with exponential
// backoff when it dies, and optionally restarts it when its health
// endpoint stops answering.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"locus-desktop/internal/events"
	"locus-desktop/internal/health"
	"locus-desktop/internal/logger"
	"locus-desktop/internal/sidecar"
)

// Event types published on the bus.
const (
	EventState  = "supervisor.state"
	EventOutput = "supervisor.output"
	EventHealth = "supervisor.health"
)

var (
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrStopped        = errors.New("supervisor stopped")
	ErrNotStarted     = errors.New("supervisor not started")
)

// Spawner starts a fresh backend process.
type Spawner func(ctx context.Context) (*sidecar.Child, error)

// LineSink receives every output line of the backend.
type LineSink interface {
	Line(stream, line string)
}

// Checker is satisfied by *health.Client.
type Checker interface {
	Check(ctx context.Context) health.Result
}

type Options struct {
	RestartEnabled bool
	// MaxRestarts within RestartWindow. Zero means unlimited.
	MaxRestarts    int
	RestartWindow  time.Duration
	StableAfter    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StopGrace      time.Duration

	Health             Checker
	HealthInterval     time.Duration
	UnhealthyThreshold int
	RestartOnUnhealthy bool

	// WatchPath restarts the backend when the file is rewritten.
	WatchPath     string
	WatchDebounce time.Duration

	// Bus carries state and health events. Output lines go on Output so a
	// chatty backend cannot crowd state changes out of the buffer.
	Bus    *events.Bus
	Output *events.Bus
	Sink   LineSink
}

type command struct {
	reason string
	reply  chan error
}

type Supervisor struct {
	spawn  Spawner
	log    logger.Logger
	opts   Options
	bus    *events.Bus
	output *events.Bus
	owned  []*events.Bus

	mu     sync.RWMutex
	status Status

	// owned by the loop goroutine once started
	child      *sidecar.Child
	spawns     int
	backoff    *backoff.ExponentialBackOff
	restartsAt []time.Time
	failures   int
	retry      *time.Timer

	cmds    chan command
	healthC chan healthReport

	lifeMu  sync.Mutex
	started atomic.Bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}
}

func New(spawn Spawner, log logger.Logger, opts Options) *Supervisor {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.UnhealthyThreshold < 1 {
		opts.UnhealthyThreshold = 1
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = 500 * time.Millisecond
	}

	var owned []*events.Bus
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(128)
		owned = append(owned, bus)
	}
	output := opts.Output
	if output == nil {
		output = events.NewBus(1024)
		owned = append(owned, output)
	}

	b := backoff.NewExponentialBackOff()
	if opts.InitialBackoff > 0 {
		b.InitialInterval = opts.InitialBackoff
	}
	if opts.MaxBackoff > 0 {
		b.MaxInterval = opts.MaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()

	return &Supervisor{
		spawn:   spawn,
		log:     log,
		opts:    opts,
		bus:     bus,
		output:  output,
		owned:   owned,
		status:  Status{State: StateStarting},
		backoff: b,
		cmds:    make(chan command),
		healthC: make(chan healthReport),
		done:    make(chan struct{}),
	}
}

// Bus returns the bus state changes are published on.
func (s *Supervisor) Bus() *events.Bus { return s.bus }

// OutputBus returns the bus backend output lines are published on.
func (s *Supervisor) OutputBus() *events.Bus { return s.output }

// Status returns a snapshot.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// OnState calls fn with every status change, in order.
func (s *Supervisor) OnState(id string, fn func(Status)) {
	s.bus.Subscribe(EventState, events.HandlerFunc(id, func(e events.Event) {
		if st, ok := e.Data["status"].(Status); ok {
			fn(st)
		}
	}))
}

// Adopt hands an already running child to the supervisor. It must be
// called before Start.
func (s *Supervisor) Adopt(child *sidecar.Child) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started.Load() || s.stopped {
		return ErrAlreadyStarted
	}
	if s.child != nil {
		return errors.New("supervisor already owns a child")
	}
	s.attach(child)
	return nil
}

// Start runs the supervision loop in the background. If no child was
// adopted the loop spawns one first.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group = &errgroup.Group{}

	s.group.Go(func() error {
		s.loop(ctx)
		return nil
	})

	if s.opts.Health != nil && s.opts.HealthInterval > 0 {
		s.group.Go(func() error {
			s.pollHealth(ctx)
			return nil
		})
	}

	if s.opts.WatchPath != "" {
		w, err := newBinaryWatcher(s.opts.WatchPath, s.opts.WatchDebounce, func() {
			if err := s.Restart(ctx, "binary replaced"); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Error("supervisor", err, map[string]interface{}{"message": "restart after binary change failed"})
			}
		})
		if err != nil {
			s.log.Warning("supervisor", "binary watch disabled", map[string]interface{}{
				"path":  s.opts.WatchPath,
				"error": err.Error(),
			})
		} else {
			s.group.Go(func() error {
				w.run(ctx, s.log)
				return nil
			})
		}
	}

	return nil
}

// Restart stops the current backend and spawns a new one right away.
// Manual restarts also clear the crash history and backoff.
func (s *Supervisor) Restart(ctx context.Context, reason string) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	cmd := command{reason: reason, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the backend (graceful, then kill after StopGrace) and
// ends supervision. It is safe to call more than once.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.stopped {
		s.lifeMu.Unlock()
		return s.waitDone(ctx)
	}
	s.stopped = true

	if !s.started.Load() {
		defer s.lifeMu.Unlock()
		if s.child != nil {
			s.stopChild()
		}
		s.update(func(st *Status) {
			st.State = StateStopped
			st.PID = 0
		})
		close(s.done)
		s.shutdownOwnedBuses()
		return nil
	}
	s.lifeMu.Unlock()

	s.cancel()
	if err := s.waitDone(ctx); err != nil {
		return err
	}
	_ = s.group.Wait()
	s.shutdownOwnedBuses()
	return nil
}

func (s *Supervisor) shutdownOwnedBuses() {
	for _, b := range s.owned {
		b.Shutdown()
	}
}

// Done is closed once supervision has ended and the backend is gone.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) waitDone(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for backend to stop: %w", ctx.Err())
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)

	if s.child == nil {
		_ = s.respawn(ctx)
	}

	for {
		var eventsC <-chan sidecar.Event
		if s.child != nil {
			eventsC = s.child.Events
		}
		var retryC <-chan time.Time
		if s.retry != nil {
			retryC = s.retry.C
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return

		case ev, ok := <-eventsC:
			if !ok {
				s.child = nil
				continue
			}
			s.handleEvent(ev)

		case <-retryC:
			s.retry = nil
			_ = s.respawn(ctx)

		case cmd := <-s.cmds:
			cmd.reply <- s.restartNow(ctx, cmd.reason)

		case res := <-s.healthC:
			s.handleHealth(res)
		}
	}
}

func (s *Supervisor) shutdown() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.child != nil {
		s.stopChild()
	}
	s.update(func(st *Status) {
		st.State = StateStopped
		st.PID = 0
		st.Health = health.Unknown
	})
	s.log.Info("supervisor", "supervision ended", nil)
}

func (s *Supervisor) handleEvent(ev sidecar.Event) {
	switch ev.Kind {
	case sidecar.EventStdout:
		s.forward(logger.StreamStdout, ev.Line)
	case sidecar.EventStderr:
		s.forward(logger.StreamStderr, ev.Line)
	case sidecar.EventError:
		s.log.Warning("supervisor", "backend i/o error", map[string]interface{}{"error": ev.Err.Error()})
	case sidecar.EventTerminated:
		s.onExit(ev.Exit)
	}
}

func (s *Supervisor) forward(stream, line string) {
	if s.opts.Sink != nil {
		s.opts.Sink.Line(stream, line)
	}
	s.output.Publish(events.Event{
		Type: EventOutput,
		Data: map[string]interface{}{"stream": stream, "line": line},
	})
}

func (s *Supervisor) onExit(exit *sidecar.ExitStatus) {
	child := s.child
	s.child = nil
	s.failures = 0

	uptime := time.Since(child.StartedAt())
	reason := "backend exited"
	if exit != nil {
		reason = fmt.Sprintf("backend exited: %s", exit)
	}

	s.log.Warning("supervisor", reason, map[string]interface{}{
		"pid":    child.PID,
		"uptime": uptime.String(),
	})
	s.update(func(st *Status) {
		st.State = StateCrashed
		st.PID = 0
		st.LastExit = exit
		st.Health = health.Unknown
		st.HealthDetail = ""
	})

	if s.opts.StableAfter > 0 && uptime >= s.opts.StableAfter {
		s.backoff.Reset()
		s.restartsAt = nil
	}
	s.scheduleRestart(reason)
}

func (s *Supervisor) scheduleRestart(reason string) {
	if !s.opts.RestartEnabled {
		s.giveUp(reason)
		return
	}

	now := time.Now()
	if s.opts.RestartWindow > 0 {
		cutoff := now.Add(-s.opts.RestartWindow)
		kept := s.restartsAt[:0]
		for _, t := range s.restartsAt {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		s.restartsAt = kept
	}
	if s.opts.MaxRestarts > 0 && len(s.restartsAt) >= s.opts.MaxRestarts {
		s.giveUp(fmt.Sprintf("%s; restart limit reached (%d within %s)", reason, s.opts.MaxRestarts, s.opts.RestartWindow))
		return
	}

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		s.giveUp(reason)
		return
	}
	s.restartsAt = append(s.restartsAt, now)

	s.log.Info("supervisor", "restart scheduled", map[string]interface{}{
		"delay":  delay.String(),
		"reason": reason,
	})
	s.update(func(st *Status) {
		st.State = StateRestarting
		st.LastError = reason
	})
	s.retry = time.NewTimer(delay)
}

func (s *Supervisor) giveUp(reason string) {
	s.log.Error("supervisor", errors.New(reason), map[string]interface{}{"message": "backend will not be restarted"})
	s.update(func(st *Status) {
		st.State = StateStopped
		st.LastError = reason
	})
}

func (s *Supervisor) respawn(ctx context.Context) error {
	s.update(func(st *Status) { st.State = StateStarting })

	child, err := s.spawn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.log.Error("supervisor", err, map[string]interface{}{"message": "backend spawn failed"})
		s.update(func(st *Status) { st.State = StateCrashed })
		s.scheduleRestart(fmt.Sprintf("spawn failed: %v", err))
		return err
	}

	s.attach(child)
	return nil
}

func (s *Supervisor) attach(child *sidecar.Child) {
	s.child = child
	s.spawns++
	restarts := s.spawns - 1

	s.log.Info("supervisor", "backend running", map[string]interface{}{
		"pid":      child.PID,
		"restarts": restarts,
	})
	s.update(func(st *Status) {
		st.State = StateRunning
		st.PID = child.PID
		st.StartedAt = child.StartedAt()
		st.Restarts = restarts
		st.Health = health.Unknown
		st.HealthDetail = ""
	})
}

func (s *Supervisor) restartNow(ctx context.Context, reason string) error {
	s.log.Info("supervisor", "restart requested", map[string]interface{}{"reason": reason})

	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.child != nil {
		s.stopChild()
	}
	s.backoff.Reset()
	s.restartsAt = nil
	s.failures = 0

	s.update(func(st *Status) {
		st.State = StateRestarting
		st.LastError = ""
	})
	return s.respawn(ctx)
}

// stopChild stops the current child and flushes its remaining output.
func (s *Supervisor) stopChild() {
	child := s.child
	s.child = nil

	if err := child.Stop(s.opts.StopGrace); err != nil {
		s.log.Error("supervisor", err, map[string]interface{}{
			"message": "backend did not stop",
			"pid":     child.PID,
		})
		return
	}

	var exit *sidecar.ExitStatus
	for ev := range child.Events {
		switch ev.Kind {
		case sidecar.EventStdout:
			s.forward(logger.StreamStdout, ev.Line)
		case sidecar.EventStderr:
			s.forward(logger.StreamStderr, ev.Line)
		case sidecar.EventTerminated:
			exit = ev.Exit
		}
	}

	s.log.Info("supervisor", "backend stopped", map[string]interface{}{"pid": child.PID})
	s.update(func(st *Status) {
		st.PID = 0
		st.LastExit = exit
	})
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	snapshot := s.status
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Type: EventState,
		Data: map[string]interface{}{"status": snapshot},
	})
}
