package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locus-desktop/internal/events"
	"locus-desktop/internal/health"
	"locus-desktop/internal/sidecar"
)

const waitFor = 10 * time.Second

func fastOptions() Options {
	return Options{
		RestartEnabled: true,
		MaxRestarts:    5,
		RestartWindow:  time.Minute,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		StopGrace:      2 * time.Second,
	}
}

func stopped(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func waitRunning(t *testing.T, s *Supervisor, minRestarts int) Status {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.Status()
		return st.State == StateRunning && st.Restarts >= minRestarts
	}, waitFor, 10*time.Millisecond)
	return s.Status()
}

func TestAdoptedChildIsSupervised(t *testing.T) {
	child, err := sidecar.Spawn(context.Background(), helperCommand("serve"))
	require.NoError(t, err)

	var spawns atomic.Int32
	sink := &lineRecorder{}
	opts := fastOptions()
	opts.Sink = sink

	s := New(helperSpawner("serve", &spawns), nil, opts)
	require.NoError(t, s.Adopt(child))
	require.NoError(t, s.Start(context.Background()))

	st := s.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, child.PID, st.PID)
	assert.Zero(t, st.Restarts)

	require.Eventually(t, func() bool { return sink.has("stdout:ready") }, waitFor, 10*time.Millisecond)

	stopped(t, s)
	assert.False(t, child.Running())
	assert.Equal(t, StateStopped, s.Status().State)
	assert.Zero(t, spawns.Load(), "adopted child must not be spawned again")
}

func TestAdoptAfterStartFails(t *testing.T) {
	var spawns atomic.Int32
	s := New(helperSpawner("serve", &spawns), nil, fastOptions())
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	child, err := sidecar.Spawn(context.Background(), helperCommand("serve"))
	require.NoError(t, err)
	defer child.Kill()

	assert.ErrorIs(t, s.Adopt(child), ErrAlreadyStarted)
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestRestartsAfterOutOfBandKill(t *testing.T) {
	var spawns atomic.Int32
	s := New(helperSpawner("serve", &spawns), nil, fastOptions())

	states := &stateRecorder{}
	s.OnState("test", states.record)

	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	first := waitRunning(t, s, 0)

	proc, err := os.FindProcess(first.PID)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	second := waitRunning(t, s, 1)
	assert.NotEqual(t, first.PID, second.PID)
	assert.EqualValues(t, 2, spawns.Load())
	require.NotNil(t, second.LastExit)
	assert.False(t, second.LastExit.Success())

	require.Eventually(t, func() bool {
		seq := states.snapshot()
		return containsInOrder(seq, StateRunning, StateCrashed, StateRestarting, StateStarting, StateRunning)
	}, waitFor, 10*time.Millisecond)
}

func containsInOrder(seq []State, want ...State) bool {
	i := 0
	for _, s := range seq {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestRestartLimit(t *testing.T) {
	var spawns atomic.Int32
	opts := fastOptions()
	opts.MaxRestarts = 2

	s := New(helperSpawner("crash", &spawns), nil, opts)
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.State == StateStopped && st.LastError != ""
	}, waitFor, 10*time.Millisecond)

	assert.Contains(t, s.Status().LastError, "restart limit reached")
	assert.EqualValues(t, 3, spawns.Load())
}

func TestRestartDisabled(t *testing.T) {
	var spawns atomic.Int32
	opts := fastOptions()
	opts.RestartEnabled = false
	sink := &lineRecorder{}
	opts.Sink = sink

	s := New(helperSpawner("crash", &spawns), nil, opts)
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	require.Eventually(t, func() bool { return s.Status().State == StateStopped }, waitFor, 10*time.Millisecond)
	st := s.Status()
	require.NotNil(t, st.LastExit)
	require.NotNil(t, st.LastExit.Code)
	assert.Equal(t, 1, *st.LastExit.Code)
	assert.Contains(t, st.LastError, "exit code 1")
	assert.True(t, sink.has("stderr:fatal: cannot open locus.db"))
	assert.EqualValues(t, 1, spawns.Load())
}

func TestSpawnFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	spawn := func(ctx context.Context) (*sidecar.Child, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("resource temporarily unavailable")
		}
		return sidecar.Spawn(ctx, helperCommand("serve"))
	}

	s := New(spawn, nil, fastOptions())
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	waitRunning(t, s, 0)
	assert.EqualValues(t, 3, calls.Load())
}

func TestManualRestart(t *testing.T) {
	var spawns atomic.Int32
	s := New(helperSpawner("serve", &spawns), nil, fastOptions())
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	first := waitRunning(t, s, 0)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Restart(ctx, "manual"))

	second := s.Status()
	assert.Equal(t, StateRunning, second.State)
	assert.NotEqual(t, first.PID, second.PID)
	assert.Equal(t, 1, second.Restarts)
	assert.Empty(t, second.LastError)
}

func TestRestartBeforeStartAndAfterStop(t *testing.T) {
	var spawns atomic.Int32
	s := New(helperSpawner("serve", &spawns), nil, fastOptions())
	assert.Error(t, s.Restart(context.Background(), "manual"))

	require.NoError(t, s.Start(context.Background()))
	waitRunning(t, s, 0)
	stopped(t, s)
	stopped(t, s)

	assert.ErrorIs(t, s.Restart(context.Background(), "manual"), ErrStopped)
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
}

func TestStopWithoutStartStopsAdoptedChild(t *testing.T) {
	child, err := sidecar.Spawn(context.Background(), helperCommand("serve"))
	require.NoError(t, err)

	var spawns atomic.Int32
	s := New(helperSpawner("serve", &spawns), nil, fastOptions())
	require.NoError(t, s.Adopt(child))

	stopped(t, s)
	assert.False(t, child.Running())
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestContextCancelStopsBackend(t *testing.T) {
	var spawns atomic.Int32
	s := New(helperSpawner("serve", &spawns), nil, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	waitRunning(t, s, 0)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop after context cancel")
	}
	assert.Equal(t, StateStopped, s.Status().State)
	assert.Zero(t, s.Status().PID)
	stopped(t, s)
}

type fakeChecker struct {
	result atomic.Value
	calls  atomic.Int32
}

func (f *fakeChecker) Check(context.Context) health.Result {
	f.calls.Add(1)
	return f.result.Load().(health.Result)
}

func TestUnhealthyBackendIsRestarted(t *testing.T) {
	checker := &fakeChecker{}
	checker.result.Store(health.Result{State: health.Unhealthy, Detail: "db error"})

	var spawns atomic.Int32
	opts := fastOptions()
	opts.Health = checker
	opts.HealthInterval = 20 * time.Millisecond
	opts.UnhealthyThreshold = 2
	opts.RestartOnUnhealthy = true
	opts.MaxRestarts = 0

	s := New(helperSpawner("serve", &spawns), nil, opts)
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	waitRunning(t, s, 1)
	assert.GreaterOrEqual(t, checker.calls.Load(), int32(2))

	checker.result.Store(health.Result{State: health.Healthy, Detail: "ok"})
	require.Eventually(t, func() bool {
		return s.Status().Health == health.Healthy
	}, waitFor, 10*time.Millisecond)
}

func TestHealthReportedWithoutRestart(t *testing.T) {
	checker := &fakeChecker{}
	checker.result.Store(health.Result{State: health.Unhealthy, Detail: "db error"})

	var spawns atomic.Int32
	opts := fastOptions()
	opts.Health = checker
	opts.HealthInterval = 10 * time.Millisecond

	s := New(helperSpawner("serve", &spawns), nil, opts)
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	require.Eventually(t, func() bool {
		return s.Status().Health == health.Unhealthy
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "db error", s.Status().HealthDetail)
	assert.EqualValues(t, 1, spawns.Load())
}

func TestBinaryReplacementRestarts(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "locus-backend")
	require.NoError(t, os.WriteFile(bin, []byte("v1"), 0o755))

	var spawns atomic.Int32
	opts := fastOptions()
	opts.WatchPath = bin
	opts.WatchDebounce = 20 * time.Millisecond

	s := New(helperSpawner("serve", &spawns), nil, opts)
	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)
	waitRunning(t, s, 0)

	require.NoError(t, os.WriteFile(bin, []byte("v2"), 0o755))
	waitRunning(t, s, 1)
}

func TestStateSurvivesOutputFlood(t *testing.T) {
	var spawns atomic.Int32
	opts := fastOptions()
	opts.Bus = events.NewBus(256)
	defer opts.Bus.Shutdown()

	s := New(helperSpawner("flood", &spawns), nil, opts)

	var mu sync.Mutex
	var seen Status
	states := &stateRecorder{}
	s.OnState("view", func(st Status) {
		states.record(st)
		mu.Lock()
		seen = st
		mu.Unlock()
	})
	// a slow output consumer keeps the output buffer full
	s.OutputBus().Subscribe(EventOutput, events.HandlerFunc("slow", func(events.Event) {
		time.Sleep(time.Millisecond)
	}))

	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	first := waitRunning(t, s, 0)
	require.Eventually(t, func() bool { return s.OutputBus().Dropped() > 0 }, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Restart(context.Background(), "user request"))
	current := s.Status()
	require.NotEqual(t, first.PID, current.PID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen.State == StateRunning && seen.PID == current.PID && seen.Restarts == 1
	}, waitFor, 10*time.Millisecond)
	assert.True(t, containsInOrder(states.snapshot(), StateRunning, StateRestarting, StateStarting, StateRunning))
	assert.Zero(t, opts.Bus.Dropped())
}

func TestStableRunResetsBackoff(t *testing.T) {
	var spawns atomic.Int32
	spawner := func(ctx context.Context) (*sidecar.Child, error) {
		mode := "serve"
		if spawns.Add(1) <= 2 {
			mode = "crash"
		}
		return sidecar.Spawn(ctx, helperCommand(mode))
	}

	opts := fastOptions()
	opts.MaxRestarts = 2
	opts.StableAfter = 300 * time.Millisecond
	opts.InitialBackoff = 20 * time.Millisecond
	opts.MaxBackoff = 10 * time.Second

	log := &delayRecorder{}
	s := New(spawner, log, opts)
	s.backoff.RandomizationFactor = 0
	s.backoff.Multiplier = 10
	s.backoff.Reset()

	states := &stateRecorder{}
	s.OnState("test", states.record)

	require.NoError(t, s.Start(context.Background()))
	defer stopped(t, s)

	// two crashes use up the restart budget
	st := waitRunning(t, s, 2)
	assert.Equal(t, []string{"20ms", "200ms"}, log.snapshot())

	time.Sleep(opts.StableAfter + 100*time.Millisecond)
	proc, err := os.FindProcess(st.PID)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	waitRunning(t, s, 3)
	assert.Equal(t, []string{"20ms", "200ms", "20ms"}, log.snapshot())
	assert.NotContains(t, states.snapshot(), StateStopped)
}

func TestHealthResultForPreviousChildIsIgnored(t *testing.T) {
	child, err := sidecar.Spawn(context.Background(), helperCommand("serve"))
	require.NoError(t, err)
	defer child.Kill()

	var spawns atomic.Int32
	opts := fastOptions()
	opts.RestartOnUnhealthy = true
	opts.UnhealthyThreshold = 1

	s := New(helperSpawner("serve", &spawns), nil, opts)
	require.NoError(t, s.Adopt(child))
	defer stopped(t, s)

	s.handleHealth(healthReport{
		pid:    child.PID + 1,
		result: health.Result{State: health.Unhealthy, Detail: "connection refused"},
	})
	assert.Equal(t, health.Unknown, s.Status().Health)
	assert.Equal(t, StateRunning, s.Status().State)
	assert.True(t, child.Running())
	assert.Zero(t, s.failures)

	s.handleHealth(healthReport{
		pid:    child.PID,
		result: health.Result{State: health.Healthy, Detail: "ok"},
	})
	assert.Equal(t, health.Healthy, s.Status().Health)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "crashed", StateCrashed.String())
	assert.Equal(t, "restarting", StateRestarting.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
