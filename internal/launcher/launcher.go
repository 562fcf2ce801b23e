// Package launcher is the application entry sequence: one setup hook that
// brings up the backend sidecar, then the GUI runtime's blocking run loop.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"locus-desktop/internal/config"
	"locus-desktop/internal/logger"
)

type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrSidecarConstruction = errors.New("failed to create sidecar command")
	ErrSidecarSpawn        = errors.New("failed to spawn sidecar")
	ErrRuntimeStartup      = errors.New("error while running application")

	ErrHookAlreadyRegistered = errors.New("setup hook already registered")
	ErrNoSetupHook           = errors.New("no setup hook registered")
	ErrAlreadyRun            = errors.New("launcher already run")
)

// Runtime is the GUI framework's run loop. Run blocks until the
// application exits.
type Runtime interface {
	Run(ctx context.Context) error
}

type RuntimeFunc func(ctx context.Context) error

func (f RuntimeFunc) Run(ctx context.Context) error { return f(ctx) }

// Context is what the setup hook gets from the launcher.
type Context struct {
	log     logger.Logger
	attempt int
}

func (c *Context) Logger() logger.Logger { return c.log }

// Attempt is 1 on the first run of the hook and increases on retries.
func (c *Context) Attempt() int { return c.attempt }

// SetupHook runs once, before the run loop.
type SetupHook func(ctx context.Context, app *Context) error

// Policy decides what a failing setup hook does.
//
//   - FailFast: the error is returned and the run loop never starts.
//   - Retry: spawn failures are retried with exponential backoff up to
//     Attempts times; construction failures are not retried.
//   - Degraded: the error is logged and the run loop starts anyway.
type Policy struct {
	Mode           config.FailMode
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Builder struct {
	runtime Runtime
	log     logger.Logger
	policy  Policy

	mu       sync.Mutex
	hook     SetupHook
	setupErr error

	state atomic.Int32
	ran   atomic.Bool
}

type Option func(*Builder)

func WithLogger(log logger.Logger) Option {
	return func(b *Builder) { b.log = log }
}

func WithPolicy(p Policy) Option {
	return func(b *Builder) { b.policy = p }
}

// New returns a builder with the fail-fast policy.
func New(runtime Runtime, opts ...Option) *Builder {
	b := &Builder{
		runtime: runtime,
		log:     logger.NewNop(),
		policy:  Policy{Mode: config.FailFast, Attempts: 1},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Setup registers the startup hook. Only one may be registered.
func (b *Builder) Setup(hook SetupHook) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hook != nil {
		return ErrHookAlreadyRegistered
	}
	if hook == nil {
		return errors.New("setup hook is nil")
	}
	b.hook = hook
	return nil
}

func (b *Builder) State() State {
	return State(b.state.Load())
}

// SetupErr is the hook error tolerated under the Degraded policy.
func (b *Builder) SetupErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setupErr
}

// Run executes the setup hook and then blocks in the runtime. It can be
// called once.
func (b *Builder) Run(ctx context.Context) error {
	if !b.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer b.state.Store(int32(StateTerminated))

	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()
	if hook == nil {
		return ErrNoSetupHook
	}

	if err := b.setup(ctx, hook); err != nil {
		if b.policy.Mode != config.Degraded {
			b.log.Error("launcher", err, map[string]interface{}{"message": "setup failed, not starting run loop"})
			return err
		}
		b.log.Error("launcher", err, map[string]interface{}{"message": "setup failed, continuing without backend"})
		b.mu.Lock()
		b.setupErr = err
		b.mu.Unlock()
	}

	b.state.Store(int32(StateRunning))
	b.log.Info("launcher", "entering run loop", nil)

	if err := b.runtime.Run(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntimeStartup, err)
	}

	b.log.Info("launcher", "run loop exited", nil)
	return nil
}

func (b *Builder) setup(ctx context.Context, hook SetupHook) error {
	appCtx := &Context{log: b.log}

	if b.policy.Mode != config.Retry || b.policy.Attempts <= 1 {
		appCtx.attempt = 1
		return hook(ctx, appCtx)
	}

	bo := backoff.NewExponentialBackOff()
	if b.policy.InitialBackoff > 0 {
		bo.InitialInterval = b.policy.InitialBackoff
	}
	if b.policy.MaxBackoff > 0 {
		bo.MaxInterval = b.policy.MaxBackoff
	}
	bo.MaxElapsedTime = 0

	op := func() error {
		appCtx.attempt++
		err := hook(ctx, appCtx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSidecarSpawn) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		b.log.Warning("launcher", "setup attempt failed, retrying", map[string]interface{}{
			"attempt": appCtx.attempt,
			"of":      b.policy.Attempts,
			"next":    next.String(),
			"error":   err.Error(),
		})
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(b.policy.Attempts-1)), ctx)
	return backoff.RetryNotify(op, policy, notify)
}

// ExitCode maps a Run error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrSidecarConstruction):
		return 3
	case errors.Is(err, ErrSidecarSpawn):
		return 4
	case errors.Is(err, ErrRuntimeStartup):
		return 5
	}
	return 1
}
