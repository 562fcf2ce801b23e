package app

import (
	"context"
	"os"
	"time"

	"locus-desktop/internal/logger"
	"locus-desktop/internal/shutdown"
)

// Lifecycle orders application shutdown: components registered last stop
// first.
type Lifecycle struct {
	manager *shutdown.Manager
	timeout time.Duration
}

// NewLifecycle sizes the overall timeout so the supervisor can use its full
// stop grace.
func NewLifecycle(log logger.Logger, stopGrace time.Duration) *Lifecycle {
	return &Lifecycle{
		manager: shutdown.NewManager(log, shutdown.DefaultTimeout+stopGrace),
		timeout: 2*shutdown.DefaultTimeout + stopGrace,
	}
}

func (l *Lifecycle) Register(name string, fn func(ctx context.Context) error) {
	l.manager.Register(name, shutdown.Func(fn))
}

func (l *Lifecycle) Listen(onSignal func(os.Signal)) (stop func()) {
	return l.manager.Listen(onSignal)
}

func (l *Lifecycle) Shutdown(ctx context.Context) error {
	return l.manager.Shutdown(ctx)
}

// Context is cancelled as soon as shutdown begins.
func (l *Lifecycle) Context() context.Context {
	return l.manager.Context()
}

func (l *Lifecycle) Timeout() time.Duration { return l.timeout }
