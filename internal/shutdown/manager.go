// Package shutdown runs registered components' shutdown in reverse order,
// once, with a timeout per component.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"locus-desktop/internal/logger"
)

// DefaultTimeout bounds each component's shutdown.
const DefaultTimeout = 10 * time.Second

type Shutdownable interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a function to Shutdownable.
type Func func(ctx context.Context) error

func (f Func) Shutdown(ctx context.Context) error { return f(ctx) }

type entry struct {
	name      string
	component Shutdownable
}

type Manager struct {
	components []entry
	logger     logger.Logger
	timeout    time.Duration
	mu         sync.Mutex
	once       sync.Once
	done       chan struct{}
	err        error
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewManager(log logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:  log,
		timeout: timeout,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a component. Components shut down in reverse registration
// order.
func (m *Manager) Register(name string, component Shutdownable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, entry{name: name, component: component})
}

// Listen calls onSignal on the first SIGINT or SIGTERM. The returned
// function stops listening.
func (m *Manager) Listen(onSignal func(os.Signal)) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	quit := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case sig := <-sigChan:
			m.logger.Info("ShutdownManager", "shutdown signal received", map[string]interface{}{
				"signal": sig.String(),
			})
			if onSignal != nil {
				onSignal(sig)
			}
		case <-quit:
		case <-m.done:
		}
	}()

	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(quit)
		})
	}
}

// Shutdown runs the sequence the first time it is called. Later calls wait
// for it and return the same error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.run(ctx)
		close(m.done)
	})

	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	components := append([]entry(nil), m.components...)
	m.mu.Unlock()

	m.logger.Info("ShutdownManager", "shutdown sequence initiated", map[string]interface{}{
		"components": len(components),
	})

	m.cancel()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		start := time.Now()

		if err := m.shutdownOne(ctx, c); err != nil {
			m.logger.Error("ShutdownManager", err, map[string]interface{}{
				"message":   "component shutdown failed",
				"component": c.name,
			})
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}

		m.logger.Debug("ShutdownManager", "component stopped", map[string]interface{}{
			"component": c.name,
			"duration":  time.Since(start).String(),
		})
	}

	m.logger.Info("ShutdownManager", "shutdown sequence completed", nil)
	return errors.Join(errs...)
}

func (m *Manager) shutdownOne(ctx context.Context, c entry) error {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.component.Shutdown(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return fmt.Errorf("shutdown timed out: %w", cctx.Err())
	}
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) Done() <-chan struct{} {
	return m.done
}
