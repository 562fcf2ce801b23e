package launcher

import (
	"context"
	"sync"
)

// WaitRuntime is the run loop used without a GUI: it blocks until the
// context is cancelled or Quit is called.
type WaitRuntime struct {
	quit chan struct{}
	once sync.Once
}

func NewWaitRuntime() *WaitRuntime {
	return &WaitRuntime{quit: make(chan struct{})}
}

func (w *WaitRuntime) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.quit:
	}
	return nil
}

func (w *WaitRuntime) Quit() {
	w.once.Do(func() { close(w.quit) })
}
