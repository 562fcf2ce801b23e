package app

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"locus-desktop/internal/logger"
	"locus-desktop/internal/supervisor"
)

// Handlers are the UI actions. They run on the fyne thread and must not
// block it.
type Handlers struct {
	app *Application
	log logger.Logger
}

func NewHandlers(app *Application, log logger.Logger) *Handlers {
	return &Handlers{app: app, log: log}
}

// HandleRestart restarts the backend. After a degraded start nothing is
// supervised yet, so it starts supervision instead.
func (h *Handlers) HandleRestart() {
	ctx := h.app.lifecycle.Context()
	sup := h.app.supervisor

	h.log.Info("Handlers", "backend restart requested", nil)

	go func() {
		err := sup.Restart(ctx, "user request")
		if errors.Is(err, supervisor.ErrNotStarted) {
			err = sup.Start(ctx)
			if errors.Is(err, supervisor.ErrAlreadyStarted) {
				err = sup.Restart(ctx, "user request")
			}
		}
		if err == nil || errors.Is(err, supervisor.ErrStopped) {
			return
		}

		h.log.Error("Handlers", err, map[string]interface{}{"message": "backend restart failed"})
		if h.app.view != nil {
			h.app.view.ShowError(fmt.Errorf("restart backend: %w", err))
		}
	}()
}

// HandleOpenLogs opens the log folder in the platform file browser.
func (h *Handlers) HandleOpenLogs() {
	u := LogFolderURL(h.app.cfg.Log.Dir)
	if u == nil {
		return
	}
	if err := h.app.fyneApp.OpenURL(u); err != nil {
		h.log.Error("Handlers", err, map[string]interface{}{
			"message": "open log folder failed",
			"dir":     h.app.cfg.Log.Dir,
		})
		if h.app.view != nil {
			h.app.view.ShowError(err)
		}
	}
}

// LogFolderURL is the file:// URL of dir, or nil when dir is empty.
func LogFolderURL(dir string) *url.URL {
	if dir == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	path := filepath.ToSlash(abs)
	if len(path) > 0 && path[0] != '/' {
		// windows drive letter
		path = "/" + path
	}
	return &url.URL{Scheme: "file", Path: path}
}
