package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"locus-desktop/internal/config"
	"locus-desktop/internal/events"
	"locus-desktop/internal/health"
	"locus-desktop/internal/launcher"
	"locus-desktop/internal/logger"
	"locus-desktop/internal/sidecar"
	"locus-desktop/internal/supervisor"
	"locus-desktop/internal/views"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"github.com/google/uuid"
)

const (
	AppName = "Locus"
	AppID   = "app.locus.desktop"

	// Environment handed to the backend.
	EnvInstanceID = "LOCUS_INSTANCE_ID"
	EnvParentPID  = "LOCUS_PARENT_PID"

	eventBufferSize  = 256
	outputBufferSize = 1024
	watchDebounce   = 500 * time.Millisecond
)

type Application struct {
	cfg        *config.Config
	log        logger.Logger
	instanceID string

	fyneApp  fyne.App
	window   fyne.Window
	view     *views.StatusView
	tray     *views.Tray
	headless *launcher.WaitRuntime

	factory    *sidecar.Factory
	sink       *logger.SidecarSink
	bus        *events.Bus
	output     *events.Bus
	supervisor *supervisor.Supervisor
	builder    *launcher.Builder
	lifecycle  *Lifecycle
	handlers   *Handlers
}

type Option func(*Application)

// WithFyneApp replaces the default fyne application, e.g. with the test
// driver.
func WithFyneApp(a fyne.App) Option {
	return func(app *Application) { app.fyneApp = a }
}

// NewApplication wires the launcher, supervisor and UI from cfg. Nothing is
// spawned until Run.
func NewApplication(cfg *config.Config, log logger.Logger, opts ...Option) (*Application, error) {
	a := &Application{
		cfg:        cfg,
		log:        log,
		instanceID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(a)
	}

	log.Info("Application", "starting application", map[string]interface{}{
		"instance": a.instanceID,
		"sidecar":  cfg.Sidecar.Name,
		"policy":   string(cfg.Policy.Mode),
		"headless": cfg.UI.Headless,
	})

	sink, err := logger.NewSidecarSink(log, cfg.Sidecar.Name, cfg.Log.Dir)
	if err != nil {
		return nil, err
	}
	a.sink = sink

	onPanic := func(id string, recovered interface{}) {
		log.Error("Application", fmt.Errorf("event handler %s panicked: %v", id, recovered), nil)
	}
	a.bus = events.NewBus(eventBufferSize)
	a.bus.OnPanic = onPanic
	a.output = events.NewBus(outputBufferSize)
	a.output.OnPanic = onPanic

	a.factory = a.newFactory()
	a.supervisor = supervisor.New(a.spawn, log, a.supervisorOptions())
	a.lifecycle = NewLifecycle(log, cfg.Sidecar.StopGrace)
	a.handlers = NewHandlers(a, log)

	var runtime launcher.Runtime
	if cfg.UI.Headless {
		a.headless = launcher.NewWaitRuntime()
		runtime = a.headless
	} else {
		a.setupGUI()
		runtime = launcher.RuntimeFunc(a.runGUI)
	}
	a.subscribe()

	a.builder = launcher.New(runtime,
		launcher.WithLogger(log),
		launcher.WithPolicy(launcher.Policy{
			Mode:           cfg.Policy.Mode,
			Attempts:       cfg.Policy.SpawnAttempts,
			InitialBackoff: cfg.Policy.InitialBackoff,
			MaxBackoff:     cfg.Policy.MaxBackoff,
		}),
	)
	if err := a.builder.Setup(launcher.SidecarHook(a.factory, a.adopt)); err != nil {
		return nil, err
	}

	a.lifecycle.Register("sidecar-log", func(context.Context) error { return a.sink.Close() })
	a.lifecycle.Register("events", func(context.Context) error {
		a.bus.Shutdown()
		a.output.Shutdown()
		return nil
	})
	a.lifecycle.Register("supervisor", a.supervisor.Stop)
	if a.view != nil {
		a.lifecycle.Register("views", func(context.Context) error {
			a.view.Shutdown()
			return nil
		})
	}

	log.Info("Application", "initialization complete", nil)
	return a, nil
}

func (a *Application) newFactory() *sidecar.Factory {
	env := make(map[string]string, len(a.cfg.Sidecar.Env)+2)
	for k, v := range a.cfg.Sidecar.Env {
		env[k] = v
	}
	env[EnvInstanceID] = a.instanceID
	env[EnvParentPID] = strconv.Itoa(os.Getpid())

	return &sidecar.Factory{
		Name: a.cfg.Sidecar.Name,
		Resolve: sidecar.ResolveOptions{
			Override:   a.cfg.Sidecar.Path,
			SearchPath: a.cfg.Sidecar.SearchPath,
		},
		Args: a.cfg.Sidecar.Args,
		Env:  env,
		Dir:  a.cfg.Sidecar.Dir,
	}
}

func (a *Application) supervisorOptions() supervisor.Options {
	cfg := a.cfg
	opts := supervisor.Options{
		RestartEnabled: cfg.Restart.Enabled,
		MaxRestarts:    cfg.Restart.MaxRestarts,
		RestartWindow:  cfg.Restart.Window,
		StableAfter:    cfg.Restart.StableAfter,
		InitialBackoff: cfg.Restart.InitialBackoff,
		MaxBackoff:     cfg.Restart.MaxBackoff,
		StopGrace:      cfg.Sidecar.StopGrace,
		Bus:            a.bus,
		Output:         a.output,
		Sink:           a.sink,
	}

	if cfg.Health.URL != "" {
		opts.Health = health.NewClient(cfg.Health.URL, cfg.Health.Timeout)
		opts.HealthInterval = cfg.Health.Interval
		opts.UnhealthyThreshold = cfg.Health.UnhealthyThreshold
		opts.RestartOnUnhealthy = cfg.Health.RestartOnUnhealthy
	}

	if cfg.Sidecar.WatchBinary {
		path, err := a.factory.Path()
		if err != nil {
			a.log.Warning("Application", "binary watch disabled", map[string]interface{}{"error": err.Error()})
		} else {
			opts.WatchPath = path
			opts.WatchDebounce = watchDebounce
		}
	}
	return opts
}

func (a *Application) setupGUI() {
	if a.fyneApp == nil {
		a.fyneApp = fyneapp.NewWithID(AppID)
	}
	a.window = a.fyneApp.NewWindow(AppName)
	a.window.Resize(fyne.NewSize(a.cfg.UI.Width, a.cfg.UI.Height))
	a.window.CenterOnScreen()
	a.window.SetMaster()

	a.view = views.NewStatusView(a.window, a.cfg.Log.Tail)
	a.view.SetRestartHandler(a.handlers.HandleRestart)
	if a.cfg.Log.Dir != "" {
		a.view.SetOpenLogsHandler(a.handlers.HandleOpenLogs)
	}

	if tray, ok := views.NewTray(a.fyneApp, a.window, a.handlers.HandleRestart, a.Quit); ok {
		a.tray = tray
	} else {
		a.log.Debug("Application", "system tray not supported", nil)
	}

	a.window.SetCloseIntercept(func() {
		a.log.Info("Application", "shutdown requested", map[string]interface{}{"source": "window"})
		a.Quit()
	})
}

// subscribe connects supervisor events to the UI. The view only sees
// events, never supervisor internals.
func (a *Application) subscribe() {
	if a.view != nil {
		a.supervisor.OnState("status-view", a.view.Update)
		a.output.Subscribe(supervisor.EventOutput, events.HandlerFunc("status-view-output", func(e events.Event) {
			stream, _ := e.Data["stream"].(string)
			line, _ := e.Data["line"].(string)
			a.view.AppendOutput(stream, line)
		}))
	}
	if a.tray != nil {
		a.supervisor.OnState("tray", a.tray.Update)
	}
}

func (a *Application) spawn(ctx context.Context) (*sidecar.Child, error) {
	return a.factory.Start(ctx)
}

// adopt receives the child spawned by the setup hook and starts
// supervising it.
func (a *Application) adopt(_ context.Context, child *sidecar.Child) error {
	if err := a.supervisor.Adopt(child); err != nil {
		return err
	}
	return a.supervisor.Start(a.lifecycle.Context())
}

// Run blocks until the run loop exits, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	stop := a.lifecycle.Listen(func(os.Signal) { a.Quit() })
	defer stop()

	runErr := a.builder.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.lifecycle.Timeout())
	defer cancel()
	if err := a.lifecycle.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Application", err, map[string]interface{}{"message": "shutdown incomplete"})
	}

	return runErr
}

// Quit ends the run loop. Safe from any goroutine.
func (a *Application) Quit() {
	if a.headless != nil {
		a.headless.Quit()
		return
	}
	fyne.Do(a.fyneApp.Quit)
}

// runGUI is the fyne run loop as a launcher runtime.
func (a *Application) runGUI(ctx context.Context) error {
	if err := a.builder.SetupErr(); err != nil {
		a.view.Update(supervisor.Status{State: supervisor.StateStopped, LastError: err.Error()})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.Quit()
		case <-done:
		}
	}()

	a.window.Show()
	a.log.Info("Application", "GUI displayed", nil)
	a.fyneApp.Run()
	return nil
}

func (a *Application) Supervisor() *supervisor.Supervisor { return a.supervisor }

func (a *Application) InstanceID() string { return a.instanceID }

// State is the launcher state.
func (a *Application) State() launcher.State { return a.builder.State() }
