package views

import (
	"strconv"
	"sync/atomic"
	"time"

	"locus-desktop/internal/supervisor"
	"locus-desktop/internal/views/components"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// StatusView is the main window content: backend details, recent output
// and the backend actions. Its exported update methods may be called from
// any goroutine.
type StatusView struct {
	window        fyne.Window
	mainContainer *fyne.Container
	toolbar       *components.Toolbar
	statusBar     *components.StatusBar
	logTail       *components.LogTail

	stateLabel    *widget.Label
	pidLabel      *widget.Label
	restartsLabel *widget.Label
	healthLabel   *widget.Label
	exitLabel     *widget.Label
	errorLabel    *widget.Label

	restartHandler func()
	closed         atomic.Bool
}

// NewStatusView builds the view and sets it as the window content.
func NewStatusView(window fyne.Window, tail int) *StatusView {
	view := &StatusView{window: window}

	view.initializeComponents(tail)
	view.buildLayout()
	view.setupEventHandlers()

	return view
}

func (sv *StatusView) initializeComponents(tail int) {
	sv.toolbar = components.NewToolbar()
	sv.statusBar = components.NewStatusBar()
	sv.logTail = components.NewLogTail(tail)

	sv.stateLabel = widget.NewLabel("starting")
	sv.stateLabel.TextStyle = fyne.TextStyle{Bold: true}
	sv.pidLabel = widget.NewLabel("-")
	sv.restartsLabel = widget.NewLabel("0")
	sv.healthLabel = widget.NewLabel("unknown")
	sv.exitLabel = widget.NewLabel("-")
	sv.errorLabel = widget.NewLabel("")
	sv.errorLabel.Wrapping = fyne.TextWrapWord
}

func (sv *StatusView) buildLayout() {
	details := widget.NewForm(
		widget.NewFormItem("State", sv.stateLabel),
		widget.NewFormItem("PID", sv.pidLabel),
		widget.NewFormItem("Restarts", sv.restartsLabel),
		widget.NewFormItem("Health", sv.healthLabel),
		widget.NewFormItem("Last exit", sv.exitLabel),
		widget.NewFormItem("Last error", sv.errorLabel),
	)

	top := container.NewVBox(
		sv.toolbar.GetContainer(),
		widget.NewCard("Backend", "", details),
	)

	sv.mainContainer = container.NewBorder(
		top,
		sv.statusBar.GetContainer(),
		nil,
		nil,
		widget.NewCard("Output", "", sv.logTail.GetWidget()),
	)

	sv.window.SetContent(sv.mainContainer)
}

func (sv *StatusView) setupEventHandlers() {
	sv.toolbar.SetRestartHandler(func() {
		if sv.restartHandler != nil {
			sv.restartHandler()
		}
	})
}

// SetRestartHandler is invoked from the fyne thread; it must not block.
func (sv *StatusView) SetRestartHandler(handler func()) {
	sv.restartHandler = handler
}

// SetOpenLogsHandler enables the log folder button.
func (sv *StatusView) SetOpenLogsHandler(handler func()) {
	sv.toolbar.SetLogsHandler(handler)
}

// Update renders a supervisor status snapshot.
func (sv *StatusView) Update(st supervisor.Status) {
	if sv.closed.Load() {
		return
	}
	fyne.Do(func() {
		if sv.closed.Load() {
			return
		}
		sv.render(st, time.Now())
	})
}

func (sv *StatusView) render(st supervisor.Status, now time.Time) {
	sv.stateLabel.SetText(st.State.String())
	sv.pidLabel.SetText(FormatPID(st.PID))
	sv.restartsLabel.SetText(strconv.Itoa(st.Restarts))
	sv.healthLabel.SetText(FormatHealth(st))
	sv.exitLabel.SetText(FormatExit(st))
	sv.errorLabel.SetText(st.LastError)

	sv.statusBar.SetStatus(Summary(st, now))
	sv.statusBar.SetHealth(FormatHealth(st))
	sv.toolbar.SetRestartEnabled(st.State != supervisor.StateRestarting)
}

// AppendOutput adds one backend output line to the tail.
func (sv *StatusView) AppendOutput(stream, line string) {
	if sv.closed.Load() {
		return
	}
	fyne.Do(func() {
		if sv.closed.Load() {
			return
		}
		sv.logTail.Append(FormatLine(stream, line))
	})
}

// ShowError displays an error dialog
func (sv *StatusView) ShowError(err error) {
	fyne.Do(func() {
		dialog.ShowError(err, sv.window)
	})
}

func (sv *StatusView) GetContainer() *fyne.Container {
	return sv.mainContainer
}

// Shutdown detaches the view: later Update and AppendOutput calls are
// ignored and the actions are disabled.
func (sv *StatusView) Shutdown() {
	sv.closed.Store(true)
	fyne.Do(func() {
		sv.restartHandler = nil
		sv.toolbar.SetRestartEnabled(false)
		sv.toolbar.SetLogsHandler(nil)
	})
}
