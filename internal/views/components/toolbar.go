package components

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// Toolbar holds the backend actions
type Toolbar struct {
	container     *fyne.Container
	restartButton *widget.Button
	logsButton    *widget.Button

	restartHandler func()
	logsHandler    func()
}

// NewToolbar creates a new toolbar component
func NewToolbar() *Toolbar {
	toolbar := &Toolbar{}
	toolbar.createComponents()
	toolbar.buildLayout()
	return toolbar
}

func (t *Toolbar) createComponents() {
	t.restartButton = widget.NewButtonWithIcon("Restart backend", theme.ViewRefreshIcon(), func() {
		if t.restartHandler != nil {
			t.restartHandler()
		}
	})
	t.restartButton.Importance = widget.HighImportance

	t.logsButton = widget.NewButtonWithIcon("Open log folder", theme.FolderOpenIcon(), func() {
		if t.logsHandler != nil {
			t.logsHandler()
		}
	})
	t.logsButton.Disable()
}

func (t *Toolbar) buildLayout() {
	t.container = container.NewHBox(
		t.restartButton,
		widget.NewSeparator(),
		t.logsButton,
	)
}

func (t *Toolbar) GetContainer() *fyne.Container {
	return t.container
}

func (t *Toolbar) SetRestartHandler(handler func()) {
	t.restartHandler = handler
}

// SetLogsHandler enables the log button; nil disables it.
func (t *Toolbar) SetLogsHandler(handler func()) {
	t.logsHandler = handler
	if handler == nil {
		t.logsButton.Disable()
	} else {
		t.logsButton.Enable()
	}
}

// SetRestartEnabled must be called on the fyne thread.
func (t *Toolbar) SetRestartEnabled(enabled bool) {
	if enabled {
		t.restartButton.Enable()
	} else {
		t.restartButton.Disable()
	}
}
