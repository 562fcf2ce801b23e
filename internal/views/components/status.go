package components

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// StatusBar shows a one-line summary of the backend at the bottom of the window
type StatusBar struct {
	container   *fyne.Container
	statusLabel *widget.Label
	healthLabel *widget.Label
}

// NewStatusBar creates a new status bar component
func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.createComponents()
	sb.buildLayout()
	return sb
}

func (sb *StatusBar) createComponents() {
	sb.statusLabel = widget.NewLabel("Backend starting")
	sb.healthLabel = widget.NewLabel("Health: --")
}

func (sb *StatusBar) buildLayout() {
	sb.container = container.NewBorder(
		nil, nil,
		sb.statusLabel,
		sb.healthLabel,
	)
}

func (sb *StatusBar) GetContainer() *fyne.Container {
	return sb.container
}

// SetStatus must be called on the fyne thread.
func (sb *StatusBar) SetStatus(status string) {
	sb.statusLabel.SetText(status)
}

func (sb *StatusBar) GetStatus() string {
	return sb.statusLabel.Text
}

// SetHealth must be called on the fyne thread.
func (sb *StatusBar) SetHealth(health string) {
	sb.healthLabel.SetText("Health: " + health)
}
