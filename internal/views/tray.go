package views

import (
	"time"

	"locus-desktop/internal/supervisor"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
)

// Tray is the system tray menu. It is only available on desktop drivers.
type Tray struct {
	deskApp desktop.App
	menu    *fyne.Menu
	status  *fyne.MenuItem
	restart *fyne.MenuItem
}

// NewTray installs the tray menu. ok is false when the driver has no tray.
func NewTray(a fyne.App, window fyne.Window, onRestart, onQuit func()) (*Tray, bool) {
	desk, ok := a.(desktop.App)
	if !ok {
		return nil, false
	}

	t := &Tray{deskApp: desk}
	t.status = fyne.NewMenuItem("Backend starting", nil)
	t.status.Disabled = true

	show := fyne.NewMenuItem("Show", func() {
		window.Show()
		window.RequestFocus()
	})
	t.restart = fyne.NewMenuItem("Restart backend", func() {
		if onRestart != nil {
			onRestart()
		}
	})
	quit := fyne.NewMenuItem("Quit", func() {
		if onQuit != nil {
			onQuit()
		}
	})
	quit.IsQuit = true

	t.menu = fyne.NewMenu("Locus",
		t.status,
		fyne.NewMenuItemSeparator(),
		show,
		t.restart,
		fyne.NewMenuItemSeparator(),
		quit,
	)
	desk.SetSystemTrayMenu(t.menu)
	desk.SetSystemTrayIcon(theme.ComputerIcon())
	return t, true
}

// Update mirrors the status in the menu and the tray icon.
func (t *Tray) Update(st supervisor.Status) {
	fyne.Do(func() {
		t.status.Label = Summary(st, time.Now())
		t.restart.Disabled = st.State == supervisor.StateRestarting
		t.menu.Refresh()

		if st.State == supervisor.StateRunning {
			t.deskApp.SetSystemTrayIcon(theme.ComputerIcon())
		} else {
			t.deskApp.SetSystemTrayIcon(theme.WarningIcon())
		}
	})
}
