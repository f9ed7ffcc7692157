// Package tray provides a system tray interface for pulselab.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/pulselab/internal/session"
)

// Tray represents the system tray application. It is also a session.Sink
// showing the heart rate labels as disabled menu items.
type Tray struct {
	onMode     func(heartRate bool)
	onFlash    func()
	onFlip     func()
	onSettings func()
	onQuit     func()
	heartRate  bool
	labels     session.Labels
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuMode   *systray.MenuItem
	menuFlash  *systray.MenuItem
	menuFlip   *systray.MenuItem
	menuTime   *systray.MenuItem
	menuStatus *systray.MenuItem
	menuRate   *systray.MenuItem
}

// New creates a new Tray in face mode.
func New() *Tray {
	return &Tray{}
}

// OnModeToggle sets the callback called when the mode item is clicked.
func (t *Tray) OnModeToggle(fn func(heartRate bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMode = fn
}

// OnFlash sets the callback called when the flash item is clicked.
func (t *Tray) OnFlash(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFlash = fn
}

// OnFlip sets the callback called when the flip camera item is clicked.
func (t *Tray) OnFlip(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFlip = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Pulselab")
	systray.SetTooltip("Pulselab camera lab")

	t.mu.Lock()
	t.menuMode = systray.AddMenuItem(modeTitle(t.heartRate), "Switch between face and heart rate detection")
	t.menuFlip = systray.AddMenuItem("Flip Camera", "Switch between front and back camera")
	t.menuFlash = systray.AddMenuItem("Toggle Flash", "Turn the torch on or off")
	systray.AddSeparator()

	t.menuTime = systray.AddMenuItem("", "Time remaining")
	t.menuStatus = systray.AddMenuItem("", "Measurement status")
	t.menuRate = systray.AddMenuItem("", "Heart rate")
	for _, item := range []*systray.MenuItem{t.menuTime, t.menuStatus, t.menuRate} {
		item.Disable()
	}
	t.applyLabels()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Pulselab")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuMode.ClickedCh:
				t.handleModeToggle()
			case <-t.menuFlip.ClickedCh:
				t.call(func() func() { return t.onFlip })
			case <-t.menuFlash.ClickedCh:
				t.call(func() func() { return t.onFlash })
			case <-menuSettings.ClickedCh:
				t.call(func() func() { return t.onSettings })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

func modeTitle(heartRate bool) string {
	if heartRate {
		return "Mode: Heart Rate"
	}
	return "Mode: Face"
}

// handleModeToggle handles the mode menu item click.
func (t *Tray) handleModeToggle() {
	t.mu.Lock()
	t.heartRate = !t.heartRate
	heartRate := t.heartRate

	if t.menuMode != nil {
		t.menuMode.SetTitle(modeTitle(heartRate))
	}

	callback := t.onMode
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(heartRate)
	}
}

func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.call(func() func() { return t.onQuit })
	systray.Quit()
}

// SetMode updates the mode item without calling the toggle callback.
func (t *Tray) SetMode(m session.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heartRate = m == session.ModeHeartRate
	if t.menuMode != nil {
		t.menuMode.SetTitle(modeTitle(t.heartRate))
	}
}

// HeartRate reports whether the tray shows heart rate mode.
func (t *Tray) HeartRate() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.heartRate
}

func (t *Tray) SetTimeRemaining(text string) {
	t.setLabel(func(l *session.Labels) { l.TimeRemaining = text })
}

func (t *Tray) SetStatus(text string) {
	t.setLabel(func(l *session.Labels) { l.Status = text })
}

func (t *Tray) SetRate(text string) {
	t.setLabel(func(l *session.Labels) { l.Rate = text })
}

func (t *Tray) ShowHeartRateControls(show bool) {
	t.setLabel(func(l *session.Labels) { l.Controls = show })
}

// Labels returns the labels the tray is showing.
func (t *Tray) Labels() session.Labels {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.labels
}

func (t *Tray) setLabel(fn func(*session.Labels)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.labels)
	t.applyLabels()
}

// applyLabels pushes the labels to the menu. Callers hold mu.
func (t *Tray) applyLabels() {
	if t.menuTime == nil {
		return
	}
	items := []struct {
		item *systray.MenuItem
		text string
	}{
		{t.menuTime, t.labels.TimeRemaining},
		{t.menuStatus, t.labels.Status},
		{t.menuRate, t.labels.Rate},
	}
	for _, it := range items {
		it.item.SetTitle(it.text)
		if t.labels.Controls && it.text != "" {
			it.item.Show()
		} else {
			it.item.Hide()
		}
	}
	if t.labels.Controls {
		t.menuFlash.Disable()
		t.menuFlip.Disable()
	} else {
		t.menuFlash.Enable()
		t.menuFlip.Enable()
	}
}
