package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/ayusman/pulselab/internal/app"
	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/session"
	"github.com/ayusman/pulselab/internal/store"
	"github.com/ayusman/pulselab/internal/tray"
)

// controller persists the camera choice across restarts.
type controller struct {
	*app.App
	settings *store.SettingsRepository
	logger   *zap.SugaredLogger
}

func (c *controller) FlipCamera() (capture.Position, error) {
	p, err := c.App.FlipCamera()
	if err != nil {
		return p, err
	}
	if serr := c.settings.Set(store.SettingCameraPosition, p.String()); serr != nil {
		c.logger.Warnw("saving camera position", "error", serr)
	}
	return p, nil
}

func bindTray(ctx context.Context, menu *tray.Tray, c *controller, addr string, quit func(), logger *zap.SugaredLogger) {
	menu.OnModeToggle(func(heartRate bool) {
		mode := session.ModeFace
		if heartRate {
			mode = session.ModeHeartRate
		}
		if err := c.SetMode(ctx, mode); err != nil {
			logger.Warnw("switching mode from tray", "mode", mode.String(), "error", err)
		}
	})
	menu.OnFlash(func() {
		on, overheating, err := c.ToggleFlash()
		if err != nil {
			logger.Warnw("toggling flash from tray", "error", err)
			return
		}
		if overheating {
			logger.Warnw("flash refused, torch is overheating")
		}
		logger.Debugw("flash toggled", "on", on)
	})
	menu.OnFlip(func() {
		p, err := c.FlipCamera()
		if err != nil {
			logger.Warnw("flipping camera from tray", "error", err)
			return
		}
		logger.Infow("camera flipped", "position", p.String())
	})
	menu.OnSettings(func() {
		logger.Infow("settings are served over http", "url", "http://"+addr+"/")
	})
	menu.OnQuit(quit)
}
