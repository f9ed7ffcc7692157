package app

import (
	"context"
	"image/color"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/session"
)

var (
	faceColor     = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	landmarkColor = color.RGBA{R: 255, G: 200, B: 0, A: 0}
)

// runPipeline reads a frame per camera period, processes it and keeps the
// JPEG of the result for streaming.
//
// Per frame:
//  1. heart rate mode: the raw frame goes to the finger detector and the
//     reading is submitted to the session
//  2. the frame is run through the filter chain
//  3. face mode: faces are detected on the filtered frame and outlined
//  4. the output is JPEG encoded and published
//
// A bad frame is logged and skipped; the loop only stops on ctx.
func (a *App) runPipeline(ctx context.Context) error {
	fps := a.camera.FPS()
	ticker := a.clock.Ticker(frameInterval(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if current := a.camera.FPS(); current != fps {
			fps = current
			ticker.Reset(frameInterval(fps))
			a.logger.Debugw("frame rate changed", "fps", fps)
		}

		frame, err := a.camera.ReadFrame()
		if err != nil {
			if !errors.Is(err, capture.ErrCameraNotOpen) {
				a.logger.Debugw("reading frame", "error", err)
			}
			continue
		}

		out, err := a.ProcessFrame(frame)
		frame.Close()
		if err != nil {
			a.logger.Warnw("processing frame", "error", err)
			continue
		}

		buf, err := gocv.IMEncode(".jpg", out)
		out.Close()
		if err != nil {
			a.logger.Warnw("encoding frame", "error", err)
			continue
		}
		b := make([]byte, buf.Len())
		copy(b, buf.GetBytes())
		buf.Close()
		a.storeJPEG(b)
	}
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// ProcessFrame runs one frame through the pipeline and returns the output
// frame, which the caller must Close. The input is not modified.
func (a *App) ProcessFrame(frame *gocv.Mat) (gocv.Mat, error) {
	if frame == nil || frame.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}

	// The finger is judged on the raw frame, before any filter runs
	mode := a.session.Mode()
	if mode == session.ModeHeartRate {
		a.observeFinger(frame)
	}

	filtered, err := a.chain.Apply(*frame)
	if err != nil {
		a.logger.Warnw("filter chain failed, passing frame through", "error", err)
		filtered = frame.Clone()
	}

	if mode != session.ModeFace {
		return filtered, nil
	}

	// Detect on the filtered frame so overlays line up with what is shown
	features, err := a.faces.DetectFaces(&filtered)
	if err != nil {
		a.logger.Warnw("face detection failed", "error", err)
	}
	if len(features) == 0 {
		filtered.Close()
		return frame.Clone(), nil
	}

	// Draw overlays
	for _, f := range features {
		gocv.Rectangle(&filtered, f.Bounds, faceColor, 2)
		for _, p := range f.Landmarks {
			gocv.Circle(&filtered, p, 3, landmarkColor, -1)
		}
	}
	return filtered, nil
}

func (a *App) observeFinger(frame *gocv.Mat) {
	previous := a.session.Snapshot().FingerPresent
	reading, err := a.finger.Detect(frame, previous)
	if err != nil {
		a.logger.Debugw("finger detection failed", "error", err)
		return
	}
	a.session.Submit(reading)
}
