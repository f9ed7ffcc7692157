// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Position selects which physical camera feeds the pipeline.
type Position int

const (
	Front Position = iota
	Back
)

func (p Position) String() string {
	if p == Back {
		return "back"
	}
	return "front"
}

// Opposite returns the other camera.
func (p Position) Opposite() Position {
	if p == Back {
		return Front
	}
	return Back
}

// ParsePosition parses "front" or "back".
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(s) {
	case "front", "":
		return Front, nil
	case "back":
		return Back, nil
	}
	return Front, errors.Errorf("unknown camera position %q", s)
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
	Position() Position
	// SetPosition switches to the camera at p, reopening the device when
	// the camera is running.
	SetPosition(p Position) error
}

// TogglePosition switches cam to the opposite camera.
func TogglePosition(cam Camera) (Position, error) {
	p := cam.Position().Opposite()
	if err := cam.SetPosition(p); err != nil {
		return cam.Position(), err
	}
	return p, nil
}

// Config maps camera positions to capture devices.
type Config struct {
	FrontDevice int      `yaml:"front_device"`
	BackDevice  int      `yaml:"back_device"`
	Position    Position `yaml:"-"`
	FPS         int      `yaml:"fps"`
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	config   Config
	position Position
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
	fps      int
}

// NewCamera creates a new Camera from config.
// A non-positive FPS selects DefaultFPS.
func NewCamera(config Config) Camera {
	fps := config.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &cameraImpl{
		config:   config,
		position: config.Position,
		fps:      fps,
	}
}

func (c *cameraImpl) deviceID() int {
	if c.position == Back {
		return c.config.BackDevice
	}
	return c.config.FrontDevice
}

// Open opens the camera for capturing frames.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open()
}

func (c *cameraImpl) open() error {
	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID())
	if err != nil {
		return errors.Wrapf(err, "open %s camera (device %d)", c.position, c.deviceID())
	}

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

func (c *cameraImpl) close() error {
	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// Position returns the active camera.
func (c *cameraImpl) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.position
}

// SetPosition switches devices. Selecting the active position is a no-op.
func (c *cameraImpl) SetPosition(p Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p == c.position {
		return nil
	}
	if !c.running {
		c.position = p
		return nil
	}

	prev := c.position
	if err := c.close(); err != nil {
		return errors.Wrap(err, "close camera")
	}
	c.position = p
	if err := c.open(); err != nil {
		c.position = prev
		if reopenErr := c.open(); reopenErr != nil {
			return errors.Wrapf(err, "switch to %s camera, reopen %s failed: %v", p, prev, reopenErr)
		}
		return err
	}
	return nil
}
