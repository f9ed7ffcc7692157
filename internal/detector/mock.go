package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the FaceDetector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu       sync.Mutex
	features []Feature
	err      error
	closed   bool
	calls    int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFeatures sets the faces that will be returned by DetectFaces.
func (m *MockDetector) SetFeatures(features []Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features = features
}

// SetError sets the error that will be returned by DetectFaces.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// DetectFaces returns the pre-configured faces or error.
func (m *MockDetector) DetectFaces(frame *gocv.Mat) ([]Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.features, nil
}

// Calls returns how many times DetectFaces ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the mock closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CenteredFace returns a face occupying the middle of a w by h frame with
// eyes and mouth at typical positions.
func CenteredFace(w, h int) Feature {
	b := image.Rect(w/4, h/4, 3*w/4, 3*h/4)
	return Feature{
		Bounds: b,
		Landmarks: map[string]image.Point{
			RightEye: {X: b.Min.X + b.Dx()/3, Y: b.Min.Y + b.Dy()/3},
			LeftEye:  {X: b.Min.X + 2*b.Dx()/3, Y: b.Min.Y + b.Dy()/3},
			Mouth:    {X: b.Min.X + b.Dx()/2, Y: b.Min.Y + 4*b.Dy()/5},
		},
		Confidence: 1,
	}
}
