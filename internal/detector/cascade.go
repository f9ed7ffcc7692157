package detector

import (
	"image"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// ErrCascadeLoad is returned when a cascade file cannot be loaded.
var ErrCascadeLoad = errors.New("detector: load cascade")

// CascadePaths locates Haar cascade XML files. Only Face is required.
type CascadePaths struct {
	Face  string `yaml:"face"`
	Eyes  string `yaml:"eyes"`
	Mouth string `yaml:"mouth"`
	Nose  string `yaml:"nose"`
}

// CascadeDetector detects faces with OpenCV Haar cascades.
type CascadeDetector struct {
	mu      sync.Mutex
	config  Config
	face    gocv.CascadeClassifier
	eyes    *gocv.CascadeClassifier
	mouth   *gocv.CascadeClassifier
	nose    *gocv.CascadeClassifier
	tracker *Tracker
}

// NewCascadeDetector validates config and loads the cascades.
func NewCascadeDetector(paths CascadePaths, config Config) (*CascadeDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	face := gocv.NewCascadeClassifier()
	if !face.Load(paths.Face) {
		face.Close()
		return nil, errors.Wrapf(ErrCascadeLoad, "face %q", paths.Face)
	}

	d := &CascadeDetector{config: config, face: face}
	var err error
	if d.eyes, err = loadOptional(paths.Eyes); err != nil {
		return nil, multierr.Append(err, d.Close())
	}
	if d.mouth, err = loadOptional(paths.Mouth); err != nil {
		return nil, multierr.Append(err, d.Close())
	}
	if d.nose, err = loadOptional(paths.Nose); err != nil {
		return nil, multierr.Append(err, d.Close())
	}
	if config.TrackingEnabled {
		d.tracker = NewTracker(DefaultTrackingThreshold)
	}
	return d, nil
}

func loadOptional(path string) (*gocv.CascadeClassifier, error) {
	if path == "" {
		return nil, nil
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, errors.Wrapf(ErrCascadeLoad, "%q", path)
	}
	return &c, nil
}

func (d *CascadeDetector) params() (scale float64, neighbors int) {
	if d.config.Accuracy == AccuracyLow {
		return 1.2, 3
	}
	return 1.05, 5
}

// DetectFaces implements FaceDetector.
func (d *CascadeDetector) DetectFaces(frame *gocv.Mat) ([]Feature, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("detector: empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	}
	gocv.EqualizeHist(gray, &gray)

	side := min(gray.Rows(), gray.Cols())
	minSide := int(d.config.MinFeatureSize * float64(side))
	minSize := image.Point{X: minSide, Y: minSide}
	scale, neighbors := d.params()

	var rects []image.Rectangle
	for _, angle := range d.config.Angles() {
		for _, r := range d.detectRotated(gray, angle, scale, neighbors, minSize) {
			if !overlapsAny(r, rects) {
				rects = append(rects, r)
			}
		}
		if len(rects) >= d.config.MaxFeatureCount {
			break
		}
	}
	if len(rects) > d.config.MaxFeatureCount {
		rects = rects[:d.config.MaxFeatureCount]
	}

	bounds := image.Rect(0, 0, gray.Cols(), gray.Rows())
	features := make([]Feature, 0, len(rects))
	for _, r := range rects {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}
		features = append(features, Feature{
			Bounds:     r,
			Landmarks:  d.landmarks(gray, r),
			Confidence: 1,
		})
	}

	if d.tracker != nil {
		return Live(d.tracker.Update(features)), nil
	}
	return features, nil
}

func (d *CascadeDetector) detectRotated(gray gocv.Mat, angle, scale float64, neighbors int, minSize image.Point) []image.Rectangle {
	if angle == 0 {
		return d.face.DetectMultiScaleWithParams(gray, scale, neighbors, 0, minSize, image.Point{})
	}

	center := image.Point{X: gray.Cols() / 2, Y: gray.Rows() / 2}
	m := gocv.GetRotationMatrix2D(center, angle, 1)
	defer m.Close()

	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.WarpAffine(gray, &rotated, m, image.Point{X: gray.Cols(), Y: gray.Rows()})

	found := d.face.DetectMultiScaleWithParams(rotated, scale, neighbors, 0, minSize, image.Point{})
	out := make([]image.Rectangle, len(found))
	for i, r := range found {
		c := unrotate(image.Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}, center, angle)
		half := image.Point{X: r.Dx() / 2, Y: r.Dy() / 2}
		out[i] = image.Rectangle{Min: c.Sub(half), Max: c.Add(half)}
	}
	return out
}

// unrotate maps a point in an image rotated by deg about center back to the
// upright image.
func unrotate(p, center image.Point, deg float64) image.Point {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	dx := float64(p.X - center.X)
	dy := float64(p.Y - center.Y)
	return image.Point{
		X: center.X + int(math.Round(cos*dx-sin*dy)),
		Y: center.Y + int(math.Round(sin*dx+cos*dy)),
	}
}

func overlapsAny(r image.Rectangle, rects []image.Rectangle) bool {
	for _, o := range rects {
		if IoU(r, o) > 0.3 {
			return true
		}
	}
	return false
}

// landmarks searches the face sub-regions with the optional cascades.
func (d *CascadeDetector) landmarks(gray gocv.Mat, face image.Rectangle) map[string]image.Point {
	out := make(map[string]image.Point)
	h := face.Dy()

	if d.eyes != nil {
		upper := image.Rect(face.Min.X, face.Min.Y, face.Max.X, face.Min.Y+h/2)
		eyes := detectIn(d.eyes, gray, upper)
		sort.Slice(eyes, func(i, j int) bool { return eyes[i].X < eyes[j].X })
		if len(eyes) >= 2 {
			// The subject's right eye appears on the left of the image.
			out[RightEye] = eyes[0]
			out[LeftEye] = eyes[len(eyes)-1]
		}
	}
	if d.nose != nil {
		middle := image.Rect(face.Min.X, face.Min.Y+h/3, face.Max.X, face.Min.Y+5*h/6)
		if pts := detectIn(d.nose, gray, middle); len(pts) > 0 {
			out[Nose] = pts[0]
		}
	}
	if d.mouth != nil {
		lower := image.Rect(face.Min.X, face.Min.Y+2*h/3, face.Max.X, face.Max.Y)
		if pts := detectIn(d.mouth, gray, lower); len(pts) > 0 {
			out[Mouth] = pts[0]
		}
	}
	return out
}

// detectIn returns detection centers inside roi in frame coordinates.
func detectIn(c *gocv.CascadeClassifier, gray gocv.Mat, roi image.Rectangle) []image.Point {
	if roi.Empty() {
		return nil
	}
	region := gray.Region(roi)
	defer region.Close()

	found := c.DetectMultiScale(region)
	pts := make([]image.Point, len(found))
	for i, r := range found {
		pts[i] = image.Point{
			X: roi.Min.X + (r.Min.X+r.Max.X)/2,
			Y: roi.Min.Y + (r.Min.Y+r.Max.Y)/2,
		}
	}
	return pts
}

// Close releases the cascades.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.face.Close()
	for _, c := range []*gocv.CascadeClassifier{d.eyes, d.mouth, d.nose} {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
