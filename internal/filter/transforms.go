package filter

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Bloom blends a blurred copy over the frame. Parameters: intensity, radius.
type Bloom struct{}

// Defaults returns intensity 0.5 and radius 20.
func (*Bloom) Defaults() Params {
	return Params{"intensity": Scalar(0.5), "radius": Scalar(20)}
}

// Apply implements Transform.
func (*Bloom) Apply(src gocv.Mat, dst *gocv.Mat, p Params) error {
	intensity := p["intensity"].Float(0.5)
	radius := int(p["radius"].Float(20))
	// GaussianBlur throws on a negative kernel, which cgo turns into a crash.
	if radius < 0 {
		return errors.Wrapf(ErrParamRange, "bloom radius %d", radius)
	}
	ksize := 2*radius + 1

	blurred := gocv.NewMat()
	defer blurred.Close()

	gocv.GaussianBlur(src, &blurred, image.Point{X: ksize, Y: ksize}, 0, 0, gocv.BorderDefault)
	gocv.AddWeighted(src, 1, blurred, intensity, 0, dst)
	return nil
}

// Hue rotates hue by angle radians.
type Hue struct{}

// Defaults returns angle 10.
func (*Hue) Defaults() Params {
	return Params{"angle": Scalar(10)}
}

// Apply implements Transform. OpenCV stores hue in [0, 180).
func (*Hue) Apply(src gocv.Mat, dst *gocv.Mat, p Params) error {
	if src.Type() != gocv.MatTypeCV8UC3 {
		return ErrUnsupportedFrame
	}

	angle := p["angle"].Float(10)
	shift := int(math.Round(angle/(2*math.Pi)*180)) % 180
	if shift < 0 {
		shift += 180
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	defer lut.Close()
	for i := 0; i < 256; i++ {
		v := i
		if i < 180 {
			v = (i + shift) % 180
		}
		lut.SetUCharAt(0, i, uint8(v))
	}

	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.LUT(channels[0], lut, &rotated)
	rotated.CopyTo(&channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)
	gocv.CvtColor(merged, dst, gocv.ColorHSVToBGR)
	return nil
}

// Bump magnifies or pinches a circular region. Parameters: center (x, y
// vector in pixels, frame center when empty), radius, scale. Positive
// scale bulges outward.
type Bump struct {
	mu     sync.Mutex
	key    bumpKey
	mapX   gocv.Mat
	mapY   gocv.Mat
	cached bool
}

type bumpKey struct {
	rows, cols    int
	cx, cy, r, sc float64
}

func newBump() *Bump { return &Bump{} }

// Defaults returns radius 75 and scale -0.5.
func (*Bump) Defaults() Params {
	return Params{"radius": Scalar(75), "scale": Scalar(-0.5)}
}

// Apply implements Transform.
func (b *Bump) Apply(src gocv.Mat, dst *gocv.Mat, p Params) error {
	key := bumpKey{
		rows: src.Rows(),
		cols: src.Cols(),
		cx:   float64(src.Cols()) / 2,
		cy:   float64(src.Rows()) / 2,
		r:    p["radius"].Float(75),
		sc:   p["scale"].Float(-0.5),
	}
	if c := p["center"]; len(c) >= 2 {
		key.cx, key.cy = c[0], c[1]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cached || b.key != key {
		b.release()
		b.build(key)
	}
	gocv.Remap(src, dst, &b.mapX, &b.mapY, gocv.InterpolationLinear, gocv.BorderReplicate, color.RGBA{})
	return nil
}

func (b *Bump) build(k bumpKey) {
	b.mapX = gocv.NewMatWithSize(k.rows, k.cols, gocv.MatTypeCV32F)
	b.mapY = gocv.NewMatWithSize(k.rows, k.cols, gocv.MatTypeCV32F)

	for y := 0; y < k.rows; y++ {
		for x := 0; x < k.cols; x++ {
			dx := float64(x) - k.cx
			dy := float64(y) - k.cy
			f := 1.0
			if k.r > 0 {
				if d := math.Hypot(dx, dy); d < k.r {
					t := 1 - d/k.r
					f = 1 - k.sc*t*t
				}
			}
			b.mapX.SetFloatAt(y, x, float32(k.cx+dx*f))
			b.mapY.SetFloatAt(y, x, float32(k.cy+dy*f))
		}
	}
	b.key = k
	b.cached = true
}

func (b *Bump) release() {
	if !b.cached {
		return
	}
	b.mapX.Close()
	b.mapY.Close()
	b.cached = false
}

// Close frees the cached remap tables.
func (b *Bump) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	return nil
}
