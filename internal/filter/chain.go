package filter

import (
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

type step struct {
	name      string
	transform Transform
	params    Params
}

// Chain threads a frame through its steps in order. Parameter updates may
// arrive from any goroutine while frames are being processed.
type Chain struct {
	mu    sync.RWMutex
	steps []*step
	index map[string]int
}

// NewChain builds a chain from specs. An unknown transform name or a
// duplicate step is a configuration error.
func NewChain(specs []Spec) (*Chain, error) {
	c := &Chain{index: make(map[string]int, len(specs))}
	for _, s := range specs {
		factory, ok := registry[s.Name]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownTransform, "%q", s.Name)
		}
		if _, dup := c.index[s.Name]; dup {
			return nil, errors.Errorf("filter: duplicate step %q", s.Name)
		}

		t := factory()
		params := t.Defaults()
		for k, v := range s.Params {
			params[k] = v.clone()
		}

		c.index[s.Name] = len(c.steps)
		c.steps = append(c.steps, &step{name: s.Name, transform: t, params: params})
	}
	return c, nil
}

// Apply returns a new frame produced by every step in order. The caller owns
// the result. An empty chain returns a clone of frame.
func (c *Chain) Apply(frame gocv.Mat) (gocv.Mat, error) {
	type job struct {
		name      string
		transform Transform
		params    Params
	}

	c.mu.RLock()
	jobs := make([]job, len(c.steps))
	for i, s := range c.steps {
		jobs[i] = job{name: s.name, transform: s.transform, params: s.params.Clone()}
	}
	c.mu.RUnlock()

	if len(jobs) == 0 {
		return frame.Clone(), nil
	}

	cur := frame
	for i, j := range jobs {
		dst := gocv.NewMat()
		if err := j.transform.Apply(cur, &dst, j.params); err != nil {
			dst.Close()
			if i > 0 {
				cur.Close()
			}
			return gocv.NewMat(), errors.Wrapf(err, "filter %s", j.name)
		}
		if i > 0 {
			cur.Close()
		}
		cur = dst
	}
	return cur, nil
}

// Set overwrites one parameter of the named step.
func (c *Chain) Set(name, key string, v Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[name]
	if !ok {
		return errors.Wrapf(ErrUnknownStep, "%q", name)
	}
	c.steps[i].params[key] = v.clone()
	return nil
}

// Get returns a copy of the named step's parameters.
func (c *Chain) Get(name string) (Params, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownStep, "%q", name)
	}
	return c.steps[i].params.Clone(), nil
}

// Names returns the step names in chain order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.name
	}
	return names
}

// Len returns the number of steps.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}

// Close releases transform resources.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, s := range c.steps {
		if closer, ok := s.transform.(io.Closer); ok {
			err = multierr.Append(err, closer.Close())
		}
	}
	return err
}

// BloomToggle maps a dial position to a bloom intensity: half a turn or more
// switches bloom off.
func BloomToggle(dial float64) float64 {
	if dial >= math.Pi {
		return 0
	}
	return 0.5
}
