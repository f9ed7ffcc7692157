// Package filter applies an ordered chain of image transforms to each frame.
//
// Steps are addressed by name. The order of the chain is fixed when it is
// built; only parameter values change afterwards. Parameters are passed to
// the transform as given, so out-of-range values produce whatever the
// transform makes of them.
package filter

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownTransform is returned when a chain names an unregistered transform.
	ErrUnknownTransform = errors.New("filter: unknown transform")
	// ErrUnknownStep is returned when a parameter update names a step not in the chain.
	ErrUnknownStep = errors.New("filter: unknown step")
	// ErrUnsupportedFrame is returned when a transform cannot handle the frame type.
	ErrUnsupportedFrame = errors.New("filter: unsupported frame type")
	// ErrParamRange is returned for a value the underlying OpenCV call would
	// abort on. The stored value is left as set.
	ErrParamRange = errors.New("filter: parameter out of range")
)

// Value is a numeric or vector parameter.
type Value []float64

// Scalar makes a single-number Value.
func Scalar(v float64) Value { return Value{v} }

// Vector makes a multi-component Value.
func Vector(v ...float64) Value { return Value(v) }

// Float returns the first component, or def when the value is empty.
func (v Value) Float(def float64) float64 {
	if len(v) == 0 {
		return def
	}
	return v[0]
}

// UnmarshalYAML accepts a single number or a sequence.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Value{f}
		return nil
	}
	var fs []float64
	if err := node.Decode(&fs); err != nil {
		return err
	}
	*v = fs
	return nil
}

// UnmarshalJSON accepts a single number or an array.
func (v *Value) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Value{f}
		return nil
	}
	var fs []float64
	if err := json.Unmarshal(data, &fs); err != nil {
		return errors.Wrap(err, "filter value")
	}
	*v = fs
	return nil
}

func (v Value) clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	copy(out, v)
	return out
}

// Params maps parameter names to values.
type Params map[string]Value

// Clone deep copies p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v.clone()
	}
	return out
}

// Transform is one image operation.
type Transform interface {
	// Apply writes the transformed src into dst.
	Apply(src gocv.Mat, dst *gocv.Mat, p Params) error
	// Defaults returns the parameters used when none are configured.
	Defaults() Params
}

// Factory creates a Transform for one chain step.
type Factory func() Transform

var registry = map[string]Factory{
	"bloom": func() Transform { return &Bloom{} },
	"hue":   func() Transform { return &Hue{} },
	"bump":  func() Transform { return newBump() },
}

// Register adds a named transform. It replaces any existing registration.
func Register(name string, f Factory) {
	registry[name] = f
}

// Available lists registered transform names.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spec configures one chain step.
type Spec struct {
	Name   string           `yaml:"name" json:"name"`
	Params map[string]Value `yaml:"params,omitempty" json:"params,omitempty"`
}
