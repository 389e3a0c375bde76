// Package searchspace turns a strategy parameter schema into typed search
// dimensions and generates deterministic coverage trials over them.
package searchspace

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// ============================================================================
// DIMENSIONS
// ============================================================================

// Kind is the shape of a search dimension
type Kind string

const (
	KindInt         Kind = "int"
	KindFloat       Kind = "float"
	KindCategorical Kind = "categorical"
)

// Dimension is one enabled parameter as the optimizer sees it
type Dimension struct {
	Name    string
	Kind    Kind
	Low     float64
	High    float64
	Step    float64 // 0 means continuous
	Options []string
	Bool    bool // categorical over false/true, values are bool
}

// IsNumeric reports whether the dimension is an int or float range
func (d *Dimension) IsNumeric() bool {
	return d.Kind != KindCategorical
}

// Value maps t in [0,1] onto the dimension.
// Numeric: clamp(round((low + t*(high-low))/step)*step, low, high).
// Categorical: the option in the t-th equal-width slot.
func (d *Dimension) Value(t float64) interface{} {
	t = math.Min(math.Max(t, 0), 1)

	if d.Kind == KindCategorical {
		idx := int(t * float64(len(d.Options)))
		if idx >= len(d.Options) {
			idx = len(d.Options) - 1
		}
		return d.option(idx)
	}

	return d.snap(d.Low + t*(d.High-d.Low))
}

// Normalize maps a value of this dimension back into [0,1]. Categorical values map
// to the centre of their slot.
func (d *Dimension) Normalize(v interface{}) (float64, error) {
	if d.Kind == KindCategorical {
		idx, err := d.Index(v)
		if err != nil {
			return 0, err
		}
		return (float64(idx) + 0.5) / float64(len(d.Options)), nil
	}

	f, err := backtest.ParameterSet{d.Name: v}.Float(d.Name)
	if err != nil {
		return 0, err
	}
	if d.High == d.Low {
		return 0.5, nil
	}
	return math.Min(math.Max((f-d.Low)/(d.High-d.Low), 0), 1), nil
}

// Index returns the option index of a categorical value
func (d *Dimension) Index(v interface{}) (int, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		s = strconv.FormatBool(x)
	default:
		return 0, fmt.Errorf("parameter %s: expected categorical value, got %T", d.Name, v)
	}

	for i, opt := range d.Options {
		if opt == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("parameter %s: %q is not one of %v", d.Name, s, d.Options)
}

// Snap rounds a raw numeric value onto the dimension grid and bounds
func (d *Dimension) Snap(f float64) interface{} {
	return d.snap(f)
}

func (d *Dimension) snap(f float64) interface{} {
	if d.Step > 0 {
		f = math.Round(f/d.Step) * d.Step
		f = math.Round(f*1e10) / 1e10
	}
	f = math.Min(math.Max(f, d.Low), d.High)

	if d.Kind == KindInt {
		return int(math.Round(f))
	}
	return f
}

func (d *Dimension) option(idx int) interface{} {
	if d.Bool {
		return d.Options[idx] == "true"
	}
	return d.Options[idx]
}

// Option returns the value of the option at idx
func (d *Dimension) Option(idx int) interface{} {
	return d.option(idx)
}

// ============================================================================
// SPACE
// ============================================================================

// Space is the set of enabled dimensions plus the fixed values of disabled parameters
type Space struct {
	Dimensions []*Dimension
	Fixed      backtest.ParameterSet
}

// Build classifies the enabled parameters of schema into search dimensions.
// Disabled parameters keep their default value.
func Build(schema []*backtest.Parameter) (*Space, error) {
	space := &Space{Fixed: backtest.ParameterSet{}}
	seen := make(map[string]bool, len(schema))

	for _, p := range schema {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true

		if !p.Enabled {
			if p.Default == nil {
				return nil, fmt.Errorf("parameter %s: disabled parameter needs a default", p.Name)
			}
			space.Fixed[p.Name] = p.Default
			continue
		}

		dim := &Dimension{Name: p.Name}
		switch p.Type {
		case backtest.ParamTypeInt, backtest.ParamTypeFloat:
			dim.Kind = KindFloat
			if p.Type == backtest.ParamTypeInt {
				dim.Kind = KindInt
			}
			dim.Low, dim.High = p.Bounds()
			dim.Step = p.EffectiveStep()
		case backtest.ParamTypeBool:
			dim.Kind = KindCategorical
			dim.Options = p.Options()
			dim.Bool = true
		case backtest.ParamTypeCategorical:
			dim.Kind = KindCategorical
			dim.Options = append([]string(nil), p.Values...)
		}
		space.Dimensions = append(space.Dimensions, dim)
	}

	return space, nil
}

// Numeric returns the numeric dimensions in schema order
func (s *Space) Numeric() []*Dimension {
	var out []*Dimension
	for _, d := range s.Dimensions {
		if d.IsNumeric() {
			out = append(out, d)
		}
	}
	return out
}

// Categorical returns the categorical dimensions in schema order
func (s *Space) Categorical() []*Dimension {
	var out []*Dimension
	for _, d := range s.Dimensions {
		if !d.IsNumeric() {
			out = append(out, d)
		}
	}
	return out
}

// Dimension returns the dimension with the given name
func (s *Space) Dimension(name string) (*Dimension, bool) {
	for _, d := range s.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Denormalize maps a point of [0,1] coordinates, one per dimension in order, onto a
// full parameter set including the fixed values.
func (s *Space) Denormalize(point []float64) (backtest.ParameterSet, error) {
	if len(point) != len(s.Dimensions) {
		return nil, fmt.Errorf("point has %d coordinates, space has %d dimensions", len(point), len(s.Dimensions))
	}

	params := s.Fixed.Clone()
	for i, d := range s.Dimensions {
		params[d.Name] = d.Value(point[i])
	}
	return params, nil
}

// Coerce validates params against the space, snapping numeric values onto their grid
// and converting encodings (such as JSON numbers) back to the dimension's type. Fixed
// values are filled in; unknown parameters are rejected.
func (s *Space) Coerce(params backtest.ParameterSet) (backtest.ParameterSet, error) {
	out := s.Fixed.Clone()

	for name := range params {
		if _, ok := s.Dimension(name); ok {
			continue
		}
		if _, ok := s.Fixed[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %s", name)
		}
	}

	for _, d := range s.Dimensions {
		v, ok := params[d.Name]
		if !ok {
			return nil, fmt.Errorf("missing parameter: %s", d.Name)
		}

		if d.Kind == KindCategorical {
			idx, err := d.Index(v)
			if err != nil {
				return nil, err
			}
			out[d.Name] = d.option(idx)
			continue
		}

		f, err := params.Float(d.Name)
		if err != nil {
			return nil, err
		}
		out[d.Name] = d.snap(f)
	}

	return out, nil
}
