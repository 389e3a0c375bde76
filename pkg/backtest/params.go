// Parameter schema types shared by strategies, the search space and the trial log
package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ============================================================================
// PARAMETER DEFINITION
// ============================================================================

// ParamType defines the type of parameter
type ParamType string

const (
	ParamTypeInt         ParamType = "int"
	ParamTypeFloat       ParamType = "float"
	ParamTypeBool        ParamType = "bool"
	ParamTypeCategorical ParamType = "categorical"
)

// Parameter represents one tunable knob of a strategy schema.
//
// Min/Max are the schema bounds. OptMin/OptMax narrow the range the optimizer
// explores; when unset the schema bounds are used.
type Parameter struct {
	Name    string      `json:"name" yaml:"name"`
	Type    ParamType   `json:"type" yaml:"type"`
	Default interface{} `json:"default" yaml:"default"`
	Min     float64     `json:"min" yaml:"min"`
	Max     float64     `json:"max" yaml:"max"`
	Step    float64     `json:"step" yaml:"step"`
	Values  []string    `json:"values,omitempty" yaml:"values"`
	OptMin  *float64    `json:"opt_min,omitempty" yaml:"opt_min"`
	OptMax  *float64    `json:"opt_max,omitempty" yaml:"opt_max"`
	Enabled bool        `json:"enabled" yaml:"enabled"`
}

// IsNumeric reports whether the parameter spans a numeric range
func (p *Parameter) IsNumeric() bool {
	return p.Type == ParamTypeInt || p.Type == ParamTypeFloat
}

// Options returns the choice set of a categorical or bool parameter
func (p *Parameter) Options() []string {
	if p.Type == ParamTypeBool {
		return []string{"false", "true"}
	}
	return p.Values
}

// Bounds returns the optimization range, the sub-range clipped to the schema bounds
func (p *Parameter) Bounds() (low, high float64) {
	low, high = p.Min, p.Max
	if p.OptMin != nil && *p.OptMin > low {
		low = *p.OptMin
	}
	if p.OptMax != nil && *p.OptMax < high {
		high = *p.OptMax
	}
	return low, high
}

// EffectiveStep returns the grid step, 1 for integers when unset and 0 (continuous) for floats
func (p *Parameter) EffectiveStep() float64 {
	if p.Step > 0 {
		return p.Step
	}
	if p.Type == ParamTypeInt {
		return 1
	}
	return 0
}

// Validate checks the parameter definition
func (p *Parameter) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}

	switch p.Type {
	case ParamTypeInt, ParamTypeFloat:
		if math.IsNaN(p.Min) || math.IsNaN(p.Max) || p.Min > p.Max {
			return fmt.Errorf("parameter %s: invalid bounds [%v, %v]", p.Name, p.Min, p.Max)
		}
		if p.Step < 0 {
			return fmt.Errorf("parameter %s: step must not be negative", p.Name)
		}
		low, high := p.Bounds()
		if low > high {
			return fmt.Errorf("parameter %s: optimization range [%v, %v] is empty", p.Name, low, high)
		}
	case ParamTypeCategorical:
		if len(p.Values) == 0 {
			return fmt.Errorf("parameter %s: categorical parameter needs at least one option", p.Name)
		}
		seen := make(map[string]bool, len(p.Values))
		for _, v := range p.Values {
			if seen[v] {
				return fmt.Errorf("parameter %s: duplicate option %q", p.Name, v)
			}
			seen[v] = true
		}
	case ParamTypeBool:
	default:
		return fmt.Errorf("parameter %s: unknown type %q", p.Name, p.Type)
	}

	return nil
}

// ============================================================================
// PARAMETER SET
// ============================================================================

// ParameterSet represents a set of parameter values keyed by name
type ParameterSet map[string]interface{}

// Clone creates a copy of the parameter set
func (ps ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(ps))
	for k, v := range ps {
		clone[k] = v
	}
	return clone
}

// Int returns an integer parameter, accepting any numeric encoding
func (ps ParameterSet) Int(name string) (int, error) {
	v, ok := ps[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter: %s", name)
	}

	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return int(math.Round(f)), nil
}

// Float returns a numeric parameter as float64
func (ps ParameterSet) Float(name string) (float64, error) {
	v, ok := ps[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter: %s", name)
	}

	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return f, nil
}

// Bool returns a boolean parameter
func (ps ParameterSet) Bool(name string) (bool, error) {
	v, ok := ps[name]
	if !ok {
		return false, fmt.Errorf("missing parameter: %s", name)
	}

	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("parameter %s: %w", name, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("parameter %s: expected bool, got %T", name, v)
	}
}

// String returns a categorical parameter
func (ps ParameterSet) String(name string) (string, error) {
	v, ok := ps[name]
	if !ok {
		return "", fmt.Errorf("missing parameter: %s", name)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: expected string, got %T", name, v)
	}
	return s, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
