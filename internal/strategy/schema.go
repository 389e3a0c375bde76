package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// ValidationError contains details about validation failures
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// ErrInvalidSchema is returned when the schema version is not supported
var ErrInvalidSchema = errors.New("invalid or unsupported schema version")

// Document is a YAML parameter schema document. It names a strategy and lists
// per-parameter overrides of that strategy's default schema.
type Document struct {
	SchemaVersion string              `yaml:"schema_version" json:"schema_version"`
	ID            string              `yaml:"id,omitempty" json:"id,omitempty"`
	Strategy      string              `yaml:"strategy" json:"strategy"`
	Description   string              `yaml:"description,omitempty" json:"description,omitempty"`
	Author        string              `yaml:"author,omitempty" json:"author,omitempty"`
	UpdatedAt     time.Time           `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	Parameters    []ParameterOverride `yaml:"parameters" json:"parameters"`
}

// ParameterOverride changes selected fields of one schema parameter. Nil
// fields keep the strategy default.
type ParameterOverride struct {
	Name    string      `yaml:"name" json:"name"`
	Enabled *bool       `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Min     *float64    `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64    `yaml:"max,omitempty" json:"max,omitempty"`
	Step    *float64    `yaml:"step,omitempty" json:"step,omitempty"`
	OptMin  *float64    `yaml:"opt_min,omitempty" json:"opt_min,omitempty"`
	OptMax  *float64    `yaml:"opt_max,omitempty" json:"opt_max,omitempty"`
	Values  []string    `yaml:"values,omitempty" json:"values,omitempty"`

	// Range is the 1.0 spelling of [opt_min, opt_max]; Migrate rewrites it
	Range []float64 `yaml:"range,omitempty" json:"range,omitempty"`
}

// Validate checks the document structure. Parameter names are checked against
// a concrete schema in Apply.
func (d *Document) Validate() error {
	var errs ValidationErrors

	if d.SchemaVersion == "" {
		errs = append(errs, ValidationError{Field: "schema_version", Message: "is required"})
	} else if !IsVersionSupported(d.SchemaVersion) {
		errs = append(errs, ValidationError{
			Field:   "schema_version",
			Message: fmt.Sprintf("unsupported version %s (supported: %v)", d.SchemaVersion, SupportedSchemaVersions),
		})
	}

	seen := make(map[string]bool, len(d.Parameters))
	for i, p := range d.Parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "is required"})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate parameter %s", p.Name)})
		}
		seen[p.Name] = true

		for name, v := range map[string]*float64{"min": p.Min, "max": p.Max, "step": p.Step, "opt_min": p.OptMin, "opt_max": p.OptMax} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
				errs = append(errs, ValidationError{Field: field + "." + name, Message: "must be finite"})
			}
		}
		if p.Step != nil && *p.Step < 0 {
			errs = append(errs, ValidationError{Field: field + ".step", Message: "must not be negative"})
		}
		if len(p.Range) > 0 {
			errs = append(errs, ValidationError{Field: field + ".range", Message: "is no longer supported, use opt_min and opt_max"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Apply returns a copy of base with the document overrides applied. Unknown
// parameter names and overrides that leave a parameter invalid are errors.
func (d *Document) Apply(base []*backtest.Parameter) ([]*backtest.Parameter, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	params := CloneSchema(base)
	byName := make(map[string]*backtest.Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	var errs ValidationErrors
	for i, o := range d.Parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		p, ok := byName[o.Name]
		if !ok {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("unknown parameter %s", o.Name)})
			continue
		}

		o.applyTo(p)
		if err := p.Validate(); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
			continue
		}
		if err := checkDefault(p); err != nil {
			errs = append(errs, ValidationError{Field: field + ".default", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return params, nil
}

func (o *ParameterOverride) applyTo(p *backtest.Parameter) {
	if o.Enabled != nil {
		p.Enabled = *o.Enabled
	}
	if o.Default != nil {
		p.Default = o.Default
	}
	if o.Min != nil {
		p.Min = *o.Min
	}
	if o.Max != nil {
		p.Max = *o.Max
	}
	if o.Step != nil {
		p.Step = *o.Step
	}
	if o.OptMin != nil {
		v := *o.OptMin
		p.OptMin = &v
	}
	if o.OptMax != nil {
		v := *o.OptMax
		p.OptMax = &v
	}
	if o.Values != nil {
		p.Values = append([]string(nil), o.Values...)
	}
}

// checkDefault verifies the default value fits the parameter type and bounds
func checkDefault(p *backtest.Parameter) error {
	if p.Default == nil {
		return nil
	}
	ps := backtest.ParameterSet{p.Name: p.Default}

	switch p.Type {
	case backtest.ParamTypeInt, backtest.ParamTypeFloat:
		v, err := ps.Float(p.Name)
		if err != nil {
			return err
		}
		if v < p.Min || v > p.Max {
			return fmt.Errorf("default %v outside [%v, %v]", v, p.Min, p.Max)
		}
	case backtest.ParamTypeBool:
		if _, err := ps.Bool(p.Name); err != nil {
			return err
		}
	case backtest.ParamTypeCategorical:
		s, err := ps.String(p.Name)
		if err != nil {
			return err
		}
		for _, v := range p.Values {
			if v == s {
				return nil
			}
		}
		return fmt.Errorf("default %q is not one of %v", s, p.Values)
	}
	return nil
}

// NewDocument describes a full schema as a document, one override per parameter
func NewDocument(strategyID string, schema []*backtest.Parameter) *Document {
	doc := &Document{
		SchemaVersion: SchemaVersion,
		Strategy:      strategyID,
		Parameters:    make([]ParameterOverride, 0, len(schema)),
	}

	for _, p := range schema {
		enabled := p.Enabled
		o := ParameterOverride{
			Name:    p.Name,
			Enabled: &enabled,
			Default: p.Default,
		}
		if p.IsNumeric() {
			low, high := p.Bounds()
			minV, maxV, step := p.Min, p.Max, p.Step
			o.Min, o.Max, o.Step = &minV, &maxV, &step
			if p.OptMin != nil || p.OptMax != nil {
				o.OptMin, o.OptMax = &low, &high
			}
		}
		if p.Type == backtest.ParamTypeCategorical {
			o.Values = append([]string(nil), p.Values...)
		}
		doc.Parameters = append(doc.Parameters, o)
	}
	return doc
}
