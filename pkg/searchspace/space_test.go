package searchspace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

func floatPtr(v float64) *float64 { return &v }

func testSchema() []*backtest.Parameter {
	return []*backtest.Parameter{
		{Name: "ma_type", Type: backtest.ParamTypeCategorical, Default: "EMA", Values: []string{"SMA", "EMA", "WMA"}, Enabled: true},
		{Name: "ma_length", Type: backtest.ParamTypeInt, Default: 50, Min: 5, Max: 300, Step: 5, OptMin: floatPtr(10), OptMax: floatPtr(100), Enabled: true},
		{Name: "stop_atr_mult", Type: backtest.ParamTypeFloat, Default: 2.0, Min: 0.5, Max: 5.0, Step: 0.1, Enabled: true},
		{Name: "allow_short", Type: backtest.ParamTypeBool, Default: true, Enabled: true},
		{Name: "risk_pct", Type: backtest.ParamTypeFloat, Default: 2.0, Min: 0.1, Max: 10.0, Step: 0.1},
	}
}

func TestBuildClassifiesDimensions(t *testing.T) {
	space, err := Build(testSchema())
	require.NoError(t, err)

	require.Len(t, space.Dimensions, 4)
	assert.Len(t, space.Numeric(), 2)
	assert.Len(t, space.Categorical(), 2)
	assert.Equal(t, backtest.ParameterSet{"risk_pct": 2.0}, space.Fixed)

	length, ok := space.Dimension("ma_length")
	require.True(t, ok)
	assert.Equal(t, KindInt, length.Kind)
	assert.Equal(t, 10.0, length.Low)
	assert.Equal(t, 100.0, length.High)
	assert.Equal(t, 5.0, length.Step)

	short, ok := space.Dimension("allow_short")
	require.True(t, ok)
	assert.True(t, short.Bool)
	assert.Equal(t, []string{"false", "true"}, short.Options)
}

func TestBuildRejectsInvalidSchema(t *testing.T) {
	_, err := Build([]*backtest.Parameter{
		{Name: "a", Type: backtest.ParamTypeInt, Min: 10, Max: 1, Enabled: true},
	})
	assert.Error(t, err)

	_, err = Build([]*backtest.Parameter{
		{Name: "a", Type: backtest.ParamTypeInt, Min: 1, Max: 10, Enabled: true},
		{Name: "a", Type: backtest.ParamTypeInt, Min: 1, Max: 10, Enabled: true},
	})
	assert.Error(t, err)

	_, err = Build([]*backtest.Parameter{
		{Name: "a", Type: backtest.ParamTypeInt, Min: 1, Max: 10, OptMin: floatPtr(20), Enabled: true},
	})
	assert.Error(t, err)
}

func TestDimensionValue(t *testing.T) {
	tests := []struct {
		name string
		dim  *Dimension
		t    float64
		want interface{}
	}{
		{"int low", &Dimension{Kind: KindInt, Low: 10, High: 100, Step: 5}, 0, 10},
		{"int high", &Dimension{Kind: KindInt, Low: 10, High: 100, Step: 5}, 1, 100},
		{"int rounds to step", &Dimension{Kind: KindInt, Low: 10, High: 100, Step: 5}, 0.51, 55},
		{"float grid", &Dimension{Kind: KindFloat, Low: 0.5, High: 5, Step: 0.1}, 0.6, 3.2},
		{"float clamps above", &Dimension{Kind: KindFloat, Low: 0.5, High: 5, Step: 2}, 1, 5.0},
		{"float continuous", &Dimension{Kind: KindFloat, Low: 0, High: 2}, 0.25, 0.5},
		{"categorical first", &Dimension{Kind: KindCategorical, Options: []string{"a", "b", "c"}}, 0, "a"},
		{"categorical last", &Dimension{Kind: KindCategorical, Options: []string{"a", "b", "c"}}, 1, "c"},
		{"bool", &Dimension{Kind: KindCategorical, Options: []string{"false", "true"}, Bool: true}, 0.9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dim.Value(tt.t))
		})
	}
}

func TestDimensionNormalizeRoundTrip(t *testing.T) {
	space, err := Build(testSchema())
	require.NoError(t, err)

	for _, d := range space.Dimensions {
		for _, u := range []float64{0, 0.2, 0.5, 0.99} {
			v := d.Value(u)
			norm, err := d.Normalize(v)
			require.NoError(t, err)
			assert.Equal(t, v, d.Value(norm), d.Name)
		}
	}
}

func TestDenormalize(t *testing.T) {
	space, err := Build(testSchema())
	require.NoError(t, err)

	params, err := space.Denormalize([]float64{0, 0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, backtest.ParameterSet{
		"ma_type":       "SMA",
		"ma_length":     10,
		"stop_atr_mult": 5.0,
		"allow_short":   true,
		"risk_pct":      2.0,
	}, params)

	_, err = space.Denormalize([]float64{0.5})
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	space, err := Build(testSchema())
	require.NoError(t, err)

	var decoded backtest.ParameterSet
	require.NoError(t, json.Unmarshal([]byte(`{"ma_type":"EMA","ma_length":42,"stop_atr_mult":1.23,"allow_short":false}`), &decoded))

	params, err := space.Coerce(decoded)
	require.NoError(t, err)
	assert.Equal(t, 40, params["ma_length"])
	assert.Equal(t, 1.2, params["stop_atr_mult"])
	assert.Equal(t, false, params["allow_short"])
	assert.Equal(t, "EMA", params["ma_type"])
	assert.Equal(t, 2.0, params["risk_pct"])

	_, err = space.Coerce(backtest.ParameterSet{"ma_type": "EMA"})
	assert.Error(t, err)

	decoded["bogus"] = 1
	_, err = space.Coerce(decoded)
	assert.Error(t, err)
}
