package strategy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

func TestGetMigrationPath(t *testing.T) {
	tests := []struct {
		name        string
		fromVersion string
		toVersion   string
		want        []string
		errContains string
	}{
		{name: "same version returns empty path", fromVersion: "1.1", toVersion: "1.1", want: []string{}},
		{name: "newer to older returns empty path", fromVersion: "2.0", toVersion: "1.0", want: []string{}},
		{name: "upgrade from 1.0 to 1.1", fromVersion: "1.0", toVersion: "1.1", want: []string{"1.1"}},
		{name: "handles version with .0 suffix", fromVersion: "1.0.0", toVersion: "1.1.0", want: []string{"1.1"}},
		{name: "invalid from version", fromVersion: "invalid", toVersion: "1.1", errContains: "invalid from version"},
		{name: "invalid to version", fromVersion: "1.0", toVersion: "invalid", errContains: "invalid to version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := GetMigrationPath(tt.fromVersion, tt.toVersion)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
		})
	}
}

func TestMigrate_RangeToOptBounds(t *testing.T) {
	data := []byte(`
schema_version: "1.0"
strategy: trail_ma
parameters:
  - name: ma_length
    range: [20, 80]
  - name: reward_ratio
    range: [2, 4]
    opt_max: 3.5
`)

	doc, err := Import(data)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)

	require.Len(t, doc.Parameters, 2)
	assert.Nil(t, doc.Parameters[0].Range)
	assert.Equal(t, 20.0, *doc.Parameters[0].OptMin)
	assert.Equal(t, 80.0, *doc.Parameters[0].OptMax)

	// Explicit opt bounds win over the legacy range
	assert.Equal(t, 2.0, *doc.Parameters[1].OptMin)
	assert.Equal(t, 3.5, *doc.Parameters[1].OptMax)

	params, err := doc.Apply(backtest.NewTrailMAStrategy().Schema())
	require.NoError(t, err)
	low, high := params[1].Bounds()
	assert.Equal(t, 20.0, low)
	assert.Equal(t, 80.0, high)
}

func TestMigrate_Errors(t *testing.T) {
	assert.Error(t, Migrate(nil))

	bad := &Document{SchemaVersion: "1.0", Parameters: []ParameterOverride{{Name: "ma_length", Range: []float64{1}}}}
	err := Migrate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly two values")

	assert.True(t, errors.Is(Migrate(&Document{SchemaVersion: "0.9"}), ErrInvalidSchema))
	assert.True(t, errors.Is(Migrate(&Document{SchemaVersion: "1.5"}), ErrInvalidSchema))
	assert.Error(t, Migrate(&Document{}))

	// A 1.1 document still spelling range is rejected by validation
	doc := &Document{SchemaVersion: SchemaVersion, Parameters: []ParameterOverride{{Name: "ma_length", Range: []float64{1, 2}}}}
	require.NoError(t, Migrate(doc))
	assert.Error(t, doc.Validate())
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"1.0", false},
		{"1.1", false},
		{"1.1.3", false},
		{"1.2", true},
		{"2.0", true},
		{"0.9", true},
		{"abc", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := CheckCompatibility(&Document{SchemaVersion: tt.version})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, CheckCompatibility(nil))
}

func TestCompareVersions(t *testing.T) {
	cmp, err := CompareVersions("1.0", "1.1")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = CompareVersions("1.1.0", "1.1")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	cmp, err = CompareVersions("2.0", "1.1")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	_, err = CompareVersions("x", "1.1")
	assert.Error(t, err)
}

func TestIsVersionSupported(t *testing.T) {
	assert.True(t, IsVersionSupported("1.0"))
	assert.True(t, IsVersionSupported("1.1.7"))
	assert.False(t, IsVersionSupported("1.2"))
	assert.False(t, IsVersionSupported("not-a-version"))
}
