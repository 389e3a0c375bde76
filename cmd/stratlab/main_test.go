package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel = "", ""

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = !c.Hidden
	}

	for _, name := range []string{"run", "backtest", "periods", "schema", "migrate"} {
		assert.True(t, names[name], "missing visible command %s", name)
	}
	visible, ok := names["worker"]
	assert.True(t, ok)
	assert.False(t, visible, "worker is started by run and stays hidden")
}

func TestPeriodsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data:
  csv_path: bars.csv
  start_date: "2025-05-01"
  end_date: "2025-11-20"
  oos_days: 30
  ft_days: 15
`), 0o600))

	out, err := execute(t, "periods", "--config", path, "--log-level", "error")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^IS\s+2025-05-01\s+2025-10-06`, lines[1])
	assert.Regexp(t, `^FT\s+2025-10-07\s+2025-10-21\s+15`, lines[2])
	assert.Regexp(t, `^OOS\s+2025-10-22\s+2025-11-20\s+30`, lines[3])
}

func TestSchemaExportCommand(t *testing.T) {
	out, err := execute(t, "schema", "export", "--format", "json")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "trail_ma", doc["strategy"])
	assert.NotEmpty(t, doc["parameters"])

	file := filepath.Join(t.TempDir(), "schema.yaml")
	_, err = execute(t, "schema", "export", "--output", file)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# StratLab parameter schema for trail_ma"))

	_, err = execute(t, "schema", "export", "--strategy", "grid_bot")
	assert.Error(t, err)
}

func TestSchemaListCommand(t *testing.T) {
	out, err := execute(t, "schema", "list")
	require.NoError(t, err)
	assert.Equal(t, "trail_ma\n", out)
}

func TestReadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ma_length": 55, "ma_type": "SMA"}`), 0o600))

	params, err := readParams(path, []string{"ma_type=EMA", "allow_short=false", "trail_ma_type=SMA"})
	require.NoError(t, err)
	assert.Equal(t, 55.0, params["ma_length"])
	assert.Equal(t, "EMA", params["ma_type"])
	assert.Equal(t, false, params["allow_short"])
	assert.Equal(t, "SMA", params["trail_ma_type"])

	_, err = readParams("", []string{"nonsense"})
	assert.Error(t, err)

	_, err = readParams(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.Error(t, err)
}
