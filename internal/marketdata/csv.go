package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// csvColumns is the required header, in any order
var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// timestampLayouts are tried in order for non-numeric timestamps
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CSVLoader reads bars from a file with a timestamp,open,high,low,close,volume header.
// Timestamps are RFC 3339, "2006-01-02 15:04:05" (UTC) or Unix seconds/milliseconds.
type CSVLoader struct {
	Path string
}

// NewCSVLoader creates a CSV bar loader
func NewCSVLoader(path string) *CSVLoader {
	return &CSVLoader{Path: path}
}

// Load implements Loader. Symbol, exchange and interval are not stored in the
// file; Symbol is copied onto every bar.
func (l *CSVLoader) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()

	bars, err := ReadCSV(ctx, f, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.Path, err)
	}

	log.Info().
		Str("path", l.Path).
		Str("symbol", q.Symbol).
		Int("bars", len(bars)).
		Msg("Loaded bars from CSV")

	return bars, nil
}

// ReadCSV parses bars from r, keeping those inside the query range
func ReadCSV(ctx context.Context, r io.Reader, q Query) ([]*backtest.Candlestick, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var bars []*backtest.Candlestick
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar, err := parseRecord(record, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !q.contains(bar.Timestamp) {
			continue
		}
		bar.Symbol = q.Symbol
		bars = append(bars, bar)
	}

	if err := checkSeries(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	// Accept the common "time" and "date" spellings
	if _, ok := index["timestamp"]; !ok {
		for _, alias := range []string{"time", "date", "open_time"} {
			if i, ok := index[alias]; ok {
				index["timestamp"] = i
				break
			}
		}
	}

	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int) (*backtest.Candlestick, error) {
	field := func(name string) string {
		i := index[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	ts, err := ParseTimestamp(field("timestamp"))
	if err != nil {
		return nil, err
	}

	bar := &backtest.Candlestick{Timestamp: ts}
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	} {
		v, err := strconv.ParseFloat(field(f.name), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return bar, nil
}

// ParseTimestamp parses a bar timestamp. Integers above 1e11 are taken as
// Unix milliseconds, smaller ones as seconds.
func ParseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
