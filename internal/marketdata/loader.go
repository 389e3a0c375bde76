// Package marketdata loads the OHLCV bar series a run optimizes over.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// Query selects a bar series. A zero Start or End leaves that side unbounded;
// End is exclusive.
type Query struct {
	Symbol   string
	Exchange string
	Interval string
	Start    time.Time
	End      time.Time
}

// String identifies the query in logs and cache keys
func (q Query) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", q.Exchange, q.Symbol, q.Interval, formatBound(q.Start), formatBound(q.End))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func (q Query) contains(t time.Time) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false
	}
	return true
}

// Loader loads bars sorted by timestamp
type Loader interface {
	Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error)
}

// ThroughDay returns the exclusive bound that includes every bar on day
func ThroughDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// checkSeries sorts bars by time and rejects duplicates and malformed prices
func checkSeries(bars []*backtest.Candlestick) error {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	for i, b := range bars {
		if i > 0 && b.Timestamp.Equal(bars[i-1].Timestamp) {
			return fmt.Errorf("duplicate bar at %s", b.Timestamp.Format(time.RFC3339))
		}
		if b.High < b.Low || b.Open <= 0 || b.Close <= 0 || b.Low <= 0 {
			return fmt.Errorf("malformed bar at %s", b.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
