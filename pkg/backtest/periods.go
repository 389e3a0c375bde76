// Date period splitting into in-sample, forward-test and out-of-sample windows
package backtest

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyPeriod is returned when the in-sample period collapses to nothing
var ErrEmptyPeriod = errors.New("in-sample period is empty")

const day = 24 * time.Hour

// Period is an inclusive range of calendar days
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days covered, 0 for an unset period
func (p Period) Days() int {
	if p.Start.IsZero() || p.End.Before(p.Start) {
		return 0
	}
	return calendarDays(p.Start, p.End) + 1
}

// Contains reports whether t falls on a day inside the period
func (p Period) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// String formats the period as start..end
func (p Period) String() string {
	return fmt.Sprintf("%s..%s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

// PeriodSplit holds the three disjoint windows; FT and OOS are zero when not requested
type PeriodSplit struct {
	IS  Period `json:"is"`
	FT  Period `json:"ft"`
	OOS Period `json:"oos"`
}

// HasFT reports whether a forward-test window was carved
func (s *PeriodSplit) HasFT() bool { return !s.FT.Start.IsZero() }

// HasOOS reports whether an out-of-sample window was carved
func (s *PeriodSplit) HasOOS() bool { return !s.OOS.Start.IsZero() }

// SplitPeriods carves OOS days from the tail, then FT days before it, leaving IS at
// the front. All bounds are inclusive and consecutive windows share no day.
func SplitPeriods(start, end time.Time, oosDays, ftDays int) (*PeriodSplit, error) {
	if oosDays < 0 || ftDays < 0 {
		return nil, fmt.Errorf("period lengths must not be negative (oos=%d, ft=%d)", oosDays, ftDays)
	}

	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	split := &PeriodSplit{}
	cursor := end

	if oosDays > 0 {
		oosStart := cursor.AddDate(0, 0, -(oosDays - 1))
		split.OOS = Period{Start: oosStart, End: cursor}
		cursor = oosStart.AddDate(0, 0, -1)
	}

	if ftDays > 0 {
		ftStart := cursor.AddDate(0, 0, -(ftDays - 1))
		split.FT = Period{Start: ftStart, End: cursor}
		cursor = ftStart.AddDate(0, 0, -1)
	}

	if cursor.Before(start) {
		return nil, fmt.Errorf("%w: %d oos days and %d ft days leave nothing of %s..%s",
			ErrEmptyPeriod, oosDays, ftDays, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	split.IS = Period{Start: start, End: cursor}

	return split, nil
}

// SlicePeriod returns the bars inside period preceded by up to warmupBars earlier
// bars, and the index of the first in-period bar within the returned slice.
// series must be sorted by timestamp.
func SlicePeriod(series []*Candlestick, period Period, warmupBars int) ([]*Candlestick, int, error) {
	first, last := -1, -1
	for i, c := range series {
		if !period.Contains(c.Timestamp) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}

	if first < 0 {
		return nil, 0, fmt.Errorf("no bars in period %s", period)
	}

	from := first - warmupBars
	if from < 0 {
		from = 0
	}
	return series[from : last+1], first - from, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
