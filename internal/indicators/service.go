// Package indicators wraps cinar/indicator computations as aligned series.
//
// Every function returns a slice of the same length as its input. Bars that fall inside an
// indicator's idle (warm-up) period hold NaN.
package indicators

import (
	"fmt"
	"math"
	"strings"
)

// MAType identifies a moving average family
type MAType string

const (
	MATypeSMA MAType = "SMA"
	MATypeEMA MAType = "EMA"
)

// ParseMAType normalises a moving average name
func ParseMAType(name string) (MAType, error) {
	switch MAType(strings.ToUpper(strings.TrimSpace(name))) {
	case MATypeSMA:
		return MATypeSMA, nil
	case MATypeEMA:
		return MATypeEMA, nil
	default:
		return "", fmt.Errorf("unknown moving average type: %q", name)
	}
}

// MovingAverage computes the moving average of the given type
func MovingAverage(kind MAType, values []float64, period int) ([]float64, error) {
	switch kind {
	case MATypeSMA:
		return SMA(values, period), nil
	case MATypeEMA:
		return EMA(values, period), nil
	default:
		return nil, fmt.Errorf("unknown moving average type: %q", kind)
	}
}

// toChan feeds a slice into a closed, buffered channel
func toChan(values []float64) <-chan float64 {
	c := make(chan float64, len(values))
	for _, v := range values {
		c <- v
	}
	close(c)
	return c
}

// collect drains a result channel
func collect(c <-chan float64) []float64 {
	var out []float64
	for v := range c {
		out = append(out, v)
	}
	return out
}

// align right-aligns computed values against an input of length n,
// padding the idle prefix with NaN.
func align(out []float64, n int) []float64 {
	series := nanSeries(n)
	if len(out) > n {
		out = out[len(out)-n:]
	}
	copy(series[n-len(out):], out)
	return series
}

func nanSeries(n int) []float64 {
	series := make([]float64, n)
	for i := range series {
		series[i] = math.NaN()
	}
	return series
}
