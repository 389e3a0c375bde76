package indicators

import (
	"github.com/cinar/indicator/v2/volatility"
)

// ATR calculates the Average True Range over high, low and close series of equal length
func ATR(high, low, closing []float64, period int) []float64 {
	n := len(closing)
	if period < 1 || period >= n || len(high) != n || len(low) != n {
		return nanSeries(n)
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	return align(collect(atr.Compute(toChan(high), toChan(low), toChan(closing))), n)
}
