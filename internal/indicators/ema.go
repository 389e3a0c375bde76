package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// EMA calculates the Exponential Moving Average
func EMA(values []float64, period int) []float64 {
	if period < 1 || period > len(values) {
		return nanSeries(len(values))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	return align(collect(ema.Compute(toChan(values))), len(values))
}
