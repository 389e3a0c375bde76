package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// SMA calculates the Simple Moving Average
func SMA(values []float64, period int) []float64 {
	if period < 1 || period > len(values) {
		return nanSeries(len(values))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	return align(collect(sma.Compute(toChan(values))), len(values))
}
