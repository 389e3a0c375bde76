package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// Lowest returns the rolling minimum over period bars, current bar included
func Lowest(values []float64, period int) []float64 {
	if period < 1 || period > len(values) {
		return nanSeries(len(values))
	}

	mmin := trend.NewMovingMinWithPeriod[float64](period)
	return align(collect(mmin.Compute(toChan(values))), len(values))
}

// Highest returns the rolling maximum over period bars, current bar included
func Highest(values []float64, period int) []float64 {
	if period < 1 || period > len(values) {
		return nanSeries(len(values))
	}

	mmax := trend.NewMovingMaxWithPeriod[float64](period)
	return align(collect(mmax.Compute(toChan(values))), len(values))
}
