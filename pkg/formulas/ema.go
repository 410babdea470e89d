// Package formulas provides shared numeric helpers for yield smoothing.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SmoothedAPY returns an exponentially weighted average of an APY series.
// The last value of the EMA is used so that recent observations dominate while
// a single noisy quote cannot swing the blended-yield heuristic.
//
// Falls back to the arithmetic mean when the series is shorter than the
// requested period. Returns 0 for an empty series.
func SmoothedAPY(apys []float64, period int) float64 {
	if len(apys) == 0 {
		return 0
	}
	if period < 2 || len(apys) < period {
		return Mean(apys)
	}

	ema := talib.Ema(apys, period)
	if len(ema) > 0 && !math.IsNaN(ema[len(ema)-1]) {
		return ema[len(ema)-1]
	}
	return Mean(apys[len(apys)-period:])
}

// SMA returns the simple moving average of the last `period` values, or nil
// when there is not enough data.
func SMA(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	sma := talib.Sma(values, period)
	if len(sma) > 0 && !math.IsNaN(sma[len(sma)-1]) {
		v := sma[len(sma)-1]
		return &v
	}
	return nil
}

// Mean returns the arithmetic mean of the series, 0 for an empty series.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
