package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSmoothedAPY_EmptySeries(t *testing.T) {
	assert.Equal(t, 0.0, SmoothedAPY(nil, 5))
}

func TestSmoothedAPY_ShortSeriesFallsBackToMean(t *testing.T) {
	apys := []float64{0.04, 0.06}
	assert.InDelta(t, 0.05, SmoothedAPY(apys, 5), 1e-9)
}

func TestSmoothedAPY_RecentValuesDominate(t *testing.T) {
	// Flat series then a jump: EMA should land between old level and new level,
	// closer to the new one than the plain mean of the whole series.
	apys := []float64{0.02, 0.02, 0.02, 0.02, 0.02, 0.08, 0.08, 0.08}
	smoothed := SmoothedAPY(apys, 3)
	assert.Greater(t, smoothed, Mean(apys))
	assert.Less(t, smoothed, 0.08+1e-9)
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	sma := SMA(values, 2)
	assert.NotNil(t, sma)
	assert.InDelta(t, 3.5, *sma, 1e-9)

	assert.Nil(t, SMA(values, 5))
	assert.Nil(t, SMA(values, 0))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
}
