package montecarlo

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSimulator(seed uint64) *Simulator {
	return NewSimulatorWithSource(zap.NewNop(), DefaultSimulatorConfig(), rand.NewPCG(seed, seed+1))
}

func TestRunZeroVarianceIsDeterministic(t *testing.T) {
	sim := newTestSimulator(1)

	summary := sim.Run([]float64{0, 0, 0, 0}, 200, 30)

	assert.Equal(t, 1.0, summary.MeanFinalValue)
	assert.Equal(t, 1.0, summary.Percentile5)
	assert.Equal(t, 1.0, summary.Percentile95)
	assert.Equal(t, 0.0, summary.StdFinalValue)

	for _, path := range summary.SamplePaths {
		for _, v := range path {
			require.Equal(t, 1.0, v)
		}
	}
}

func TestRunSameSeedSameOutput(t *testing.T) {
	r := []float64{0.01, -0.02, 0.015, 0.003, -0.007, 0.02}

	a := newTestSimulator(42).Run(r, 300, 50)
	b := newTestSimulator(42).Run(r, 300, 50)

	assert.Equal(t, a, b)
}

func TestRunDifferentSeedsDiffer(t *testing.T) {
	r := []float64{0.01, -0.02, 0.015, 0.003, -0.007, 0.02}

	a := newTestSimulator(1).Run(r, 300, 50)
	b := newTestSimulator(2).Run(r, 300, 50)

	assert.NotEqual(t, a.MeanFinalValue, b.MeanFinalValue)
}

func TestRunBoundsSamplePaths(t *testing.T) {
	sim := newTestSimulator(7)

	summary := sim.Run([]float64{0.01, -0.01, 0.02}, 500, 10)
	require.Len(t, summary.SamplePaths, MaxSamplePaths)
	for _, path := range summary.SamplePaths {
		assert.Len(t, path, 10)
	}

	small := sim.Run([]float64{0.01, -0.01, 0.02}, 5, 10)
	assert.Len(t, small.SamplePaths, 5)
}

func TestRunSamplePathEndsAtTerminalValue(t *testing.T) {
	sim := newTestSimulator(3)

	summary := sim.Run([]float64{0.01, -0.01, 0.02, 0.0}, 1, 20)
	require.Len(t, summary.SamplePaths, 1)

	path := summary.SamplePaths[0]
	assert.Equal(t, summary.MeanFinalValue, path[len(path)-1])
}

func TestRunAppliesDefaults(t *testing.T) {
	sim := newTestSimulator(9)

	summary := sim.Run([]float64{0.001, 0.002}, 0, -1)
	assert.Equal(t, DefaultSimulations, summary.NumSimulations)
	assert.Equal(t, DefaultHorizonDays, summary.HorizonDays)
}

func TestRunPercentileOrdering(t *testing.T) {
	sim := newTestSimulator(11)

	summary := sim.Run([]float64{0.01, -0.02, 0.015, 0.003, -0.007}, 1000, 60)
	assert.LessOrEqual(t, summary.Percentile5, summary.MeanFinalValue)
	assert.LessOrEqual(t, summary.MeanFinalValue, summary.Percentile95)
	assert.Greater(t, summary.StdFinalValue, 0.0)
}

func TestEstimate(t *testing.T) {
	mean, sigma := estimate(nil)
	assert.Zero(t, mean)
	assert.Zero(t, sigma)

	mean, sigma = estimate([]float64{0.05})
	assert.Equal(t, 0.05, mean)
	assert.Zero(t, sigma)

	mean, sigma = estimate([]float64{1, 3})
	assert.InDelta(t, 2.0, mean, 1e-12)
	assert.InDelta(t, 1.4142135623730951, sigma, 1e-12)
}
