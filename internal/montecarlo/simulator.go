// Package montecarlo provides parametric Monte Carlo projection of portfolio returns.
// Daily returns are drawn i.i.d. from a Normal distribution fitted to history.
package montecarlo

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

const (
	// DefaultSimulations is the number of simulated paths
	DefaultSimulations = 1000

	// DefaultHorizonDays is the number of trading days per path
	DefaultHorizonDays = 252

	// MaxSamplePaths bounds the trajectories returned for visualization
	MaxSamplePaths = 100
)

// Simulator performs Monte Carlo simulations
type Simulator struct {
	logger *zap.Logger
	config *SimulatorConfig
	src    rand.Source
	mu     sync.Mutex
}

// SimulatorConfig configures the simulator
type SimulatorConfig struct {
	NumSimulations int   // Number of Monte Carlo paths
	HorizonDays    int   // Trading days per path
	Seed           int64 // Random seed (0 for time-based)
}

// DefaultSimulatorConfig returns sensible defaults
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		NumSimulations: DefaultSimulations,
		HorizonDays:    DefaultHorizonDays,
		Seed:           0,
	}
}

// NewSimulator creates a new Monte Carlo simulator
func NewSimulator(logger *zap.Logger, config *SimulatorConfig) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return NewSimulatorWithSource(logger, config, rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// NewSimulatorWithSource creates a simulator drawing from the given random source
func NewSimulatorWithSource(logger *zap.Logger, config *SimulatorConfig, src rand.Source) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}
	return &Simulator{
		logger: logger,
		config: config,
		src:    src,
	}
}

// Config returns the simulator configuration
func (s *Simulator) Config() SimulatorConfig {
	return *s.config
}

// RunDefault runs the configured number of simulations over the configured horizon
func (s *Simulator) RunDefault(r []float64) types.MonteCarloSummary {
	return s.Run(r, s.config.NumSimulations, s.config.HorizonDays)
}

// Run simulates numSimulations paths of horizonDays returns each and
// summarizes the distribution of terminal values Π(1+r).
func (s *Simulator) Run(r []float64, numSimulations, horizonDays int) types.MonteCarloSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if numSimulations <= 0 {
		numSimulations = DefaultSimulations
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	mean, sigma := estimate(r)
	normal := distuv.Normal{Mu: mean, Sigma: sigma, Src: s.src}

	finals := make([]float64, numSimulations)
	keep := min(numSimulations, MaxSamplePaths)
	paths := make([][]float64, 0, keep)

	for i := 0; i < numSimulations; i++ {
		var path []float64
		if i < keep {
			path = make([]float64, horizonDays)
		}

		value := 1.0
		for t := 0; t < horizonDays; t++ {
			value *= 1 + normal.Rand()
			if path != nil {
				path[t] = value
			}
		}

		finals[i] = value
		if path != nil {
			paths = append(paths, path)
		}
	}

	sorted := make([]float64, len(finals))
	copy(sorted, finals)
	sort.Float64s(sorted)

	summary := types.MonteCarloSummary{
		NumSimulations: numSimulations,
		HorizonDays:    horizonDays,
		MeanFinalValue: utils.Finite(stat.Mean(finals, nil)),
		StdFinalValue:  utils.Finite(math.Sqrt(stat.PopVariance(finals, nil))),
		Percentile5:    utils.Finite(utils.PercentileSorted(sorted, 5)),
		Percentile95:   utils.Finite(utils.PercentileSorted(sorted, 95)),
		SamplePaths:    paths,
	}

	s.logger.Debug("Monte Carlo simulation complete",
		zap.Int("simulations", numSimulations),
		zap.Int("horizonDays", horizonDays),
		zap.Float64("mean", summary.MeanFinalValue),
		zap.Float64("p5", summary.Percentile5),
		zap.Float64("p95", summary.Percentile95),
	)

	return summary
}

// estimate returns the sample mean and standard deviation of r, with
// degenerate inputs collapsing to zero.
func estimate(r []float64) (float64, float64) {
	if len(r) == 0 {
		return 0, 0
	}
	mean := utils.Finite(stat.Mean(r, nil))
	if len(r) < 2 {
		return mean, 0
	}
	return mean, utils.Finite(stat.StdDev(r, nil))
}
