package risk

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

const (
	// MaxRecoveryDays is reported when the portfolio has no positive drift
	MaxRecoveryDays = 9999

	highRiskLossPct     = 50.0
	moderateRiskLossPct = 30.0
	highVolatilityPct   = 25.0
)

// NotionalValue is the portfolio value every scenario is applied to
var NotionalValue = decimal.NewFromInt(100000)

const (
	RecommendationHighRisk       = "High risk: average scenario loss exceeds 50%. Consider hedging or reducing exposure to correlated assets."
	RecommendationModerateRisk   = "Moderate risk: average scenario loss exceeds 30%. Review diversification across asset classes."
	RecommendationHighVolatility = "Elevated volatility: annualized volatility exceeds 25%. Consider tighter position sizing."
	RecommendationWellPositioned = "Portfolio is well-positioned to withstand the historical stress scenarios."
)

var scenarios = []types.StressScenario{
	{Name: "market_crash", Description: "Broad equity market crash", Shock: -0.30},
	{Name: "black_monday", Description: "Black Monday, October 1987", Shock: -0.22},
	{Name: "dot_com_crash", Description: "Dot-com bubble collapse, 2000-2002", Shock: -0.78},
	{Name: "financial_crisis", Description: "Global financial crisis, 2007-2009", Shock: -0.57},
	{Name: "covid_crash", Description: "COVID-19 sell-off, February-March 2020", Shock: -0.34},
}

// Scenarios returns a copy of the fixed stress scenario catalog
func Scenarios() []types.StressScenario {
	out := make([]types.StressScenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// RunStressTest applies every catalog scenario to the notional portfolio and
// estimates recovery time from the historical drift of series.
func RunStressTest(series returns.Series) types.StressTestResult {
	r := series.Values()

	var mean float64
	if len(r) > 0 {
		mean = utils.Finite(stat.Mean(r, nil))
	}

	outcomes := make([]types.ScenarioOutcome, 0, len(scenarios))
	shocks := make([]float64, 0, len(scenarios))
	for _, sc := range scenarios {
		outcomes = append(outcomes, applyScenario(sc, NotionalValue, mean))
		shocks = append(shocks, sc.Shock)
	}

	resilience := types.ResilienceMetrics{
		WorstCaseShock:   floats.Min(shocks),
		AverageShock:     utils.Finite(stat.Mean(shocks, nil)),
		AnnualVolatility: AnnualVolatility(r) * 100,
		MeanDailyReturn:  mean,
	}
	if len(r) > 0 {
		resilience.WorstDailyReturn = floats.Min(r)
	}

	return types.StressTestResult{
		NotionalValue:  NotionalValue,
		Scenarios:      outcomes,
		Resilience:     resilience,
		Recommendation: Recommend(math.Abs(resilience.AverageShock)*100, resilience.AnnualVolatility),
	}
}

func applyScenario(sc types.StressScenario, notional decimal.Decimal, meanDailyReturn float64) types.ScenarioOutcome {
	shock := decimal.NewFromFloat(sc.Shock)
	after := notional.Mul(decimal.NewFromInt(1).Add(shock))

	return types.ScenarioOutcome{
		Scenario:              sc,
		ValueBefore:           notional,
		ValueAfter:            after,
		AbsoluteLoss:          notional.Sub(after),
		LossPercent:           math.Abs(sc.Shock) * 100,
		EstimatedRecoveryDays: RecoveryDays(sc.Shock, meanDailyReturn),
	}
}

// RecoveryDays estimates the trading days needed to recover from shock at the
// given mean daily return: ceil(ln(1/(1-|shock|)) / mean), or MaxRecoveryDays
// when mean is not positive.
func RecoveryDays(shock, meanDailyReturn float64) int {
	if meanDailyReturn <= 0 {
		return MaxRecoveryDays
	}

	loss := math.Abs(shock)
	if loss >= 1 {
		return MaxRecoveryDays
	}

	days := math.Ceil(math.Log(1/(1-loss)) / meanDailyReturn)
	if math.IsNaN(days) || days > MaxRecoveryDays {
		return MaxRecoveryDays
	}
	return int(days)
}

// Recommend maps the average scenario loss and annualized volatility, both in
// percent, to a risk tier recommendation.
func Recommend(averageLossPct, annualVolatilityPct float64) string {
	switch {
	case averageLossPct > highRiskLossPct:
		return RecommendationHighRisk
	case averageLossPct > moderateRiskLossPct:
		return RecommendationModerateRisk
	case annualVolatilityPct > highVolatilityPct:
		return RecommendationHighVolatility
	default:
		return RecommendationWellPositioned
	}
}
