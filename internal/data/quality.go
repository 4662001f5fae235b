package data

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

// Issue severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Issue types
const (
	IssueNoData           = "NO_DATA"
	IssueGap              = "GAP_DETECTED"
	IssueInvalidClose     = "INVALID_CLOSE"
	IssueExtremeMove      = "EXTREME_MOVE"
	IssueOHLCInconsistent = "OHLC_INCONSISTENT"
	IssueZeroVolume       = "ZERO_VOLUME"
)

// QualityValidator checks stored price history before it feeds risk or
// backtest computations.
type QualityValidator struct {
	logger *zap.Logger

	MaxGapDays     int     // Calendar days between bars before a gap is reported
	MaxDailyMove   float64 // Close-to-close move reported as extreme (0.20 = 20%)
	MinScoreUsable int     // Score below which history is flagged unusable
}

// QualityIssue is one problem found in a price series
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Date     string `json:"date"`
	BarIndex int    `json:"barIndex"`
	Message  string `json:"message"`
}

// QualityReport summarizes the quality of a symbol's stored history
type QualityReport struct {
	Symbol       string          `json:"symbol"`
	AssetType    types.AssetType `json:"assetType"`
	TotalBars    int             `json:"totalBars"`
	StartDate    string          `json:"startDate,omitempty"`
	EndDate      string          `json:"endDate,omitempty"`
	Issues       []QualityIssue  `json:"issues"`
	QualityScore int             `json:"qualityScore"` // 0-100
	IsUsable     bool            `json:"isUsable"`
}

// NewQualityValidator creates a validator with thresholds for the asset type.
// Stocks skip weekends and holidays; crypto trades every day.
func NewQualityValidator(logger *zap.Logger, assetType types.AssetType) *QualityValidator {
	v := &QualityValidator{
		logger:         logger,
		MaxGapDays:     4,
		MaxDailyMove:   0.20,
		MinScoreUsable: 70,
	}
	if assetType == types.AssetTypeCrypto {
		v.MaxGapDays = 2
		v.MaxDailyMove = 0.30
	}
	return v
}

// Validate runs every check over bars, which must be in timestamp order.
func (v *QualityValidator) Validate(symbol string, assetType types.AssetType, bars []types.PricePoint) QualityReport {
	report := QualityReport{
		Symbol:    symbol,
		AssetType: assetType,
		TotalBars: len(bars),
		Issues:    []QualityIssue{},
	}

	if len(bars) == 0 {
		report.Issues = append(report.Issues, QualityIssue{
			Type:     IssueNoData,
			Severity: SeverityCritical,
			BarIndex: -1,
			Message:  "no stored bars",
		})
		return report
	}

	report.StartDate = dateOf(bars[0].Timestamp)
	report.EndDate = dateOf(bars[len(bars)-1].Timestamp)

	report.Issues = append(report.Issues, v.checkGaps(bars)...)
	report.Issues = append(report.Issues, v.checkPrices(bars)...)
	report.Issues = append(report.Issues, v.checkOHLC(bars)...)
	report.Issues = append(report.Issues, v.checkVolume(bars)...)

	report.QualityScore = score(report.Issues)
	report.IsUsable = report.QualityScore >= v.MinScoreUsable && !hasCritical(report.Issues)

	if !report.IsUsable {
		v.logger.Warn("Price history failed quality checks",
			zap.String("symbol", symbol),
			zap.Int("score", report.QualityScore),
			zap.Int("issues", len(report.Issues)),
		)
	}

	return report
}

func dateOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func issueAt(bars []types.PricePoint, i int, typ, severity, msg string) QualityIssue {
	return QualityIssue{
		Type:     typ,
		Severity: severity,
		Date:     dateOf(bars[i].Timestamp),
		BarIndex: i,
		Message:  msg,
	}
}

// checkGaps finds calendar gaps longer than MaxGapDays
func (v *QualityValidator) checkGaps(bars []types.PricePoint) []QualityIssue {
	var issues []QualityIssue
	for i := 1; i < len(bars); i++ {
		days := int(bars[i].Timestamp.Sub(bars[i-1].Timestamp).Hours() / 24)
		if days <= v.MaxGapDays {
			continue
		}
		severity := SeverityHigh
		if days > 5*v.MaxGapDays {
			severity = SeverityCritical
		}
		issues = append(issues, issueAt(bars, i, IssueGap, severity,
			fmt.Sprintf("%d days since previous bar", days)))
	}
	return issues
}

// checkPrices finds unusable closes and extreme close-to-close moves
func (v *QualityValidator) checkPrices(bars []types.PricePoint) []QualityIssue {
	var issues []QualityIssue
	prev := math.NaN()

	for i, bar := range bars {
		c := bar.Close.InexactFloat64()
		if !(c > 0) || math.IsInf(c, 0) {
			issues = append(issues, issueAt(bars, i, IssueInvalidClose, SeverityCritical,
				"close is not a positive price: "+bar.Close.String()))
			continue
		}

		if !math.IsNaN(prev) {
			if move := c/prev - 1; math.Abs(move) > v.MaxDailyMove {
				issues = append(issues, issueAt(bars, i, IssueExtremeMove, SeverityMedium,
					"close moved "+utils.FormatPercent(move)))
			}
		}
		prev = c
	}
	return issues
}

// checkOHLC finds bars whose high and low do not bracket open and close.
// Bars carrying only a close (zero open, high and low) are accepted.
func (v *QualityValidator) checkOHLC(bars []types.PricePoint) []QualityIssue {
	var issues []QualityIssue
	for i, bar := range bars {
		if bar.High.IsZero() && bar.Low.IsZero() {
			continue
		}
		if bar.High.LessThan(bar.Low) ||
			bar.Close.GreaterThan(bar.High) || bar.Close.LessThan(bar.Low) ||
			(!bar.Open.IsZero() && (bar.Open.GreaterThan(bar.High) || bar.Open.LessThan(bar.Low))) {
			issues = append(issues, issueAt(bars, i, IssueOHLCInconsistent, SeverityHigh,
				fmt.Sprintf("O=%s H=%s L=%s C=%s", bar.Open, bar.High, bar.Low, bar.Close)))
		}
	}
	return issues
}

func (v *QualityValidator) checkVolume(bars []types.PricePoint) []QualityIssue {
	var issues []QualityIssue
	for i, bar := range bars {
		if bar.Volume <= 0 {
			issues = append(issues, issueAt(bars, i, IssueZeroVolume, SeverityLow, "no volume"))
		}
	}
	return issues
}

func score(issues []QualityIssue) int {
	s := 100
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			s -= 25
		case SeverityHigh:
			s -= 10
		case SeverityMedium:
			s -= 3
		case SeverityLow:
			s--
		}
	}
	return max(s, 0)
}

func hasCritical(issues []QualityIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
