// Package finance holds the pure scoring and indicator math used by the
// financial tools. Nothing here performs I/O.
package finance

import (
	"math"
	"strings"

	"finagent/internal/domain"
)

// Decision is the three-way recommendation derived from the total score.
type Decision string

const (
	Buy  Decision = "BUY"
	Hold Decision = "HOLD"
	Sell Decision = "SELL"
)

// Decision thresholds on the 0..10 weighted total.
const (
	BuyThreshold  = 7.5
	HoldThreshold = 6.0
)

// Metric keys, shared by the scores and weights maps.
const (
	MetricPE       = "pe"
	MetricROE      = "roe"
	MetricDebtEq   = "de"
	MetricBeta     = "beta"
	MetricDividend = "dividend"
	MetricGrowth   = "growth"
	MetricEVEBITDA = "evebitda"
)

// Weights are the fixed per-metric weights; they sum to 1.0.
var Weights = map[string]float64{
	MetricPE:       0.15,
	MetricROE:      0.20,
	MetricDebtEq:   0.15,
	MetricBeta:     0.10,
	MetricDividend: 0.10,
	MetricGrowth:   0.15,
	MetricEVEBITDA: 0.15,
}

// Metrics are the raw inputs of the score. nil means missing.
// ROE is a fraction (0.25 = 25%) as reported by market-data providers;
// dividend yield and revenue growth are fractions too.
type Metrics struct {
	PE            *float64
	ROE           *float64
	DebtToEquity  *float64
	Beta          *float64
	DividendYield *float64
	RevenueGrowth *float64
	EVToEBITDA    *float64
}

// MetricsFrom extracts the scoring inputs from provider fundamentals.
func MetricsFrom(f *domain.Fundamentals) Metrics {
	if f == nil {
		return Metrics{}
	}
	return Metrics{
		PE:            f.TrailingPE,
		ROE:           f.ReturnOnEquity,
		DebtToEquity:  f.DebtToEquity,
		Beta:          f.Beta,
		DividendYield: f.DividendYield,
		RevenueGrowth: f.RevenueGrowth,
		EVToEBITDA:    f.EnterpriseToEbitda,
	}
}

// RawMetrics is the provider-named view of the inputs in a report.
type RawMetrics struct {
	TrailingPE         *float64 `json:"trailingPE"`
	ReturnOnEquity     *float64 `json:"returnOnEquity"`
	DebtToEquity       *float64 `json:"debtToEquity"`
	Beta               *float64 `json:"beta"`
	DividendYield      *float64 `json:"dividendYield"`
	RevenueGrowth      *float64 `json:"revenueGrowth"`
	EnterpriseToEbitda *float64 `json:"enterpriseToEbitda"`
}

// Report is the output of the financial_score tool.
type Report struct {
	Ticker     string             `json:"ticker"`
	RawMetrics RawMetrics         `json:"raw_metrics"`
	Scores     map[string]int     `json:"scores"`
	Weights    map[string]float64 `json:"weights"`
	TotalScore float64            `json:"total_score"`
	Decision   Decision           `json:"decision"`
}

// ScorePE: cheaper is better.
func ScorePE(pe *float64) int {
	switch {
	case pe == nil:
		return 0
	case *pe < 15:
		return 10
	case *pe < 30:
		return 7
	case *pe < 45:
		return 5
	default:
		return 2
	}
}

// ScoreROE takes ROE in percent.
func ScoreROE(roePct *float64) int {
	switch {
	case roePct == nil:
		return 0
	case *roePct > 20:
		return 10
	case *roePct >= 10:
		return 7
	default:
		return 3
	}
}

// ScoreDebtToEquity: less leverage is better.
func ScoreDebtToEquity(de *float64) int {
	switch {
	case de == nil:
		return 0
	case *de < 1:
		return 10
	case *de <= 2:
		return 6
	default:
		return 2
	}
}

// ScoreBeta rewards market-like volatility.
func ScoreBeta(beta *float64) int {
	switch {
	case beta == nil:
		return 0
	case *beta >= 0.8 && *beta <= 1.2:
		return 10
	case *beta > 1.2 && *beta <= 1.5:
		return 7
	case *beta > 1.5 && *beta <= 2:
		return 5
	default:
		return 2
	}
}

func ScoreDividendYield(y *float64) int {
	switch {
	case y == nil:
		return 0
	case *y > 0.03:
		return 10
	case *y >= 0.01:
		return 7
	default:
		return 3
	}
}

func ScoreRevenueGrowth(g *float64) int {
	switch {
	case g == nil:
		return 0
	case *g > 0.10:
		return 10
	case *g >= 0:
		return 6
	default:
		return 2
	}
}

func ScoreEVToEBITDA(v *float64) int {
	switch {
	case v == nil:
		return 0
	case *v < 8:
		return 10
	case *v <= 14:
		return 6
	default:
		return 2
	}
}

// Scores maps every metric through its step function. Missing metrics score 0.
func Scores(m Metrics) map[string]int {
	var roePct *float64
	if m.ROE != nil {
		v := *m.ROE * 100
		roePct = &v
	}
	return map[string]int{
		MetricPE:       ScorePE(m.PE),
		MetricROE:      ScoreROE(roePct),
		MetricDebtEq:   ScoreDebtToEquity(m.DebtToEquity),
		MetricBeta:     ScoreBeta(m.Beta),
		MetricDividend: ScoreDividendYield(m.DividendYield),
		MetricGrowth:   ScoreRevenueGrowth(m.RevenueGrowth),
		MetricEVEBITDA: ScoreEVToEBITDA(m.EVToEBITDA),
	}
}

// Total is the weighted sum of scores, rounded to two decimals.
func Total(scores map[string]int) float64 {
	var total float64
	for k, w := range Weights {
		total += float64(scores[k]) * w
	}
	return math.Round(total*100) / 100
}

// Decide thresholds a total score.
func Decide(total float64) Decision {
	switch {
	case total >= BuyThreshold:
		return Buy
	case total >= HoldThreshold:
		return Hold
	default:
		return Sell
	}
}

// Analyze scores one ticker.
func Analyze(ticker string, m Metrics) Report {
	scores := Scores(m)
	total := Total(scores)
	weights := make(map[string]float64, len(Weights))
	for k, v := range Weights {
		weights[k] = v
	}
	return Report{
		Ticker: strings.ToUpper(strings.TrimSpace(ticker)),
		RawMetrics: RawMetrics{
			TrailingPE:         m.PE,
			ReturnOnEquity:     m.ROE,
			DebtToEquity:       m.DebtToEquity,
			Beta:               m.Beta,
			DividendYield:      m.DividendYield,
			RevenueGrowth:      m.RevenueGrowth,
			EnterpriseToEbitda: m.EVToEBITDA,
		},
		Scores:     scores,
		Weights:    weights,
		TotalScore: total,
		Decision:   Decide(total),
	}
}
