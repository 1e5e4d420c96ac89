package finance

import (
	"sort"
	"time"

	"finagent/internal/domain"
)

// PriceSummary condenses a price series for the model.
type PriceSummary struct {
	Ticker     string              `json:"ticker"`
	Period     string              `json:"period"`
	FirstClose float64             `json:"first_close"`
	LastClose  float64             `json:"last_close"`
	ChangePct  float64             `json:"change_pct"`
	High       float64             `json:"high"`
	Low        float64             `json:"low"`
	AvgVolume  int64               `json:"avg_volume"`
	Points     []domain.PricePoint `json:"points"`
}

// SummarizePrices computes change, range and volume over points, which must
// be in chronological order. At most maxPoints trailing points are kept in
// the output; 0 keeps all.
func SummarizePrices(ticker, period string, points []domain.PricePoint, maxPoints int) PriceSummary {
	s := PriceSummary{Ticker: ticker, Period: period}
	if len(points) == 0 {
		return s
	}
	s.FirstClose = round2(points[0].Close)
	s.LastClose = round2(points[len(points)-1].Close)
	if points[0].Close != 0 {
		s.ChangePct = round2((points[len(points)-1].Close - points[0].Close) / points[0].Close * 100)
	}
	s.High, s.Low = points[0].High, points[0].Low
	var vol int64
	for _, p := range points {
		if p.High > s.High {
			s.High = p.High
		}
		if p.Low < s.Low {
			s.Low = p.Low
		}
		vol += p.Volume
	}
	s.High, s.Low = round2(s.High), round2(s.Low)
	s.AvgVolume = vol / int64(len(points))

	if maxPoints > 0 && len(points) > maxPoints {
		points = points[len(points)-maxPoints:]
	}
	s.Points = points
	return s
}

// Closes extracts the close prices.
func Closes(points []domain.PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Close
	}
	return out
}

// YearTotal is the dividend paid in one calendar year.
type YearTotal struct {
	Year  int     `json:"year"`
	Total float64 `json:"total"`
}

// DividendSummary is the output of the dividend_analysis tool.
type DividendSummary struct {
	Ticker          string                 `json:"ticker"`
	DividendYield   *float64               `json:"dividend_yield"`
	DividendRate    *float64               `json:"dividend_rate"`
	PayoutRatio     *float64               `json:"payout_ratio"`
	TrailingTotal   float64                `json:"trailing_12m_total"`
	PaymentsPerYear int                    `json:"payments_last_12m"`
	AnnualTotals    []YearTotal            `json:"annual_totals"`
	YoYGrowthPct    *float64               `json:"yoy_growth_pct"`
	Recent          []domain.DividendEvent `json:"recent"`
}

// SummarizeDividends aggregates payment history as of now.
// Year-over-year growth compares the last two complete calendar years.
func SummarizeDividends(f *domain.Fundamentals, events []domain.DividendEvent, now time.Time) DividendSummary {
	s := DividendSummary{}
	if f != nil {
		s.Ticker = f.Ticker
		s.DividendYield = f.DividendYield
		s.DividendRate = f.DividendRate
		s.PayoutRatio = f.PayoutRatio
	}

	sorted := append([]domain.DividendEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	cutoff := now.AddDate(-1, 0, 0)
	byYear := map[int]float64{}
	for _, e := range sorted {
		byYear[e.Date.Year()] += e.Amount
		if e.Date.After(cutoff) && !e.Date.After(now) {
			s.TrailingTotal += e.Amount
			s.PaymentsPerYear++
		}
	}
	s.TrailingTotal = round2(s.TrailingTotal)

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		s.AnnualTotals = append(s.AnnualTotals, YearTotal{Year: y, Total: round2(byYear[y])})
	}

	last, prev := now.Year()-1, now.Year()-2
	if byYear[prev] > 0 && byYear[last] > 0 {
		s.YoYGrowthPct = ptr(round2((byYear[last] - byYear[prev]) / byYear[prev] * 100))
	}

	const recent = 8
	if len(sorted) > recent {
		sorted = sorted[len(sorted)-recent:]
	}
	s.Recent = sorted
	return s
}

// CompareRow is one line of a multi-ticker comparison.
type CompareRow struct {
	Ticker     string   `json:"ticker"`
	TotalScore float64  `json:"total_score"`
	Decision   Decision `json:"decision"`
	Price      *float64 `json:"price,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RankReports orders rows by descending score; failed rows go last.
func RankReports(rows []CompareRow) []CompareRow {
	out := append([]CompareRow(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].Error == "") != (out[j].Error == "") {
			return out[i].Error == ""
		}
		return out[i].TotalScore > out[j].TotalScore
	})
	return out
}
