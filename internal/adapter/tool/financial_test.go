package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/domain"
	"finagent/internal/finance"
)

func strongFundamentals(ticker string) *domain.Fundamentals {
	return &domain.Fundamentals{
		Ticker:             ticker,
		Price:              f64(190),
		TrailingPE:         f64(12),
		ReturnOnEquity:     f64(0.25),
		DebtToEquity:       f64(0.5),
		Beta:               f64(1.0),
		DividendYield:      f64(0.04),
		RevenueGrowth:      f64(0.15),
		EnterpriseToEbitda: f64(6),
	}
}

func TestFinancialScoreTool(t *testing.T) {
	market := &fakeMarket{fundamentals: map[string]*domain.Fundamentals{"AAPL": strongFundamentals("AAPL")}}
	tool := NewFinancialScoreTool(market, newTestLogger())

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"ticker":" aapl "}`))
	require.NoError(t, err)

	var report finance.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "AAPL", report.Ticker)
	assert.Equal(t, 10.0, report.TotalScore)
	assert.Equal(t, finance.Buy, report.Decision)
	assert.Len(t, report.Weights, 7)
	assert.Equal(t, []string{"fundamentals:AAPL"}, market.calls)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	for _, k := range []string{"ticker", "raw_metrics", "scores", "weights", "total_score", "decision"} {
		assert.Contains(t, keys, k)
	}
}

func TestFinancialScoreUnknownTicker(t *testing.T) {
	tool := NewFinancialScoreTool(&fakeMarket{}, newTestLogger())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"ticker":"ZZZZ"}`))
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.ToolErrorKindOf(err))
}

func TestFinancialScoreTimeout(t *testing.T) {
	market := &fakeMarket{err: context.DeadlineExceeded}
	_, err := NewFinancialScoreTool(market, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"AAPL"}`))
	assert.Equal(t, domain.KindTimeout, domain.ToolErrorKindOf(err))
}

func TestCompareStocksRanks(t *testing.T) {
	weak := &domain.Fundamentals{Ticker: "WEAK", TrailingPE: f64(60), Beta: f64(2.5)}
	market := &fakeMarket{fundamentals: map[string]*domain.Fundamentals{
		"AAPL": strongFundamentals("AAPL"),
		"WEAK": weak,
	}}
	tool := NewCompareStocksTool(market, newTestLogger())

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"tickers":["weak","AAPL","MISSING"]}`))
	require.NoError(t, err)

	var got compareOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Ranking, 3)
	assert.Equal(t, "AAPL", got.Best)
	assert.Equal(t, "AAPL", got.Ranking[0].Ticker)
	assert.Equal(t, "WEAK", got.Ranking[1].Ticker)
	assert.Equal(t, "MISSING", got.Ranking[2].Ticker)
	assert.NotEmpty(t, got.Ranking[2].Error)
}

func TestCompareStocksArguments(t *testing.T) {
	tool := NewCompareStocksTool(&fakeMarket{}, newTestLogger())
	for _, args := range []string{`{"tickers":["AAPL"]}`, `{"tickers":["AAPL","aapl"]}`, `{"tickers":["AAPL","bad ticker"]}`} {
		_, err := tool.Execute(context.Background(), json.RawMessage(args))
		assert.Equal(t, domain.KindValidation, domain.ToolErrorKindOf(err), args)
	}
}

func TestCompareStocksAllFail(t *testing.T) {
	market := &fakeMarket{err: errors.New("upstream 502")}
	_, err := NewCompareStocksTool(market, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"tickers":["A","B"]}`))
	assert.Equal(t, domain.KindExternalService, domain.ToolErrorKindOf(err))
}

func dailyBars(n int, start float64) []domain.PricePoint {
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, n)
	for i := range points {
		c := start + float64(i)
		points[i] = domain.PricePoint{Date: day.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return points
}

func TestPriceHistoryTool(t *testing.T) {
	market := &fakeMarket{history: dailyBars(80, 100)}
	tool := NewPriceHistoryTool(market, newTestLogger())

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"ticker":"msft"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"history:MSFT:1mo"}, market.calls)

	var s finance.PriceSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 100.0, s.FirstClose)
	assert.Equal(t, 179.0, s.LastClose)
	assert.Len(t, s.Points, maxHistoryPoints)
}

func TestPriceHistoryEmpty(t *testing.T) {
	_, err := NewPriceHistoryTool(&fakeMarket{}, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"MSFT","period":"5d"}`))
	assert.Equal(t, domain.KindNotFound, domain.ToolErrorKindOf(err))
}

func TestTechnicalIndicatorsTool(t *testing.T) {
	market := &fakeMarket{history: dailyBars(70, 50)}
	out, err := NewTechnicalIndicatorsTool(market, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"NVDA","period":"6mo"}`))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "NVDA", got["ticker"])
	assert.EqualValues(t, 70, got["points"])
	assert.NotNil(t, got["sma_50"])
	assert.NotNil(t, got["rsi_14"])
	assert.Equal(t, []string{"history:NVDA:6mo"}, market.calls)
}

func TestTechnicalIndicatorsRejectsPeriod(t *testing.T) {
	_, err := NewTechnicalIndicatorsTool(&fakeMarket{}, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"NVDA","period":"5y"}`))
	assert.Equal(t, domain.KindValidation, domain.ToolErrorKindOf(err))
}

func TestDividendAnalysisTool(t *testing.T) {
	f := strongFundamentals("KO")
	f.PayoutRatio = f64(0.7)
	market := &fakeMarket{
		fundamentals: map[string]*domain.Fundamentals{"KO": f},
		dividends: []domain.DividendEvent{
			{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Amount: 0.40},
			{Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Amount: 0.50},
			{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Amount: 0.55},
		},
	}
	tool := NewDividendAnalysisTool(market, newTestLogger())
	tool.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"ticker":"KO"}`))
	require.NoError(t, err)

	var s finance.DividendSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, "KO", s.Ticker)
	assert.Equal(t, 0.55, s.TrailingTotal)
	require.NotNil(t, s.YoYGrowthPct)
	assert.Equal(t, 25.0, *s.YoYGrowthPct)
	assert.Contains(t, market.calls, "dividends:KO:5y")
}

func TestProfileNewsEarningsTools(t *testing.T) {
	market := &fakeMarket{news: []domain.NewsItem{{Title: "one"}, {Title: "two"}, {Title: "three"}}}

	out, err := NewCompanyProfileTool(market, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"AAPL"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"sector":"Technology"`)

	out, err = NewStockNewsTool(market, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"AAPL","limit":2}`))
	require.NoError(t, err)
	var news newsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &news))
	assert.Equal(t, 2, news.Count)

	out, err = NewEarningsCalendarTool(market, newTestLogger()).
		Execute(context.Background(), json.RawMessage(`{"ticker":"AAPL"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"eps_average":1.76`)
}

func TestMarketToolsCatalog(t *testing.T) {
	names := map[string]bool{}
	for _, tl := range MarketTools(&fakeMarket{}, newTestLogger()) {
		assert.False(t, names[tl.Name()], "duplicate %s", tl.Name())
		names[tl.Name()] = true
		assert.NotEmpty(t, tl.Description())
		assert.True(t, json.Valid(tl.Schema().Parameters), tl.Name())
	}
	for _, want := range []string{"financial_score", "compare_stocks", "price_history", "technical_indicators",
		"dividend_analysis", "company_profile", "stock_news", "earnings_calendar"} {
		assert.True(t, names[want], want)
	}
}
