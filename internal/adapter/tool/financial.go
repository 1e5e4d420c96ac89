package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/finance"
	"finagent/internal/infra/tracer"
)

// FinancialScoreTool scores a stock BUY/HOLD/SELL from its fundamentals.
type FinancialScoreTool struct {
	market domain.MarketData
	logger *slog.Logger
}

// NewFinancialScoreTool creates the financial_score tool.
func NewFinancialScoreTool(market domain.MarketData, logger *slog.Logger) *FinancialScoreTool {
	return &FinancialScoreTool{market: market, logger: logger}
}

func (t *FinancialScoreTool) Name() string { return "financial_score" }
func (t *FinancialScoreTool) Description() string {
	return "Compute a BUY/HOLD/SELL score for a stock from basic indicators " +
		"(P/E, ROE, debt/equity, beta, dividend yield, revenue growth, EV/EBITDA). " +
		"Returns JSON with the raw metrics, sub-scores, weights, total score and decision."
}

type tickerParams struct {
	Ticker string `json:"ticker" jsonschema:"required,minLength=1,maxLength=15,pattern=^[A-Za-z0-9.^=-]{1\\,15}$" jsonschema_description:"Stock ticker symbol, e.g. AAPL or ENI.MI"`
}

func (t *FinancialScoreTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  paramsSchema[tickerParams](),
	}
}

func (t *FinancialScoreTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p tickerParams) (any, error) {
			ticker, err := NormalizeTicker(p.Ticker)
			if err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}
			span.SetAttributes(tracer.StringAttr("tool.ticker", ticker))

			f, err := t.market.Fundamentals(ctx, ticker)
			if err != nil {
				return nil, err
			}
			report := finance.Analyze(ticker, finance.MetricsFrom(f))
			t.logger.Info("stock scored", "ticker", ticker, "total_score", report.TotalScore, "decision", report.Decision)
			return report, nil
		},
	)
}

// CompareStocksTool scores several tickers side by side.
type CompareStocksTool struct {
	market domain.MarketData
	logger *slog.Logger
}

// NewCompareStocksTool creates the compare_stocks tool.
func NewCompareStocksTool(market domain.MarketData, logger *slog.Logger) *CompareStocksTool {
	return &CompareStocksTool{market: market, logger: logger}
}

func (t *CompareStocksTool) Name() string { return "compare_stocks" }
func (t *CompareStocksTool) Description() string {
	return "Score 2 to 5 stocks with the financial_score method and rank them from best to worst."
}

type compareParams struct {
	Tickers []string `json:"tickers" jsonschema:"required,minItems=2,maxItems=5" jsonschema_description:"Ticker symbols to compare"`
}

func (t *CompareStocksTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  paramsSchema[compareParams](),
	}
}

type compareOutput struct {
	Ranking []finance.CompareRow `json:"ranking"`
	Best    string               `json:"best,omitempty"`
}

func (t *CompareStocksTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p compareParams) (any, error) {
			tickers, err := t.normalize(p.Tickers)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("tool.tickers", len(tickers)))

			rows := make([]finance.CompareRow, len(tickers))
			errs := make([]error, len(tickers))
			var wg sync.WaitGroup
			for i, ticker := range tickers {
				wg.Add(1)
				go func(i int, ticker string) {
					defer wg.Done()
					rows[i], errs[i] = t.scoreRow(ctx, ticker)
				}(i, ticker)
			}
			wg.Wait()

			out := compareOutput{Ranking: finance.RankReports(rows)}
			if out.Ranking[0].Error != "" {
				// Every lookup failed.
				return nil, errs[0]
			}
			out.Best = out.Ranking[0].Ticker
			return out, nil
		},
	)
}

func (t *CompareStocksTool) normalize(raw []string) ([]string, error) {
	if err := ValidateRange("tickers", len(raw), 2, 5); err != nil {
		return nil, invalidArg(t.Name(), "%v", err)
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		ticker, err := NormalizeTicker(r)
		if err != nil {
			return nil, invalidArg(t.Name(), "%v", err)
		}
		if seen[ticker] {
			continue
		}
		seen[ticker] = true
		out = append(out, ticker)
	}
	if len(out) < 2 {
		return nil, invalidArg(t.Name(), "need at least 2 distinct tickers")
	}
	return out, nil
}

func (t *CompareStocksTool) scoreRow(ctx context.Context, ticker string) (finance.CompareRow, error) {
	f, err := t.market.Fundamentals(ctx, ticker)
	if err != nil {
		t.logger.Warn("compare lookup failed", "ticker", ticker, "error", err)
		return finance.CompareRow{Ticker: ticker, Error: err.Error()}, err
	}
	report := finance.Analyze(ticker, finance.MetricsFrom(f))
	return finance.CompareRow{
		Ticker:     report.Ticker,
		TotalScore: report.TotalScore,
		Decision:   report.Decision,
		Price:      f.Price,
	}, nil
}
