package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/finance"
	"finagent/internal/infra/tracer"
)

// Periods accepted by price_history and technical_indicators.
var (
	historyPeriods   = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}
	indicatorPeriods = []string{"1mo", "3mo", "6mo", "1y"}
)

const (
	maxHistoryPoints = 60
	defaultNewsLimit = 5
	dividendLookback = "5y"
)

// marketTool carries what every market-data tool shares.
type marketTool struct {
	market domain.MarketData
	logger *slog.Logger
}

func (m marketTool) ticker(name, raw string, span trace.Span) (string, error) {
	ticker, err := NormalizeTicker(raw)
	if err != nil {
		return "", invalidArg(name, "%v", err)
	}
	span.SetAttributes(tracer.StringAttr("tool.ticker", ticker))
	return ticker, nil
}

// --- price_history ---

// PriceHistoryTool returns recent daily prices with a summary.
type PriceHistoryTool struct{ marketTool }

// NewPriceHistoryTool creates the price_history tool.
func NewPriceHistoryTool(market domain.MarketData, logger *slog.Logger) *PriceHistoryTool {
	return &PriceHistoryTool{marketTool{market: market, logger: logger}}
}

func (t *PriceHistoryTool) Name() string { return "price_history" }
func (t *PriceHistoryTool) Description() string {
	return "Get daily price history for a stock over a period with first/last close, change %, high and low."
}

type priceHistoryParams struct {
	Ticker string `json:"ticker" jsonschema:"required,minLength=1,maxLength=15,pattern=^[A-Za-z0-9.^=-]{1\\,15}$" jsonschema_description:"Stock ticker symbol"`
	Period string `json:"period,omitempty" jsonschema:"enum=1d,enum=5d,enum=1mo,enum=3mo,enum=6mo,enum=1y,enum=2y,enum=5y,enum=10y,enum=ytd,enum=max,default=1mo" jsonschema_description:"History period (default 1mo)"`
}

func (t *PriceHistoryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: paramsSchema[priceHistoryParams]()}
}

func (t *PriceHistoryTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p priceHistoryParams) (any, error) {
			ticker, err := t.ticker(t.Name(), p.Ticker, span)
			if err != nil {
				return nil, err
			}
			if p.Period == "" {
				p.Period = "1mo"
			}
			if err := ValidateEnum("period", p.Period, historyPeriods...); err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}

			points, err := t.market.PriceHistory(ctx, ticker, p.Period)
			if err != nil {
				return nil, err
			}
			if len(points) == 0 {
				return nil, domain.NewToolError(domain.KindNotFound, t.Name(), "no price data for "+ticker, nil)
			}
			return finance.SummarizePrices(ticker, p.Period, points, maxHistoryPoints), nil
		},
	)
}

// --- technical_indicators ---

// TechnicalIndicatorsTool computes moving averages, MACD and RSI.
type TechnicalIndicatorsTool struct{ marketTool }

// NewTechnicalIndicatorsTool creates the technical_indicators tool.
func NewTechnicalIndicatorsTool(market domain.MarketData, logger *slog.Logger) *TechnicalIndicatorsTool {
	return &TechnicalIndicatorsTool{marketTool{market: market, logger: logger}}
}

func (t *TechnicalIndicatorsTool) Name() string { return "technical_indicators" }
func (t *TechnicalIndicatorsTool) Description() string {
	return "Compute technical indicators for a stock: SMA20, SMA50, EMA12, EMA26, MACD, RSI14 and a trend signal."
}

type indicatorParams struct {
	Ticker string `json:"ticker" jsonschema:"required,minLength=1,maxLength=15,pattern=^[A-Za-z0-9.^=-]{1\\,15}$" jsonschema_description:"Stock ticker symbol"`
	Period string `json:"period,omitempty" jsonschema:"enum=1mo,enum=3mo,enum=6mo,enum=1y,default=3mo" jsonschema_description:"Lookback period (default 3mo)"`
}

type indicatorOutput struct {
	Ticker string `json:"ticker"`
	Period string `json:"period"`
	Points int    `json:"points"`
	finance.Indicators
}

func (t *TechnicalIndicatorsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: paramsSchema[indicatorParams]()}
}

func (t *TechnicalIndicatorsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p indicatorParams) (any, error) {
			ticker, err := t.ticker(t.Name(), p.Ticker, span)
			if err != nil {
				return nil, err
			}
			if p.Period == "" {
				p.Period = "3mo"
			}
			if err := ValidateEnum("period", p.Period, indicatorPeriods...); err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}

			points, err := t.market.PriceHistory(ctx, ticker, p.Period)
			if err != nil {
				return nil, err
			}
			if len(points) == 0 {
				return nil, domain.NewToolError(domain.KindNotFound, t.Name(), "no price data for "+ticker, nil)
			}
			return indicatorOutput{
				Ticker:     ticker,
				Period:     p.Period,
				Points:     len(points),
				Indicators: finance.ComputeIndicators(finance.Closes(points)),
			}, nil
		},
	)
}

// --- dividend_analysis ---

// DividendAnalysisTool summarizes the dividend record of a stock.
type DividendAnalysisTool struct {
	marketTool
	now func() time.Time
}

// NewDividendAnalysisTool creates the dividend_analysis tool.
func NewDividendAnalysisTool(market domain.MarketData, logger *slog.Logger) *DividendAnalysisTool {
	return &DividendAnalysisTool{marketTool: marketTool{market: market, logger: logger}, now: time.Now}
}

func (t *DividendAnalysisTool) Name() string { return "dividend_analysis" }
func (t *DividendAnalysisTool) Description() string {
	return "Analyze a stock's dividends: yield, payout ratio, trailing-12-month total, yearly history and year-over-year growth."
}

func (t *DividendAnalysisTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: paramsSchema[tickerParams]()}
}

func (t *DividendAnalysisTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p tickerParams) (any, error) {
			ticker, err := t.ticker(t.Name(), p.Ticker, span)
			if err != nil {
				return nil, err
			}
			f, err := t.market.Fundamentals(ctx, ticker)
			if err != nil {
				return nil, err
			}
			events, err := t.market.Dividends(ctx, ticker, dividendLookback)
			if err != nil {
				return nil, err
			}
			s := finance.SummarizeDividends(f, events, t.now())
			s.Ticker = ticker
			return s, nil
		},
	)
}

// --- company_profile ---

// CompanyProfileTool describes the company behind a ticker.
type CompanyProfileTool struct{ marketTool }

// NewCompanyProfileTool creates the company_profile tool.
func NewCompanyProfileTool(market domain.MarketData, logger *slog.Logger) *CompanyProfileTool {
	return &CompanyProfileTool{marketTool{market: market, logger: logger}}
}

func (t *CompanyProfileTool) Name() string { return "company_profile" }
func (t *CompanyProfileTool) Description() string {
	return "Get a company's profile: name, sector, industry, country, employees, website, business summary and market cap."
}

func (t *CompanyProfileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: paramsSchema[tickerParams]()}
}

func (t *CompanyProfileTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p tickerParams) (any, error) {
			ticker, err := t.ticker(t.Name(), p.Ticker, span)
			if err != nil {
				return nil, err
			}
			return t.market.Profile(ctx, ticker)
		},
	)
}

// --- stock_news ---

// StockNewsTool lists recent headlines about a stock.
type StockNewsTool struct{ marketTool }

// NewStockNewsTool creates the stock_news tool.
func NewStockNewsTool(market domain.MarketData, logger *slog.Logger) *StockNewsTool {
	return &StockNewsTool{marketTool{market: market, logger: logger}}
}

func (t *StockNewsTool) Name() string { return "stock_news" }
func (t *StockNewsTool) Description() string {
	return "Get the latest news headlines about a stock."
}

type newsParams struct {
	Ticker string `json:"ticker" jsonschema:"required,minLength=1,maxLength=15,pattern=^[A-Za-z0-9.^=-]{1\\,15}$" jsonschema_description:"Stock ticker symbol"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20,default=5" jsonschema_description:"Number of headlines (default 5)"`
}

type newsOutput struct {
	Ticker string            `json:"ticker"`
	Count  int               `json:"count"`
	News   []domain.NewsItem `json:"news"`
}

func (t *StockNewsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: paramsSchema[newsParams]()}
}

func (t *StockNewsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p newsParams) (any, error) {
			ticker, err := t.ticker(t.Name(), p.Ticker, span)
			if err != nil {
				return nil, err
			}
			if p.Limit == 0 {
				p.Limit = defaultNewsLimit
			}
			if err := ValidateRange("limit", p.Limit, 1, 20); err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}

			items, err := t.market.News(ctx, ticker, p.Limit)
			if err != nil {
				return nil, err
			}
			if len(items) > p.Limit {
				items = items[:p.Limit]
			}
			if items == nil {
				items = []domain.NewsItem{}
			}
			return newsOutput{Ticker: ticker, Count: len(items), News: items}, nil
		},
	)
}

// --- earnings_calendar ---

// EarningsCalendarTool reports upcoming earnings dates and estimates.
type EarningsCalendarTool struct{ marketTool }

// NewEarningsCalendarTool creates the earnings_calendar tool.
func NewEarningsCalendarTool(market domain.MarketData, logger *slog.Logger) *EarningsCalendarTool {
	return &EarningsCalendarTool{marketTool{market: market, logger: logger}}
}

func (t *EarningsCalendarTool) Name() string { return "earnings_calendar" }
func (t *EarningsCalendarTool) Description() string {
	return "Get a stock's next earnings date(s) with analyst EPS and revenue estimates."
}

func (t *EarningsCalendarTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: paramsSchema[tickerParams]()}
}

func (t *EarningsCalendarTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p tickerParams) (any, error) {
			ticker, err := t.ticker(t.Name(), p.Ticker, span)
			if err != nil {
				return nil, err
			}
			return t.market.Earnings(ctx, ticker)
		},
	)
}

// MarketTools returns every tool backed by market data.
func MarketTools(market domain.MarketData, logger *slog.Logger) []domain.Tool {
	return []domain.Tool{
		NewFinancialScoreTool(market, logger),
		NewCompareStocksTool(market, logger),
		NewPriceHistoryTool(market, logger),
		NewTechnicalIndicatorsTool(market, logger),
		NewDividendAnalysisTool(market, logger),
		NewCompanyProfileTool(market, logger),
		NewStockNewsTool(market, logger),
		NewEarningsCalendarTool(market, logger),
	}
}
