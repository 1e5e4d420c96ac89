package domain

import (
	"context"
	"time"
)

// Fundamentals holds the raw valuation metrics of one ticker. A nil field
// means the provider did not report the metric.
type Fundamentals struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name,omitempty"`
	Currency string `json:"currency,omitempty"`

	Price     *float64 `json:"price,omitempty"`
	MarketCap *float64 `json:"market_cap,omitempty"`

	TrailingPE         *float64 `json:"trailingPE"`
	ReturnOnEquity     *float64 `json:"returnOnEquity"`
	DebtToEquity       *float64 `json:"debtToEquity"`
	Beta               *float64 `json:"beta"`
	DividendYield      *float64 `json:"dividendYield"`
	RevenueGrowth      *float64 `json:"revenueGrowth"`
	EnterpriseToEbitda *float64 `json:"enterpriseToEbitda"`

	DividendRate *float64 `json:"dividend_rate,omitempty"`
	PayoutRatio  *float64 `json:"payout_ratio,omitempty"`
}

// PricePoint is one daily bar.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// DividendEvent is one cash dividend payment.
type DividendEvent struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

// CompanyProfile describes the business behind a ticker.
type CompanyProfile struct {
	Ticker    string   `json:"ticker"`
	Name      string   `json:"name"`
	Sector    string   `json:"sector,omitempty"`
	Industry  string   `json:"industry,omitempty"`
	Country   string   `json:"country,omitempty"`
	Employees int64    `json:"employees,omitempty"`
	Website   string   `json:"website,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	MarketCap *float64 `json:"market_cap,omitempty"`
}

// NewsItem is one headline about a ticker.
type NewsItem struct {
	Title       string    `json:"title"`
	Publisher   string    `json:"publisher,omitempty"`
	Link        string    `json:"link,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// EarningsCalendar lists upcoming earnings and analyst estimates.
type EarningsCalendar struct {
	Ticker          string      `json:"ticker"`
	EarningsDates   []time.Time `json:"earnings_dates"`
	EPSAverage      *float64    `json:"eps_average,omitempty"`
	EPSLow          *float64    `json:"eps_low,omitempty"`
	EPSHigh         *float64    `json:"eps_high,omitempty"`
	RevenueAverage  *float64    `json:"revenue_average,omitempty"`
	RevenueLow      *float64    `json:"revenue_low,omitempty"`
	RevenueHigh     *float64    `json:"revenue_high,omitempty"`
	ExDividendDate  *time.Time  `json:"ex_dividend_date,omitempty"`
	DividendPayDate *time.Time  `json:"dividend_date,omitempty"`
}

// MarketData is the market-data client consumed by the financial tools.
// Implementations return an error wrapping ErrNotFound for unknown tickers.
type MarketData interface {
	Fundamentals(ctx context.Context, ticker string) (*Fundamentals, error)
	PriceHistory(ctx context.Context, ticker, period string) ([]PricePoint, error)
	Dividends(ctx context.Context, ticker, period string) ([]DividendEvent, error)
	Profile(ctx context.Context, ticker string) (*CompanyProfile, error)
	News(ctx context.Context, ticker string, limit int) ([]NewsItem, error)
	Earnings(ctx context.Context, ticker string) (*EarningsCalendar, error)
}
