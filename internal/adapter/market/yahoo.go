// Package market fetches fundamentals, prices, dividends and news from a
// Yahoo-Finance-compatible JSON API.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"finagent/internal/domain"
)

const (
	DefaultBaseURL   = "https://query2.finance.yahoo.com"
	DefaultCookieURL = "https://fc.yahoo.com"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxResponseBytes = 5 * 1024 * 1024
)

var summaryModules = []string{
	"price", "summaryDetail", "financialData", "defaultKeyStatistics", "assetProfile", "calendarEvents",
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	CookieURL         string
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client implements domain.MarketData. Requests share one token bucket so a
// compare_stocks fan-out cannot trip the upstream throttle.
type Client struct {
	baseURL   string
	cookieURL string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu    sync.Mutex
	crumb string
}

// NewClient creates a market-data client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.CookieURL == "" {
		opts.CookieURL = DefaultCookieURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		cookieURL: opts.CookieURL,
		userAgent: opts.UserAgent,
		http:      &http.Client{Timeout: opts.Timeout, Jar: jar},
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		logger:    logger,
	}
}

// Fundamentals implements domain.MarketData.
func (c *Client) Fundamentals(ctx context.Context, ticker string) (*domain.Fundamentals, error) {
	qs, err := c.quoteSummary(ctx, ticker)
	if err != nil {
		return nil, err
	}

	f := &domain.Fundamentals{Ticker: ticker}
	if p := qs.Price; p != nil {
		f.Name = firstNonEmpty(p.LongName, p.ShortName)
		f.Currency = p.Currency
		f.Price = p.RegularMarketPrice.ptr()
		f.MarketCap = p.MarketCap.ptr()
	}
	if sd := qs.SummaryDetail; sd != nil {
		f.TrailingPE = sd.TrailingPE.ptr()
		f.Beta = sd.Beta.ptr()
		f.DividendYield = sd.DividendYield.ptr()
		f.DividendRate = sd.DividendRate.ptr()
		f.PayoutRatio = sd.PayoutRatio.ptr()
		if f.MarketCap == nil {
			f.MarketCap = sd.MarketCap.ptr()
		}
	}
	if fd := qs.FinancialData; fd != nil {
		f.ReturnOnEquity = fd.ReturnOnEquity.ptr()
		f.DebtToEquity = fd.DebtToEquity.ptr()
		f.RevenueGrowth = fd.RevenueGrowth.ptr()
		if f.Price == nil {
			f.Price = fd.CurrentPrice.ptr()
		}
		if f.Currency == "" {
			f.Currency = fd.FinancialCurrency
		}
	}
	if ks := qs.DefaultKeyStatistics; ks != nil {
		f.EnterpriseToEbitda = ks.EnterpriseToEbitda.ptr()
		if f.Beta == nil {
			f.Beta = ks.Beta.ptr()
		}
	}
	return f, nil
}

// Profile implements domain.MarketData.
func (c *Client) Profile(ctx context.Context, ticker string) (*domain.CompanyProfile, error) {
	qs, err := c.quoteSummary(ctx, ticker)
	if err != nil {
		return nil, err
	}
	p := &domain.CompanyProfile{Ticker: ticker}
	if qs.Price != nil {
		p.Name = firstNonEmpty(qs.Price.LongName, qs.Price.ShortName)
		p.MarketCap = qs.Price.MarketCap.ptr()
	}
	if ap := qs.AssetProfile; ap != nil {
		p.Sector = ap.Sector
		p.Industry = ap.Industry
		p.Country = ap.Country
		p.Employees = ap.FullTimeEmployees
		p.Website = ap.Website
		p.Summary = ap.LongBusinessSummary
	}
	return p, nil
}

// Earnings implements domain.MarketData.
func (c *Client) Earnings(ctx context.Context, ticker string) (*domain.EarningsCalendar, error) {
	qs, err := c.quoteSummary(ctx, ticker)
	if err != nil {
		return nil, err
	}
	cal := &domain.EarningsCalendar{Ticker: ticker, EarningsDates: []time.Time{}}
	ce := qs.CalendarEvents
	if ce == nil {
		return cal, nil
	}
	if e := ce.Earnings; e != nil {
		for i := range e.EarningsDate {
			if t := e.EarningsDate[i].time(); t != nil {
				cal.EarningsDates = append(cal.EarningsDates, *t)
			}
		}
		cal.EPSAverage = e.EarningsAverage.ptr()
		cal.EPSLow = e.EarningsLow.ptr()
		cal.EPSHigh = e.EarningsHigh.ptr()
		cal.RevenueAverage = e.RevenueAverage.ptr()
		cal.RevenueLow = e.RevenueLow.ptr()
		cal.RevenueHigh = e.RevenueHigh.ptr()
	}
	cal.ExDividendDate = ce.ExDividendDate.time()
	cal.DividendPayDate = ce.DividendDate.time()
	return cal, nil
}

// PriceHistory implements domain.MarketData. Bars with missing closes are
// dropped.
func (c *Client) PriceHistory(ctx context.Context, ticker, period string) ([]domain.PricePoint, error) {
	res, err := c.chart(ctx, ticker, period, "1d", false)
	if err != nil {
		return nil, err
	}
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := res.Indicators.Quote[0]
	points := make([]domain.PricePoint, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		cl := at(q.Close, i)
		if cl == nil {
			continue
		}
		p := domain.PricePoint{
			Date:  time.Unix(ts, 0).UTC(),
			Close: *cl,
			Open:  deref(at(q.Open, i), *cl),
			High:  deref(at(q.High, i), *cl),
			Low:   deref(at(q.Low, i), *cl),
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			p.Volume = *q.Volume[i]
		}
		points = append(points, p)
	}
	return points, nil
}

// Dividends implements domain.MarketData. Events are returned oldest first.
func (c *Client) Dividends(ctx context.Context, ticker, period string) ([]domain.DividendEvent, error) {
	res, err := c.chart(ctx, ticker, period, "1mo", true)
	if err != nil {
		return nil, err
	}
	events := make([]domain.DividendEvent, 0, len(res.Events.Dividends))
	for _, d := range res.Events.Dividends {
		events = append(events, domain.DividendEvent{Date: time.Unix(d.Date, 0).UTC(), Amount: d.Amount})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}

// News implements domain.MarketData.
func (c *Client) News(ctx context.Context, ticker string, limit int) ([]domain.NewsItem, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("q", ticker)
	q.Set("quotesCount", "0")
	q.Set("newsCount", strconv.Itoa(limit))

	var env searchEnvelope
	if err := c.getJSON(ctx, "/v1/finance/search", q, &env); err != nil {
		return nil, err
	}
	items := make([]domain.NewsItem, 0, len(env.News))
	for _, n := range env.News {
		if len(items) == limit {
			break
		}
		items = append(items, domain.NewsItem{
			Title:       n.Title,
			Publisher:   n.Publisher,
			Link:        n.Link,
			PublishedAt: time.Unix(n.ProviderPublishTime, 0).UTC(),
		})
	}
	return items, nil
}

// IsHealthy reports whether the API answers a crumb request.
func (c *Client) IsHealthy(ctx context.Context) bool {
	_, err := c.ensureCrumb(ctx, false)
	return err == nil
}

func (c *Client) quoteSummary(ctx context.Context, ticker string) (*quoteSummary, error) {
	path := "/v10/finance/quoteSummary/" + url.PathEscape(ticker)
	q := url.Values{}
	q.Set("modules", strings.Join(summaryModules, ","))

	var env quoteSummaryEnvelope
	err := c.withCrumb(ctx, func(crumb string) error {
		if crumb != "" {
			q.Set("crumb", crumb)
		}
		return c.getJSON(ctx, path, q, &env)
	})
	if err != nil {
		return nil, err
	}
	if len(env.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: no quote summary for %s", domain.ErrNotFound, ticker)
	}
	return &env.QuoteSummary.Result[0], nil
}

func (c *Client) chart(ctx context.Context, ticker, period, interval string, dividends bool) (*chartResult, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", interval)
	if dividends {
		q.Set("events", "div")
	}

	var env chartEnvelope
	if err := c.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), q, &env); err != nil {
		return nil, err
	}
	if len(env.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: no chart data for %s", domain.ErrNotFound, ticker)
	}
	return &env.Chart.Result[0], nil
}

// errUnauthorized marks a 401, which Yahoo returns for a stale crumb.
type errUnauthorized struct{ body string }

func (e *errUnauthorized) Error() string {
	return fmt.Sprintf("%v: API error 401: %s", domain.ErrExternalService, e.body)
}

func (e *errUnauthorized) Unwrap() error { return domain.ErrExternalService }

// withCrumb runs fn with the cached crumb and retries once with a fresh one
// when the API rejects it.
func (c *Client) withCrumb(ctx context.Context, fn func(crumb string) error) error {
	crumb, err := c.ensureCrumb(ctx, false)
	if err != nil {
		c.logger.Debug("market: crumb unavailable, trying without", "error", err)
	}
	err = fn(crumb)
	var unauthorized *errUnauthorized
	if !errors.As(err, &unauthorized) {
		return err
	}
	if crumb, err = c.ensureCrumb(ctx, true); err != nil {
		return err
	}
	return fn(crumb)
}

func (c *Client) ensureCrumb(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != "" && !refresh {
		return c.crumb, nil
	}

	// The cookie endpoint answers 404 but sets the session cookie.
	if req, err := c.newRequest(ctx, c.cookieURL, nil); err == nil {
		if resp, err := c.http.Do(req); err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
		}
	}

	body, status, err := c.fetch(ctx, c.baseURL+"/v1/test/getcrumb", nil)
	if err != nil {
		return "", err
	}
	crumb := strings.TrimSpace(string(body))
	if status != http.StatusOK || crumb == "" || strings.ContainsAny(crumb, "<{") {
		return "", fmt.Errorf("%w: crumb request returned %d", domain.ErrExternalService, status)
	}
	c.crumb = crumb
	return crumb, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	body, status, err := c.fetch(ctx, c.baseURL+path, q)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized:
		return &errUnauthorized{body: truncate(string(body), 200)}
	case status == http.StatusNotFound:
		desc := errorDescription(body)
		if desc == "" {
			desc = "symbol not found"
		}
		return fmt.Errorf("%w: %s", domain.ErrNotFound, desc)
	case status != http.StatusOK:
		return fmt.Errorf("%w: API error %d: %s", domain.ErrExternalService, status, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrExternalService, path, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, rawURL string, q url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	if len(q) > 0 {
		rawURL += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", domain.ErrExternalService, err)
	}
	c.logger.Debug("market request", "url", req.URL.Path, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return body, resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func at(s []*float64, i int) *float64 {
	if i < len(s) {
		return s[i]
	}
	return nil
}

func deref(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ domain.MarketData    = (*Client)(nil)
	_ domain.HealthChecker = (*Client)(nil)
)
