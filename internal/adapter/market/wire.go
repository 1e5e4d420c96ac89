package market

import (
	"encoding/json"
	"time"
)

// rawValue is Yahoo's {"raw": 1.23, "fmt": "1.23"} number wrapper. Missing
// metrics arrive as {} and decode to a nil Raw.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v *rawValue) ptr() *float64 {
	if v == nil {
		return nil
	}
	return v.Raw
}

func (v *rawValue) time() *time.Time {
	if v == nil || v.Raw == nil {
		return nil
	}
	t := time.Unix(int64(*v.Raw), 0).UTC()
	return &t
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type quoteSummaryEnvelope struct {
	QuoteSummary struct {
		Result []quoteSummary `json:"result"`
		Error  *apiError      `json:"error"`
	} `json:"quoteSummary"`
}

type quoteSummary struct {
	Price *struct {
		LongName           string    `json:"longName"`
		ShortName          string    `json:"shortName"`
		Currency           string    `json:"currency"`
		RegularMarketPrice *rawValue `json:"regularMarketPrice"`
		MarketCap          *rawValue `json:"marketCap"`
	} `json:"price"`
	SummaryDetail *struct {
		TrailingPE    *rawValue `json:"trailingPE"`
		Beta          *rawValue `json:"beta"`
		DividendYield *rawValue `json:"dividendYield"`
		DividendRate  *rawValue `json:"dividendRate"`
		PayoutRatio   *rawValue `json:"payoutRatio"`
		MarketCap     *rawValue `json:"marketCap"`
	} `json:"summaryDetail"`
	FinancialData *struct {
		CurrentPrice      *rawValue `json:"currentPrice"`
		ReturnOnEquity    *rawValue `json:"returnOnEquity"`
		DebtToEquity      *rawValue `json:"debtToEquity"`
		RevenueGrowth     *rawValue `json:"revenueGrowth"`
		FinancialCurrency string    `json:"financialCurrency"`
	} `json:"financialData"`
	DefaultKeyStatistics *struct {
		EnterpriseToEbitda *rawValue `json:"enterpriseToEbitda"`
		Beta               *rawValue `json:"beta"`
	} `json:"defaultKeyStatistics"`
	AssetProfile *struct {
		Sector              string `json:"sector"`
		Industry            string `json:"industry"`
		Country             string `json:"country"`
		Website             string `json:"website"`
		LongBusinessSummary string `json:"longBusinessSummary"`
		FullTimeEmployees   int64  `json:"fullTimeEmployees"`
	} `json:"assetProfile"`
	CalendarEvents *struct {
		Earnings *struct {
			EarningsDate    []rawValue `json:"earningsDate"`
			EarningsAverage *rawValue  `json:"earningsAverage"`
			EarningsLow     *rawValue  `json:"earningsLow"`
			EarningsHigh    *rawValue  `json:"earningsHigh"`
			RevenueAverage  *rawValue  `json:"revenueAverage"`
			RevenueLow      *rawValue  `json:"revenueLow"`
			RevenueHigh     *rawValue  `json:"revenueHigh"`
		} `json:"earnings"`
		ExDividendDate *rawValue `json:"exDividendDate"`
		DividendDate   *rawValue `json:"dividendDate"`
	} `json:"calendarEvents"`
}

type chartEnvelope struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
	Events struct {
		// Keyed by the unix timestamp as a string.
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
	} `json:"events"`
}

type searchEnvelope struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// errorDescription extracts a Yahoo error description from an error body.
func errorDescription(body []byte) string {
	var probe struct {
		QuoteSummary struct{ Error *apiError } `json:"quoteSummary"`
		Chart        struct{ Error *apiError } `json:"chart"`
		Finance      struct{ Error *apiError } `json:"finance"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return ""
	}
	for _, e := range []*apiError{probe.QuoteSummary.Error, probe.Chart.Error, probe.Finance.Error} {
		if e != nil && e.Description != "" {
			return e.Description
		}
	}
	return ""
}
