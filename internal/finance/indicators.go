package finance

import "math"

// Indicators summarizes the technical picture of a close-price series.
// Values are nil when the series is too short to compute them.
type Indicators struct {
	LastClose  float64  `json:"last_close"`
	SMA20      *float64 `json:"sma_20"`
	SMA50      *float64 `json:"sma_50"`
	EMA12      *float64 `json:"ema_12"`
	EMA26      *float64 `json:"ema_26"`
	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	RSI14      *float64 `json:"rsi_14"`
	Trend      string   `json:"trend"`
	Momentum   string   `json:"momentum"`
}

// SMA is the simple moving average of the last n closes.
func SMA(closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n {
		return 0, false
	}
	var sum float64
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n), true
}

// EMASeries returns the exponential moving average for every point from
// index n-1 on, seeded with the SMA of the first n closes.
func EMASeries(closes []float64, n int) []float64 {
	if n <= 0 || len(closes) < n {
		return nil
	}
	k := 2.0 / float64(n+1)
	seed, _ := SMA(closes[:n], n)
	out := make([]float64, 0, len(closes)-n+1)
	out = append(out, seed)
	prev := seed
	for _, c := range closes[n:] {
		prev = c*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// RSI is Wilder's relative strength index over n periods.
func RSI(closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) <= n {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/float64(n), loss/float64(n)
	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// ComputeIndicators derives SMA, EMA, MACD(12,26,9) and RSI(14) from closes
// in chronological order.
func ComputeIndicators(closes []float64) Indicators {
	var ind Indicators
	if len(closes) == 0 {
		ind.Trend = "unknown"
		ind.Momentum = "unknown"
		return ind
	}
	ind.LastClose = round2(closes[len(closes)-1])

	if v, ok := SMA(closes, 20); ok {
		ind.SMA20 = ptr(round2(v))
	}
	if v, ok := SMA(closes, 50); ok {
		ind.SMA50 = ptr(round2(v))
	}

	ema12 := EMASeries(closes, 12)
	ema26 := EMASeries(closes, 26)
	if len(ema12) > 0 {
		ind.EMA12 = ptr(round2(ema12[len(ema12)-1]))
	}
	if len(ema26) > 0 {
		ind.EMA26 = ptr(round2(ema26[len(ema26)-1]))
		// Align the 12-period series with the 26-period one.
		offset := len(ema12) - len(ema26)
		macd := make([]float64, len(ema26))
		for i := range ema26 {
			macd[i] = ema12[i+offset] - ema26[i]
		}
		ind.MACD = ptr(round2(macd[len(macd)-1]))
		if sig := EMASeries(macd, 9); len(sig) > 0 {
			ind.MACDSignal = ptr(round2(sig[len(sig)-1]))
		}
	}
	if v, ok := RSI(closes, 14); ok {
		ind.RSI14 = ptr(round2(v))
	}

	ind.Trend = trendOf(ind)
	ind.Momentum = momentumOf(ind)
	return ind
}

func trendOf(ind Indicators) string {
	switch {
	case ind.SMA20 == nil:
		return "unknown"
	case ind.SMA50 != nil && *ind.SMA20 > *ind.SMA50 && ind.LastClose > *ind.SMA20:
		return "bullish"
	case ind.SMA50 != nil && *ind.SMA20 < *ind.SMA50 && ind.LastClose < *ind.SMA20:
		return "bearish"
	case ind.LastClose >= *ind.SMA20:
		return "neutral-positive"
	default:
		return "neutral-negative"
	}
}

func momentumOf(ind Indicators) string {
	switch {
	case ind.RSI14 == nil:
		return "unknown"
	case *ind.RSI14 >= 70:
		return "overbought"
	case *ind.RSI14 <= 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func ptr(v float64) *float64 { return &v }
