package features

import "math"

// Candle is one OHLCV bar, oldest-first in every series passed here.
type Candle struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Regime classifications for recent price/volatility behavior.
const (
	RegimeTrend          = "trend"
	RegimeRange          = "range"
	RegimeHighVolatility = "high_volatility"
)

// Row holds per-symbol technical features. Indicator fields are nil when the
// series is too short to compute them; callers must not treat nil as zero.
type Row struct {
	CloseLast     float64  `json:"close_last"`
	RSI14         *float64 `json:"rsi14,omitempty"`
	MA20          *float64 `json:"ma20,omitempty"`
	MA20Gap       *float64 `json:"ma20_gap,omitempty"`
	ATR14         *float64 `json:"atr14,omitempty"`
	VolumeSpike20 *float64 `json:"volume_spike20,omitempty"`
	Volatility20  *float64 `json:"volatility20,omitempty"`
	Regime        string   `json:"regime"`
	SignalScore   float64  `json:"signal_score"`
}

// Thresholds controls regime classification.
type Thresholds struct {
	HighVolatility float64 // volatility20 at or above -> high_volatility
	TrendGap       float64 // |ma20_gap| at or above -> trend
}

// DefaultThresholds match the tuning the scanner ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{HighVolatility: 0.04, TrendGap: 0.02}
}

// BuildRow computes the feature row for one candle series. Returns nil when
// the series is empty.
func BuildRow(candles []Candle, th Thresholds) *Row {
	if len(candles) == 0 {
		return nil
	}
	if th.HighVolatility <= 0 {
		th.HighVolatility = DefaultThresholds().HighVolatility
	}
	if th.TrendGap <= 0 {
		th.TrendGap = DefaultThresholds().TrendGap
	}

	row := &Row{CloseLast: candles[len(candles)-1].Close}
	row.MA20 = sma(closes(candles), 20)
	if row.MA20 != nil && *row.MA20 != 0 {
		gap := row.CloseLast / *row.MA20 - 1
		row.MA20Gap = &gap
	}
	row.RSI14 = rsi(closes(candles), 14)
	row.ATR14 = atr(candles, 14)
	row.Volatility20 = returnVolatility(closes(candles), 20)
	row.VolumeSpike20 = volumeSpike(candles, 20)
	row.Regime = classify(row, th)
	row.SignalScore = signalScore(row)
	return row
}

func closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func sma(vals []float64, n int) *float64 {
	if len(vals) < n {
		return nil
	}
	sum := 0.0
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	m := sum / float64(n)
	return &m
}

// rsi is Wilder-style over the last n diffs: simple average gain vs loss,
// RSI pinned to 100 on gains with zero average loss.
func rsi(vals []float64, n int) *float64 {
	if len(vals) < n+1 {
		return nil
	}
	var gain, loss float64
	tail := vals[len(vals)-n-1:]
	for i := 1; i < len(tail); i++ {
		d := tail[i] - tail[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	var out float64
	switch {
	case avgLoss == 0 && avgGain > 0:
		out = 100
	case avgLoss == 0:
		out = 50
	default:
		rs := avgGain / avgLoss
		out = 100 - 100/(1+rs)
	}
	return &out
}

func trueRange(cur, prev Candle) float64 {
	tr := cur.High - cur.Low
	if hc := math.Abs(cur.High - prev.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(cur.Low - prev.Close); lc > tr {
		tr = lc
	}
	return tr
}

func atr(candles []Candle, n int) *float64 {
	if len(candles) < n+1 {
		return nil
	}
	tail := candles[len(candles)-n-1:]
	sum := 0.0
	for i := 1; i < len(tail); i++ {
		sum += trueRange(tail[i], tail[i-1])
	}
	m := sum / float64(n)
	return &m
}

// returnVolatility is the population std-dev of the last n pct returns.
func returnVolatility(vals []float64, n int) *float64 {
	if len(vals) < n+1 {
		return nil
	}
	tail := vals[len(vals)-n-1:]
	rets := make([]float64, 0, n)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] == 0 {
			return nil
		}
		rets = append(rets, tail[i]/tail[i-1]-1)
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets))
	sd := math.Sqrt(variance)
	return &sd
}

func volumeSpike(candles []Candle, n int) *float64 {
	if len(candles) < n {
		return nil
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Volume
	}
	avg := sum / float64(n)
	if avg == 0 {
		return nil
	}
	spike := candles[len(candles)-1].Volume / avg
	return &spike
}

func classify(row *Row, th Thresholds) string {
	if row.Volatility20 != nil && *row.Volatility20 >= th.HighVolatility {
		return RegimeHighVolatility
	}
	if row.MA20Gap != nil && math.Abs(*row.MA20Gap) >= th.TrendGap {
		return RegimeTrend
	}
	return RegimeRange
}

// signalScore blends a mean-reversion RSI read with the MA20 gap into [-1, 1].
// Missing inputs contribute zero rather than faking a neutral indicator.
func signalScore(row *Row) float64 {
	score := 0.0
	if row.RSI14 != nil {
		score += (50 - *row.RSI14) / 50 * 0.6
	}
	if row.MA20Gap != nil {
		score += clamp(*row.MA20Gap*10, -0.4, 0.4)
	}
	return clamp(score, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
