package structure

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Config holds swing detection and divergence parameters.
type Config struct {
	MinCandles int `yaml:"min_candles"`
	// SwingWindow is the number of neighbors on each side a bar must
	// dominate to count as a swing point.
	SwingWindow int `yaml:"swing_window"`
	// DivergenceEpsilon is the normalized slope magnitude below which a
	// series is considered flat.
	DivergenceEpsilon float64 `yaml:"divergence_epsilon"`
}

// DefaultConfig returns the shipped parameters.
func DefaultConfig() Config {
	return Config{
		MinCandles:        50,
		SwingWindow:       3,
		DivergenceEpsilon: 0.002,
	}
}

// Analyzer derives trend structure and smart-money bias from a validated
// candle series, independently of the regime classifier.
type Analyzer struct {
	config Config
}

// New creates an analyzer.
func New(config Config) *Analyzer {
	return &Analyzer{config: config}
}

// Analyze computes the market structure for the series.
func (a *Analyzer) Analyze(series *domain.CandleSeries) (*domain.MarketStructure, error) {
	n := series.Len()
	if n < a.config.MinCandles {
		return nil, &domain.DataInsufficiencyError{
			Symbol:    series.Symbol,
			Timeframe: series.Timeframe,
			Observed:  n,
			Required:  a.config.MinCandles,
		}
	}

	trend, strength := a.swingTrend(series)
	bias := a.smartMoneyBias(series)

	return &domain.MarketStructure{
		Symbol:            series.Symbol,
		Trend:             trend,
		SmartMoney:        bias,
		StructureStrength: domain.Clamp01(strength),
		CandlesUsed:       n,
	}, nil
}

// swingTrend detects swing highs/lows and labels the trend from the balance
// of higher-highs/higher-lows against lower-highs/lower-lows. The strength is
// the fit quality: the fraction of swing transitions agreeing with the
// dominant direction.
func (a *Analyzer) swingTrend(series *domain.CandleSeries) (domain.TrendLabel, float64) {
	highs, lows := a.swingPoints(series)

	up := risingPairs(highs) + risingPairs(lows)
	down := fallingPairs(highs) + fallingPairs(lows)
	total := pairCount(highs) + pairCount(lows)

	if total == 0 {
		return domain.TrendRange, 0
	}

	upFrac := float64(up) / float64(total)
	downFrac := float64(down) / float64(total)

	switch {
	case upFrac >= 0.6:
		return domain.TrendUptrend, upFrac
	case downFrac >= 0.6:
		return domain.TrendDowntrend, downFrac
	default:
		// Range-bound: strength reflects how evenly balanced the swings
		// are.
		return domain.TrendRange, 1 - math.Abs(upFrac-downFrac)
	}
}

// swingPoints returns the swing high and swing low values in chronological
// order. A bar is a swing high when its high dominates SwingWindow neighbors
// on both sides; swing lows are the mirror.
func (a *Analyzer) swingPoints(series *domain.CandleSeries) (highs, lows []float64) {
	k := a.config.SwingWindow
	candles := series.Candles
	for i := k; i < len(candles)-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, candles[i].High)
		}
		if isLow {
			lows = append(lows, candles[i].Low)
		}
	}
	return highs, lows
}

func risingPairs(vals []float64) int {
	count := 0
	for i := 1; i < len(vals); i++ {
		if vals[i] > vals[i-1] {
			count++
		}
	}
	return count
}

func fallingPairs(vals []float64) int {
	count := 0
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			count++
		}
	}
	return count
}

func pairCount(vals []float64) int {
	if len(vals) < 2 {
		return 0
	}
	return len(vals) - 1
}

// smartMoneyBias compares the accumulation/distribution line's direction
// against price direction. Accumulation against flat-or-falling price reads
// bullish; distribution against flat-or-rising price reads bearish; agreement
// follows the shared direction.
func (a *Analyzer) smartMoneyBias(series *domain.CandleSeries) domain.SmartMoneyBias {
	n := series.Len()
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range series.Candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	ad := talib.Ad(highs, lows, closes, volumes)

	adDir := normalizedSlope(ad)
	priceDir := normalizedSlope(closes)
	eps := a.config.DivergenceEpsilon

	switch {
	case adDir > eps && priceDir <= eps:
		return domain.BiasBullish // accumulation divergence
	case adDir < -eps && priceDir >= -eps:
		return domain.BiasBearish // distribution divergence
	case adDir > eps && priceDir > eps:
		return domain.BiasBullish
	case adDir < -eps && priceDir < -eps:
		return domain.BiasBearish
	default:
		return domain.BiasNeutral
	}
}

// normalizedSlope is the second-half mean minus the first-half mean, scaled
// by the series' absolute mean, so price and A/D directions are comparable.
func normalizedSlope(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mid := len(vals) / 2
	first := mean(vals[:mid])
	second := mean(vals[mid:])

	scale := math.Abs(first) + math.Abs(second)
	if scale == 0 {
		return 0
	}
	return (second - first) / (scale / 2)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
