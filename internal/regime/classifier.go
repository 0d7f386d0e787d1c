package regime

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Config holds the classification bands. The bands are configuration, not
// business logic: they were re-validated so that all four regimes are
// reachable (see the reachability test).
type Config struct {
	MinCandles int `yaml:"min_candles"`
	ATRPeriod  int `yaml:"atr_period"`
	// ATRFullScale is the normalized ATR (ATR/close) mapped to volatility
	// 1.0.
	ATRFullScale float64 `yaml:"atr_full_scale"`
	// TrendBand: directional consistency at or above this classifies as
	// trending.
	TrendBand float64 `yaml:"trend_band"`
	// VolLowBand / VolHighBand: below the low band (together with trend
	// below its band) is sideways; at or above the high band is volatile
	// regardless of trend.
	VolLowBand  float64 `yaml:"vol_low_band"`
	VolHighBand float64 `yaml:"vol_high_band"`
}

// DefaultConfig returns the shipped bands.
func DefaultConfig() Config {
	return Config{
		MinCandles:   50,
		ATRPeriod:    14,
		ATRFullScale: 0.05,
		TrendBand:    0.30,
		VolLowBand:   0.40,
		VolHighBand:  0.75,
	}
}

// Classifier labels recent price action with a regime, strength, and
// volatility score.
type Classifier struct {
	config Config
}

// New creates a classifier with the given bands.
func New(config Config) *Classifier {
	return &Classifier{config: config}
}

// Classify labels the series. The series must already have passed the
// sufficiency gate; a short series is rejected here as well rather than
// classified on thin evidence.
func (c *Classifier) Classify(series *domain.CandleSeries) (*domain.MarketRegime, error) {
	n := series.Len()
	if n < c.config.MinCandles {
		return nil, &domain.DataInsufficiencyError{
			Symbol:    series.Symbol,
			Timeframe: series.Timeframe,
			Observed:  n,
			Required:  c.config.MinCandles,
		}
	}

	trend := c.trendStrength(series)
	vol := c.volatility(series)

	regime, strength := c.classify(trend, vol)

	return &domain.MarketRegime{
		Symbol:      series.Symbol,
		Regime:      regime,
		Strength:    domain.Clamp01(strength),
		Volatility:  domain.Clamp01(vol),
		CandlesUsed: n,
	}, nil
}

// trendStrength is the signed directional consistency of returns over the
// window: sum of returns over sum of absolute returns, in [-1, 1]. A steady
// trend approaches +/-1; oscillation around a level approaches 0.
func (c *Classifier) trendStrength(series *domain.CandleSeries) float64 {
	closes := series.Closes()
	var signed, total float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		r := (closes[i] - closes[i-1]) / closes[i-1]
		signed += r
		total += math.Abs(r)
	}
	if total == 0 {
		return 0
	}
	return signed / total
}

// volatility is the normalized average true range: ATR over the last close,
// scaled so ATRFullScale (5% of price by default) maps to 1.0.
func (c *Classifier) volatility(series *domain.CandleSeries) float64 {
	n := series.Len()
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, candle := range series.Candles {
		highs[i] = candle.High
		lows[i] = candle.Low
		closes[i] = candle.Close
	}

	atr := talib.Atr(highs, lows, closes, c.config.ATRPeriod)
	last := atr[len(atr)-1]
	lastClose := closes[n-1]
	if lastClose <= 0 || math.IsNaN(last) {
		return 0
	}
	return domain.Clamp01((last / lastClose) / c.config.ATRFullScale)
}

// classify applies the threshold bands. Sideways is not a catch-all: it is
// chosen only when both trend and volatility sit below their low bands.
func (c *Classifier) classify(trend, vol float64) (domain.Regime, float64) {
	absTrend := math.Abs(trend)

	switch {
	case vol >= c.config.VolHighBand:
		return domain.RegimeVolatile, vol
	case absTrend >= c.config.TrendBand && trend > 0:
		return domain.RegimeTrendingUp, absTrend
	case absTrend >= c.config.TrendBand && trend < 0:
		return domain.RegimeTrendingDown, absTrend
	case vol >= c.config.VolLowBand:
		// No meaningful trend but choppy enough that sideways would
		// understate the risk.
		return domain.RegimeVolatile, vol
	default:
		return domain.RegimeSideways, 1 - math.Max(absTrend, vol)
	}
}
