package domain

import (
	"fmt"
	"time"
)

// Timeframe identifies a candle aggregation interval (e.g. "15m", "1h", "4h").
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Candle is a single OHLCV bar for a symbol and timeframe.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// CandleSeries is a chronologically ordered sequence of candles for one
// (symbol, timeframe) pair. Timestamps are strictly increasing; the series is
// never truncated or padded to satisfy a length requirement.
type CandleSeries struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`
}

// Len returns the number of candles in the series.
func (s *CandleSeries) Len() int { return len(s.Candles) }

// Closes returns the close prices in chronological order.
func (s *CandleSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Validate checks series ordering and value sanity.
func (s *CandleSeries) Validate() error {
	for i, c := range s.Candles {
		if c.High < c.Low {
			return &ValidationError{Field: "candle", Message: fmt.Sprintf("high %.8f below low %.8f at index %d", c.High, c.Low, i)}
		}
		if i > 0 && !c.OpenTime.After(s.Candles[i-1].OpenTime) {
			return &ValidationError{Field: "candle", Message: fmt.Sprintf("timestamps not strictly increasing at index %d", i)}
		}
	}
	return nil
}

// Regime labels recent price-action character.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeSideways     Regime = "sideways"
	RegimeVolatile     Regime = "volatile"
)

// Regimes lists every valid regime label; parameter tables must cover all of
// them.
func Regimes() []Regime {
	return []Regime{RegimeTrendingUp, RegimeTrendingDown, RegimeSideways, RegimeVolatile}
}

// Valid reports whether the label is one of the closed set.
func (r Regime) Valid() bool {
	switch r {
	case RegimeTrendingUp, RegimeTrendingDown, RegimeSideways, RegimeVolatile:
		return true
	}
	return false
}

// MarketRegime is the regime classifier output for one symbol.
type MarketRegime struct {
	Symbol      string  `json:"symbol"`
	Regime      Regime  `json:"regime"`
	Strength    float64 `json:"strength"`   // [0,1]
	Volatility  float64 `json:"volatility"` // [0,1]
	CandlesUsed int     `json:"candles_used"`
}

// TrendLabel describes structural price action.
type TrendLabel string

const (
	TrendUptrend   TrendLabel = "uptrend"
	TrendDowntrend TrendLabel = "downtrend"
	TrendRange     TrendLabel = "range"
)

// SmartMoneyBias is the inferred institutional positioning direction.
type SmartMoneyBias string

const (
	BiasBullish SmartMoneyBias = "bullish"
	BiasNeutral SmartMoneyBias = "neutral"
	BiasBearish SmartMoneyBias = "bearish"
)

// MarketStructure is the structure analyzer output for one symbol.
type MarketStructure struct {
	Symbol            string         `json:"symbol"`
	Trend             TrendLabel     `json:"trend"`
	SmartMoney        SmartMoneyBias `json:"smart_money"`
	StructureStrength float64        `json:"structure_strength"` // [0,1]
	CandlesUsed       int            `json:"candles_used"`
}

// MarketPhase buckets the overall macro stance.
type MarketPhase string

const (
	PhaseRiskOn  MarketPhase = "risk_on"
	PhaseNeutral MarketPhase = "neutral"
	PhaseRiskOff MarketPhase = "risk_off"
)

// DollarStrength buckets the currency-strength index.
type DollarStrength string

const (
	DollarWeak    DollarStrength = "weak"
	DollarNeutral DollarStrength = "neutral"
	DollarStrong  DollarStrength = "strong"
)

// CryptoSentiment buckets the sentiment index.
type CryptoSentiment string

const (
	SentimentBullish CryptoSentiment = "bullish"
	SentimentNeutral CryptoSentiment = "neutral"
	SentimentBearish CryptoSentiment = "bearish"
)

// FundingEnvironment buckets aggregate funding rates.
type FundingEnvironment string

const (
	FundingPositive FundingEnvironment = "positive"
	FundingNeutral  FundingEnvironment = "neutral"
	FundingNegative FundingEnvironment = "negative"
)

// RiskLevel is the aggregate macro risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MacroSnapshot is the aggregated macro-risk state for one evaluation cycle.
// Missing inputs are listed in MissingInputs and their terms are excluded
// from the exposure computation rather than substituted with defaults.
type MacroSnapshot struct {
	MarketPhase         MarketPhase        `json:"market_phase"`
	DollarStrength      DollarStrength     `json:"dollar_strength"`
	CryptoSentiment     CryptoSentiment    `json:"crypto_sentiment"`
	FundingEnvironment  FundingEnvironment `json:"funding_environment"`
	MacroRiskLevel      RiskLevel          `json:"macro_risk_level"`
	RecommendedExposure float64            `json:"recommended_exposure"` // [0.1, 1.0]
	MissingInputs       []string           `json:"missing_inputs,omitempty"`
	FetchedAt           time.Time          `json:"fetched_at"`
}

// HasInput reports whether the named signal contributed to the snapshot.
func (m *MacroSnapshot) HasInput(name string) bool {
	for _, missing := range m.MissingInputs {
		if missing == name {
			return false
		}
	}
	return true
}

// OptimalParameters holds the regime-specific indicator configuration.
type OptimalParameters struct {
	ConfidenceThreshold  float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	RSIPeriod            int     `yaml:"rsi_period" json:"rsi_period"`
	EMAFast              int     `yaml:"ema_fast" json:"ema_fast"`
	EMASlow              int     `yaml:"ema_slow" json:"ema_slow"`
	MACDFast             int     `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow             int     `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal           int     `yaml:"macd_signal" json:"macd_signal"`
	BollingerPeriod      int     `yaml:"bollinger_period" json:"bollinger_period"`
	BollingerStd         float64 `yaml:"bollinger_std" json:"bollinger_std"`
	StopLossMultiplier   float64 `yaml:"stop_loss_multiplier" json:"stop_loss_multiplier"`
	TakeProfitMultiplier float64 `yaml:"take_profit_multiplier" json:"take_profit_multiplier"`
}

// CapCategory is a coarse capitalization-tier proxy derived from 24h volume.
// It is not asserted to equal true market capitalization.
type CapCategory string

const (
	CapNano  CapCategory = "nano"
	CapMicro CapCategory = "micro"
	CapSmall CapCategory = "small"
	CapMid   CapCategory = "mid"
	CapLarge CapCategory = "large"
)

// VolatilityLabel buckets 24h range relative to price.
type VolatilityLabel string

const (
	VolLow      VolatilityLabel = "low"
	VolMedium   VolatilityLabel = "medium"
	VolHigh     VolatilityLabel = "high"
	VolVeryHigh VolatilityLabel = "very_high"
)

// LiquiditySnapshot is the market-data-derived liquidity/volatility/cap read
// for one symbol.
type LiquiditySnapshot struct {
	Symbol          string          `json:"symbol"`
	SpreadScore     float64         `json:"spread_score"`
	DepthScore      float64         `json:"depth_score"`
	VolumeScore     float64         `json:"volume_score"`
	LiquidityScore  float64         `json:"liquidity_score"` // [0,1]
	CapCategory     CapCategory     `json:"cap_category"`
	VolatilityLabel VolatilityLabel `json:"volatility_label"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// Action is the trade gate verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ReasonCode distinguishes why a decision came out the way it did. A HOLD
// caused by missing data must never look like a HOLD caused by unfavorable
// conditions.
type ReasonCode string

const (
	ReasonCleared                 ReasonCode = "CLEARED"
	ReasonInsufficientSignals     ReasonCode = "INSUFFICIENT_SIGNALS"
	ReasonConfidenceBelowRequired ReasonCode = "CONFIDENCE_BELOW_REQUIRED"
	ReasonSignalsMixed            ReasonCode = "SIGNALS_MIXED"
)

// Factor records one numeric contribution to a decision so the derivation is
// reconstructable from the record alone.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail"`
}

// TradeGateDecision is the decision engine output, one per symbol per cycle.
type TradeGateDecision struct {
	CycleID             string     `json:"cycle_id"`
	Symbol              string     `json:"symbol"`
	Action              Action     `json:"action"`
	AvailableConfidence float64    `json:"available_confidence"`
	RequiredConfidence  float64    `json:"required_confidence"`
	Factors             []Factor   `json:"contributing_factors"`
	Reason              ReasonCode `json:"reason_code"`
	EvaluatedAt         time.Time  `json:"evaluated_at"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
