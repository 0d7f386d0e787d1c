package gate

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// priceFeedSource keys the circuit breaker shared by all candle fetches.
const priceFeedSource = "price_feed"

// CandleSource is the slice of the exchange connector the gate consumes.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) (*domain.CandleSeries, error)
}

// Config holds the sufficiency thresholds.
type Config struct {
	// MinAnalysisCandles gates single-timeframe analytics (regime,
	// structure).
	MinAnalysisCandles int `yaml:"min_analysis_candles"`
	// MinSynthesisCandles gates full multi-timeframe synthesis.
	MinSynthesisCandles int `yaml:"min_synthesis_candles"`
	// FetchLimit is how many candles to request from the upstream.
	FetchLimit int `yaml:"fetch_limit"`
}

// DefaultConfig uses the reference thresholds: 50 candles for analytics, 200
// for synthesis.
func DefaultConfig() Config {
	return Config{
		MinAnalysisCandles:  50,
		MinSynthesisCandles: 200,
		FetchLimit:          250,
	}
}

// Gate validates that enough candles exist before any analytic runs. An
// insufficient series surfaces as a first-class DataInsufficiencyError with
// observed and required counts, never as a shorter default series. Transport
// failures run through the price-feed circuit breaker; data insufficiency
// does not count against it.
type Gate struct {
	source   CandleSource
	breakers *circuit.Manager
	config   Config
	metrics  *telemetry.Metrics // optional
}

// New creates a sufficiency gate over the candle source.
func New(source CandleSource, breakers *circuit.Manager, config Config, metrics *telemetry.Metrics) *Gate {
	return &Gate{source: source, breakers: breakers, config: config, metrics: metrics}
}

// ValidateForAnalysis fetches and validates a series against the analytics
// minimum.
func (g *Gate) ValidateForAnalysis(ctx context.Context, symbol string, timeframe domain.Timeframe) (*domain.CandleSeries, error) {
	return g.validate(ctx, symbol, timeframe, g.config.MinAnalysisCandles)
}

// ValidateForSynthesis fetches and validates a series against the
// multi-timeframe synthesis minimum.
func (g *Gate) ValidateForSynthesis(ctx context.Context, symbol string, timeframe domain.Timeframe) (*domain.CandleSeries, error) {
	return g.validate(ctx, symbol, timeframe, g.config.MinSynthesisCandles)
}

func (g *Gate) validate(ctx context.Context, symbol string, timeframe domain.Timeframe, required int) (*domain.CandleSeries, error) {
	if g.metrics != nil {
		g.metrics.SourceRequests.WithLabelValues(priceFeedSource).Inc()
	}

	var series *domain.CandleSeries
	err := g.breakers.Call(ctx, priceFeedSource, func(callCtx context.Context) error {
		fetched, ferr := g.source.FetchCandles(callCtx, symbol, timeframe, g.config.FetchLimit)
		if ferr != nil {
			return ferr
		}
		if fetched.Len() < required {
			// The upstream answered; thin history is a data failure, not
			// a transport one.
			return &domain.DataInsufficiencyError{
				Symbol:    symbol,
				Timeframe: timeframe,
				Observed:  fetched.Len(),
				Required:  required,
			}
		}
		series = fetched
		return nil
	})
	if err != nil {
		if g.metrics != nil {
			g.metrics.SourceFailures.WithLabelValues(priceFeedSource, failureKind(err)).Inc()
		}
		if domain.IsInsufficient(err) {
			log.Debug().Str("symbol", symbol).Str("timeframe", string(timeframe)).Err(err).Msg("series below sufficiency threshold")
		} else {
			log.Warn().Str("symbol", symbol).Str("timeframe", string(timeframe)).Err(err).Msg("candle fetch failed")
		}
		return nil, err
	}
	return series, nil
}

func failureKind(err error) string {
	if domain.IsInsufficient(err) {
		return "data"
	}
	return "transport"
}

// BreakerState reports the price-feed breaker state for health checks.
func (g *Gate) BreakerState() string {
	return g.breakers.Breaker(priceFeedSource).State().String()
}
