package macro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/net/circuit"
)

func TestComputeExposure_AllBearishClampsToFloor(t *testing.T) {
	snap := &domain.MacroSnapshot{
		MarketPhase:        domain.PhaseRiskOff,
		DollarStrength:     domain.DollarStrong,
		CryptoSentiment:    domain.SentimentBearish,
		FundingEnvironment: domain.FundingNegative,
		MacroRiskLevel:     domain.RiskHigh,
	}

	// 0.5 - 0.3 - 0.1 - 0.15 - 0.05 = -0.1, x0.8 = -0.08, floor at 0.10.
	assert.Equal(t, 0.1, ComputeExposure(snap))
}

func TestComputeExposure_AllBullishClampsToCeiling(t *testing.T) {
	snap := &domain.MacroSnapshot{
		MarketPhase:        domain.PhaseRiskOn,
		DollarStrength:     domain.DollarWeak,
		CryptoSentiment:    domain.SentimentBullish,
		FundingEnvironment: domain.FundingPositive,
		MacroRiskLevel:     domain.RiskLow,
	}

	// 0.5 + 0.2 + 0.1 + 0.15 + 0.05 = 1.0, x1.1 clamps to 1.0.
	assert.Equal(t, 1.0, ComputeExposure(snap))
}

func TestComputeExposure_MissingSignalTermIsSkipped(t *testing.T) {
	with := &domain.MacroSnapshot{
		MarketPhase:        domain.PhaseNeutral,
		DollarStrength:     domain.DollarStrong,
		CryptoSentiment:    domain.SentimentNeutral,
		FundingEnvironment: domain.FundingNeutral,
		MacroRiskLevel:     domain.RiskMedium,
	}
	missing := &domain.MacroSnapshot{
		MarketPhase:        domain.PhaseNeutral,
		DollarStrength:     domain.DollarStrong, // stale label, signal missing
		CryptoSentiment:    domain.SentimentNeutral,
		FundingEnvironment: domain.FundingNeutral,
		MacroRiskLevel:     domain.RiskMedium,
		MissingInputs:      []string{SignalDollar},
	}
	neutral := &domain.MacroSnapshot{
		MarketPhase:        domain.PhaseNeutral,
		DollarStrength:     domain.DollarNeutral,
		CryptoSentiment:    domain.SentimentNeutral,
		FundingEnvironment: domain.FundingNeutral,
		MacroRiskLevel:     domain.RiskMedium,
	}

	// A missing signal contributes nothing: same exposure as a neutral read,
	// different from an available strong read.
	assert.Equal(t, ComputeExposure(neutral), ComputeExposure(missing))
	assert.Less(t, ComputeExposure(with), ComputeExposure(missing))
}

func TestRiskLevel_AllMissingDefaultsHigh(t *testing.T) {
	assert.Equal(t, domain.RiskHigh, riskLevel(nil))
	assert.Equal(t, domain.RiskMedium, riskLevel([]float64{1, -1, 0}))
	assert.Equal(t, domain.RiskHigh, riskLevel([]float64{1, 1, 0}))
	assert.Equal(t, domain.RiskLow, riskLevel([]float64{-1, -1, 0}))
}

// fastConfig removes retries and rate limits so failure paths do not slow
// the tests down.
func fastConfig() Config {
	cfg := DefaultConfig()
	for name, budget := range cfg.Budgets {
		budget.MaxRetries = 0
		budget.BackoffBase = time.Millisecond
		budget.RPS = 1000
		budget.Burst = 1000
		cfg.Budgets[name] = budget
	}
	return cfg
}

func stubSources(sentiment, dominance, dollar, totalCap, funding func(context.Context) (float64, error)) Sources {
	return Sources{
		Sentiment: sentiment,
		Dominance: dominance,
		Dollar:    dollar,
		TotalCap:  totalCap,
		Funding: func(ctx context.Context, symbol string) (float64, error) {
			return funding(ctx)
		},
	}
}

func value(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

func unavailable() func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) {
		return 0, &domain.TransportError{Source: "test", Message: "down"}
	}
}

func TestGetEnvironment_ReducesAvailableSignals(t *testing.T) {
	sources := stubSources(
		value(30),      // bearish sentiment
		value(50),      // risk-off dominance
		unavailable(),  // dollar index missing
		value(1.0e12),  // cap below risk-off floor
		value(-0.0002), // negative funding
	)

	agg := New(fastConfig(), sources, circuit.NewManager(circuit.DefaultConfig()), nil, nil)
	snap, err := agg.GetEnvironment(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseRiskOff, snap.MarketPhase)
	assert.Equal(t, domain.SentimentBearish, snap.CryptoSentiment)
	assert.Equal(t, domain.FundingNegative, snap.FundingEnvironment)
	assert.Equal(t, domain.DollarNeutral, snap.DollarStrength)
	assert.Equal(t, []string{SignalDollar}, snap.MissingInputs)

	// Every available vote is risk-raising.
	assert.Equal(t, domain.RiskHigh, snap.MacroRiskLevel)
	// 0.5 - 0.3 - 0.15 - 0.05 = 0, dollar term skipped, x0.8 = 0, floor 0.10.
	assert.Equal(t, 0.1, snap.RecommendedExposure)
}

func TestGetEnvironment_AllSignalsDownIsConservative(t *testing.T) {
	sources := stubSources(unavailable(), unavailable(), unavailable(), unavailable(), unavailable())

	agg := New(fastConfig(), sources, circuit.NewManager(circuit.DefaultConfig()), nil, nil)
	snap, err := agg.GetEnvironment(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Len(t, snap.MissingInputs, 5)
	assert.Equal(t, domain.RiskHigh, snap.MacroRiskLevel)
	// Base 0.5 with every additive term skipped, x0.8 for high risk.
	assert.InDelta(t, 0.4, snap.RecommendedExposure, 1e-9)
}
