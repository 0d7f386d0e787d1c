package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain"
)

func macroSnap(risk domain.RiskLevel, exposure float64) *domain.MacroSnapshot {
	return &domain.MacroSnapshot{
		MarketPhase:         domain.PhaseNeutral,
		DollarStrength:      domain.DollarNeutral,
		CryptoSentiment:     domain.SentimentNeutral,
		FundingEnvironment:  domain.FundingNeutral,
		MacroRiskLevel:      risk,
		RecommendedExposure: exposure,
	}
}

func marketStructure(bias domain.SmartMoneyBias, strength float64) *domain.MarketStructure {
	return &domain.MarketStructure{
		Symbol:            "BTCUSDT",
		Trend:             domain.TrendUptrend,
		SmartMoney:        bias,
		StructureStrength: strength,
		CandlesUsed:       60,
	}
}

func fullInputs(bias domain.SmartMoneyBias, dir Direction, score float64) Inputs {
	return Inputs{
		Regime:     &domain.MarketRegime{Symbol: "BTCUSDT", Regime: domain.RegimeTrendingUp, Strength: 0.9},
		Structure:  marketStructure(bias, 0.75),
		Macro:      macroSnap(domain.RiskMedium, 0.6),
		Params:     domain.OptimalParameters{ConfidenceThreshold: 0.5, RSIPeriod: 14, EMAFast: 9, EMASlow: 21},
		Confluence: &Confluence{Symbol: "BTCUSDT", Score: score, Direction: dir},
	}
}

func TestDecide_MissingInputsFailClosed(t *testing.T) {
	e := New(nil)

	d := e.Decide("cycle-1", "BTCUSDT", Inputs{})

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ReasonInsufficientSignals, d.Reason)
	require.Len(t, d.Factors, 4)
	assert.Equal(t, "missing_regime", d.Factors[0].Name)
}

func TestDecide_MissingMacroAloneFailsClosed(t *testing.T) {
	in := fullInputs(domain.BiasBullish, DirectionLong, 0.9)
	in.Macro = nil

	d := New(nil).Decide("cycle-1", "BTCUSDT", in)

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ReasonInsufficientSignals, d.Reason)
}

func TestDecide_ClearsConfirmedLong(t *testing.T) {
	d := New(nil).Decide("cycle-1", "BTCUSDT", fullInputs(domain.BiasBullish, DirectionLong, 0.9))

	assert.Equal(t, domain.ActionBuy, d.Action)
	assert.Equal(t, domain.ReasonCleared, d.Reason)
	// Base 0.5, no high-risk penalty, structure 0.75 lowers by x0.90.
	assert.InDelta(t, 0.45, d.RequiredConfidence, 1e-9)
	assert.Equal(t, 0.9, d.AvailableConfidence)
	assert.NotEmpty(t, d.Factors)
}

func TestDecide_ClearsConfirmedShort(t *testing.T) {
	d := New(nil).Decide("cycle-1", "BTCUSDT", fullInputs(domain.BiasBearish, DirectionShort, 0.9))

	assert.Equal(t, domain.ActionSell, d.Action)
	assert.Equal(t, domain.ReasonCleared, d.Reason)
}

func TestDecide_ConflictingSignalsHoldAsMixed(t *testing.T) {
	d := New(nil).Decide("cycle-1", "BTCUSDT", fullInputs(domain.BiasBearish, DirectionLong, 0.9))

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ReasonSignalsMixed, d.Reason)
}

func TestDecide_UnconfirmedDirectionHoldsAsMixed(t *testing.T) {
	d := New(nil).Decide("cycle-1", "BTCUSDT", fullInputs(domain.BiasNeutral, DirectionLong, 0.9))

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ReasonSignalsMixed, d.Reason)
}

func TestDecide_WeakConfluenceHoldsBelowRequired(t *testing.T) {
	d := New(nil).Decide("cycle-1", "BTCUSDT", fullInputs(domain.BiasBullish, DirectionLong, 0.2))

	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ReasonConfidenceBelowRequired, d.Reason)
	assert.Less(t, d.AvailableConfidence, d.RequiredConfidence)
}

func TestDeriveRequiredConfidence_HighRiskRaisesTheBar(t *testing.T) {
	ms := marketStructure(domain.BiasNeutral, 0.5)

	calm, _ := DeriveRequiredConfidence(0.6, macroSnap(domain.RiskMedium, 0.6), ms)
	stressed, _ := DeriveRequiredConfidence(0.6, macroSnap(domain.RiskHigh, 0.6), ms)

	assert.Greater(t, stressed, calm)
}

func TestDeriveRequiredConfidence_LowerExposureRaisesBarUnderHighRisk(t *testing.T) {
	ms := marketStructure(domain.BiasNeutral, 0.5)

	mild, _ := DeriveRequiredConfidence(0.6, macroSnap(domain.RiskHigh, 0.45), ms)
	severe, _ := DeriveRequiredConfidence(0.6, macroSnap(domain.RiskHigh, 0.25), ms)
	floor, _ := DeriveRequiredConfidence(0.6, macroSnap(domain.RiskHigh, 0.10), ms)

	assert.Greater(t, severe, mild)
	assert.Greater(t, floor, severe)
	// Penalty caps at 0.10 once exposure bottoms out.
	assert.InDelta(t, 0.70, floor, 1e-9)
}

func TestDeriveRequiredConfidence_CleanStructureLowersTheBar(t *testing.T) {
	macro := macroSnap(domain.RiskMedium, 0.6)

	noisy, _ := DeriveRequiredConfidence(0.6, macro, marketStructure(domain.BiasNeutral, 0.25))
	middling, _ := DeriveRequiredConfidence(0.6, macro, marketStructure(domain.BiasNeutral, 0.5))
	decent, _ := DeriveRequiredConfidence(0.6, macro, marketStructure(domain.BiasNeutral, 0.65))
	clean, _ := DeriveRequiredConfidence(0.6, macro, marketStructure(domain.BiasNeutral, 0.8))

	assert.Greater(t, noisy, middling)
	assert.Greater(t, middling, decent)
	assert.Greater(t, decent, clean)
	assert.InDelta(t, 0.6*1.15, noisy, 1e-9)
	assert.InDelta(t, 0.6*0.90, clean, 1e-9)
}

func TestDeriveRequiredConfidence_ClampsToOne(t *testing.T) {
	required, _ := DeriveRequiredConfidence(0.95, macroSnap(domain.RiskHigh, 0.1), marketStructure(domain.BiasNeutral, 0.25))
	assert.Equal(t, 1.0, required)
}

func TestDeriveRequiredConfidence_FactorsReconstructDerivation(t *testing.T) {
	required, factors := DeriveRequiredConfidence(0.6, macroSnap(domain.RiskHigh, 0.3), marketStructure(domain.BiasNeutral, 0.8))

	require.Len(t, factors, 3)
	assert.Equal(t, "base_threshold", factors[0].Name)
	assert.Equal(t, "macro_risk_penalty", factors[1].Name)
	assert.Equal(t, "structure_adjustment", factors[2].Name)

	sum := 0.0
	for _, f := range factors {
		sum += f.Contribution
	}
	assert.InDelta(t, required, sum, 1e-9)
}
