package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// Inputs bundles everything the gate evaluates for one symbol. Any nil
// component means the upstream analysis could not run this cycle.
type Inputs struct {
	Regime     *domain.MarketRegime
	Structure  *domain.MarketStructure
	Macro      *domain.MacroSnapshot
	Params     domain.OptimalParameters
	Confluence *Confluence
}

// Engine turns analysis inputs into a fully attributed trade gate decision.
// It fails closed: missing inputs always produce HOLD, and a HOLD for missing
// data carries a different reason code than a HOLD for weak conditions.
type Engine struct {
	metrics *telemetry.Metrics // optional
}

// New creates an engine. metrics may be nil.
func New(metrics *telemetry.Metrics) *Engine {
	return &Engine{metrics: metrics}
}

// Decide evaluates one symbol. The returned decision always carries the full
// factor breakdown so the outcome can be reconstructed from the record alone.
func (e *Engine) Decide(cycleID, symbol string, in Inputs) *domain.TradeGateDecision {
	decision := &domain.TradeGateDecision{
		CycleID:     cycleID,
		Symbol:      symbol,
		Action:      domain.ActionHold,
		EvaluatedAt: time.Now().UTC(),
	}

	if missing := missingInputs(in); len(missing) > 0 {
		decision.Reason = domain.ReasonInsufficientSignals
		for _, name := range missing {
			decision.Factors = append(decision.Factors, domain.Factor{
				Name:   "missing_" + name,
				Detail: name + " unavailable this cycle",
			})
		}
		e.record(decision)
		return decision
	}

	required, factors := DeriveRequiredConfidence(in.Params.ConfidenceThreshold, in.Macro, in.Structure)
	decision.RequiredConfidence = required
	decision.AvailableConfidence = in.Confluence.Score
	decision.Factors = factors
	decision.Factors = append(decision.Factors, domain.Factor{
		Name:         "confluence_score",
		Contribution: in.Confluence.Score,
		Detail:       fmt.Sprintf("direction=%s votes=%d", in.Confluence.Direction, len(in.Confluence.Votes)),
	})

	action, agreed := agreedAction(in.Confluence.Direction, in.Structure.SmartMoney)
	if !agreed {
		decision.Reason = domain.ReasonSignalsMixed
		decision.Factors = append(decision.Factors, domain.Factor{
			Name:   "signal_agreement",
			Detail: fmt.Sprintf("confluence=%s smart_money=%s", in.Confluence.Direction, in.Structure.SmartMoney),
		})
		e.record(decision)
		return decision
	}

	if decision.AvailableConfidence < required {
		decision.Reason = domain.ReasonConfidenceBelowRequired
		e.record(decision)
		return decision
	}

	decision.Action = action
	decision.Reason = domain.ReasonCleared
	e.record(decision)
	return decision
}

// DeriveRequiredConfidence computes the confidence bar for acting this cycle.
// The bar starts at the regime's threshold, rises under high macro risk in
// proportion to how far recommended exposure sits below half, and shifts with
// structure quality. The result is clamped to [0,1].
func DeriveRequiredConfidence(base float64, macro *domain.MacroSnapshot, ms *domain.MarketStructure) (float64, []domain.Factor) {
	factors := []domain.Factor{{
		Name:         "base_threshold",
		Contribution: base,
		Detail:       "regime confidence threshold",
	}}

	required := base

	if macro.MacroRiskLevel == domain.RiskHigh {
		penalty := 0.05 + 0.05*domain.Clamp01((0.5-macro.RecommendedExposure)/0.4)
		required += penalty
		factors = append(factors, domain.Factor{
			Name:         "macro_risk_penalty",
			Contribution: penalty,
			Detail:       fmt.Sprintf("risk=high exposure=%.2f", macro.RecommendedExposure),
		})
	}

	mult := structureMultiplier(ms.StructureStrength)
	if mult != 1.0 {
		adjusted := required * mult
		factors = append(factors, domain.Factor{
			Name:         "structure_adjustment",
			Contribution: adjusted - required,
			Detail:       fmt.Sprintf("strength=%.2f multiplier=%.2f", ms.StructureStrength, mult),
		})
		required = adjusted
	}

	return domain.Clamp01(required), factors
}

// structureMultiplier lowers the bar for clean structure and raises it for
// noise.
func structureMultiplier(strength float64) float64 {
	switch {
	case strength > 0.7:
		return 0.90
	case strength > 0.6:
		return 0.95
	case strength < 0.3:
		return 1.15
	default:
		return 1.0
	}
}

// agreedAction maps the confluence lean and smart-money bias to an action.
// Long confluence confirmed by bullish accumulation buys; short confluence
// confirmed by bearish distribution sells. Anything else is disagreement.
func agreedAction(dir Direction, bias domain.SmartMoneyBias) (domain.Action, bool) {
	switch {
	case dir == DirectionLong && bias == domain.BiasBullish:
		return domain.ActionBuy, true
	case dir == DirectionShort && bias == domain.BiasBearish:
		return domain.ActionSell, true
	default:
		return domain.ActionHold, false
	}
}

func missingInputs(in Inputs) []string {
	var missing []string
	if in.Regime == nil {
		missing = append(missing, "regime")
	}
	if in.Structure == nil {
		missing = append(missing, "structure")
	}
	if in.Macro == nil {
		missing = append(missing, "macro")
	}
	if in.Confluence == nil {
		missing = append(missing, "confluence")
	}
	return missing
}

func (e *Engine) record(d *domain.TradeGateDecision) {
	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(string(d.Action), string(d.Reason)).Inc()
	}
	log.Debug().
		Str("cycle_id", d.CycleID).
		Str("symbol", d.Symbol).
		Str("action", string(d.Action)).
		Str("reason", string(d.Reason)).
		Float64("available", d.AvailableConfidence).
		Float64("required", d.RequiredConfidence).
		Msg("trade gate decision")
}
