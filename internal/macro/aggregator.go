package macro

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/cache"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/providers/guards"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// Signal names, used as breaker/cache keys and in MissingInputs.
const (
	SignalSentiment = "sentiment"
	SignalDominance = "dominance"
	SignalDollar    = "dollar_index"
	SignalTotalCap  = "total_cap"
	SignalFunding   = "funding"
)

// Thresholds maps raw signal readings to categorical buckets. Reference
// values are documented per field.
type Thresholds struct {
	SentimentBullish float64 `yaml:"sentiment_bullish"`  // index > 60 -> bullish
	SentimentBearish float64 `yaml:"sentiment_bearish"`  // index < 40 -> bearish
	DominanceRiskOff float64 `yaml:"dominance_risk_off"` // dominance > 48% -> risk_off
	DominanceRiskOn  float64 `yaml:"dominance_risk_on"`  // dominance < 42% -> risk_on
	DollarStrong     float64 `yaml:"dollar_strong"`      // index > 105 -> strong
	DollarWeak       float64 `yaml:"dollar_weak"`        // index < 100 -> weak
	CapRiskOn        float64 `yaml:"cap_risk_on"`        // aggregate cap above -> risk-on tilt
	CapRiskOff       float64 `yaml:"cap_risk_off"`       // aggregate cap below -> risk-off tilt
	FundingPositive  float64 `yaml:"funding_positive"`   // rate above -> positive
	FundingNegative  float64 `yaml:"funding_negative"`   // rate below -> negative
}

// DefaultThresholds returns the reference bucketing values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SentimentBullish: 60,
		SentimentBearish: 40,
		DominanceRiskOff: 48,
		DominanceRiskOn:  42,
		DollarStrong:     105,
		DollarWeak:       100,
		CapRiskOn:        3.0e12,
		CapRiskOff:       1.5e12,
		FundingPositive:  0.0001,
		FundingNegative:  -0.0001,
	}
}

// Sources bundles the five scalar fetchers. Funding takes the symbol; the
// other four are global.
type Sources struct {
	Sentiment guards.FetchFunc
	Dominance guards.FetchFunc
	Dollar    guards.FetchFunc
	TotalCap  guards.FetchFunc
	Funding   func(ctx context.Context, symbol string) (float64, error)
}

// Config holds per-signal protection budgets.
type Config struct {
	Thresholds Thresholds                     `yaml:"thresholds"`
	Budgets    map[string]guards.SourceConfig `yaml:"budgets"`
}

// DefaultConfig uses conservative budgets for low-quota macro APIs:
// aggressive caching, 1 rps sustained.
func DefaultConfig() Config {
	budgets := make(map[string]guards.SourceConfig)
	for name, ttl := range map[string]time.Duration{
		SignalSentiment: time.Hour,
		SignalDominance: 15 * time.Minute,
		SignalDollar:    time.Hour,
		SignalTotalCap:  15 * time.Minute,
		SignalFunding:   5 * time.Minute,
	} {
		budget := guards.DefaultSourceConfig(name)
		budget.TTL = ttl
		budgets[name] = budget
	}
	return Config{Thresholds: DefaultThresholds(), Budgets: budgets}
}

// Aggregator polls the five macro signals, each independently cached,
// retried, and circuit-broken, and reduces them to a MacroSnapshot. Missing
// signals are excluded from the exposure computation and recorded, never
// substituted.
type Aggregator struct {
	config   Config
	breakers *circuit.Manager
	metrics  *telemetry.Metrics

	sentiment *guards.ScalarGuard
	dominance *guards.ScalarGuard
	dollar    *guards.ScalarGuard
	totalCap  *guards.ScalarGuard

	funding        func(ctx context.Context, symbol string) (float64, error)
	fundingLimiter *rate.Limiter
	fundingGuards  map[string]*guards.ScalarGuard
	fundingMu      sync.Mutex
	shared         cache.ValueStore
}

// New wires the aggregator. shared and metrics may be nil.
func New(config Config, sources Sources, breakers *circuit.Manager, shared cache.ValueStore, metrics *telemetry.Metrics) *Aggregator {
	a := &Aggregator{
		config:        config,
		breakers:      breakers,
		metrics:       metrics,
		funding:       sources.Funding,
		fundingGuards: make(map[string]*guards.ScalarGuard),
		shared:        shared,
	}

	a.sentiment = a.buildGuard(SignalSentiment, sources.Sentiment)
	a.dominance = a.buildGuard(SignalDominance, sources.Dominance)
	a.dollar = a.buildGuard(SignalDollar, sources.Dollar)
	a.totalCap = a.buildGuard(SignalTotalCap, sources.TotalCap)

	fundingBudget := a.budget(SignalFunding)
	a.fundingLimiter = rate.NewLimiter(rate.Limit(fundingBudget.RPS), fundingBudget.Burst)

	return a
}

func (a *Aggregator) budget(name string) guards.SourceConfig {
	if budget, ok := a.config.Budgets[name]; ok {
		return budget
	}
	return guards.DefaultSourceConfig(name)
}

func (a *Aggregator) buildGuard(name string, fetch guards.FetchFunc) *guards.ScalarGuard {
	return guards.NewScalarGuard(a.budget(name), a.breakers.Breaker(name), nil, fetch, a.shared, a.metrics)
}

// fundingGuard returns the per-symbol funding guard, creating it under the
// shared funding breaker and limiter.
func (a *Aggregator) fundingGuard(symbol string) *guards.ScalarGuard {
	a.fundingMu.Lock()
	defer a.fundingMu.Unlock()

	if g, ok := a.fundingGuards[symbol]; ok {
		return g
	}
	budget := a.budget(SignalFunding)
	budget.Name = SignalFunding + ":" + symbol
	g := guards.NewScalarGuard(budget, a.breakers.Breaker(SignalFunding), a.fundingLimiter,
		func(ctx context.Context) (float64, error) { return a.funding(ctx, symbol) },
		a.shared, a.metrics)
	a.fundingGuards[symbol] = g
	return g
}

// reading is one resolved signal.
type reading struct {
	value float64
	err   error
}

// GetEnvironment fetches all five signals concurrently, joins, and reduces
// the resolved set to a snapshot. The exposure computation runs only after
// every signal has either resolved or been recorded as unavailable, so it is
// order-independent and reproducible.
func (a *Aggregator) GetEnvironment(ctx context.Context, symbol string) (*domain.MacroSnapshot, error) {
	fetches := map[string]func(context.Context) (float64, error){
		SignalSentiment: a.sentiment.Value,
		SignalDominance: a.dominance.Value,
		SignalDollar:    a.dollar.Value,
		SignalTotalCap:  a.totalCap.Value,
		SignalFunding:   a.fundingGuard(symbol).Value,
	}

	var mu sync.Mutex
	readings := make(map[string]reading, len(fetches))

	var wg sync.WaitGroup
	for name, fetch := range fetches {
		wg.Add(1)
		go func(name string, fetch func(context.Context) (float64, error)) {
			defer wg.Done()
			v, err := fetch(ctx)
			mu.Lock()
			readings[name] = reading{value: v, err: err}
			mu.Unlock()
		}(name, fetch)
	}
	wg.Wait()

	return a.reduce(symbol, readings), nil
}

// reduce buckets the resolved signals and runs the exposure pipeline.
func (a *Aggregator) reduce(symbol string, readings map[string]reading) *domain.MacroSnapshot {
	t := a.config.Thresholds
	snap := &domain.MacroSnapshot{
		MarketPhase:        domain.PhaseNeutral,
		DollarStrength:     domain.DollarNeutral,
		CryptoSentiment:    domain.SentimentNeutral,
		FundingEnvironment: domain.FundingNeutral,
		FetchedAt:          time.Now().UTC(),
	}

	available := func(name string) (float64, bool) {
		r, ok := readings[name]
		if !ok || r.err != nil {
			if ok && r.err != nil {
				log.Warn().Str("symbol", symbol).Str("signal", name).Err(r.err).Msg("macro signal unavailable")
			}
			snap.MissingInputs = append(snap.MissingInputs, name)
			return 0, false
		}
		return r.value, true
	}

	riskVotes := []float64{}

	if dominance, ok := available(SignalDominance); ok {
		switch {
		case dominance > t.DominanceRiskOff:
			snap.MarketPhase = domain.PhaseRiskOff
			riskVotes = append(riskVotes, 1)
		case dominance < t.DominanceRiskOn:
			snap.MarketPhase = domain.PhaseRiskOn
			riskVotes = append(riskVotes, -1)
		default:
			riskVotes = append(riskVotes, 0)
		}
	}

	if dollar, ok := available(SignalDollar); ok {
		switch {
		case dollar > t.DollarStrong:
			snap.DollarStrength = domain.DollarStrong
			riskVotes = append(riskVotes, 1)
		case dollar < t.DollarWeak:
			snap.DollarStrength = domain.DollarWeak
			riskVotes = append(riskVotes, -1)
		default:
			riskVotes = append(riskVotes, 0)
		}
	}

	if sentiment, ok := available(SignalSentiment); ok {
		switch {
		case sentiment > t.SentimentBullish:
			snap.CryptoSentiment = domain.SentimentBullish
			riskVotes = append(riskVotes, -1)
		case sentiment < t.SentimentBearish:
			snap.CryptoSentiment = domain.SentimentBearish
			riskVotes = append(riskVotes, 1)
		default:
			riskVotes = append(riskVotes, 0)
		}
	}

	if funding, ok := available(SignalFunding); ok {
		switch {
		case funding > t.FundingPositive:
			snap.FundingEnvironment = domain.FundingPositive
			riskVotes = append(riskVotes, -1)
		case funding < t.FundingNegative:
			snap.FundingEnvironment = domain.FundingNegative
			riskVotes = append(riskVotes, 1)
		default:
			riskVotes = append(riskVotes, 0)
		}
	}

	if totalCap, ok := available(SignalTotalCap); ok {
		switch {
		case totalCap > t.CapRiskOn:
			riskVotes = append(riskVotes, -1)
		case totalCap < t.CapRiskOff:
			riskVotes = append(riskVotes, 1)
		default:
			riskVotes = append(riskVotes, 0)
		}
	}

	snap.MacroRiskLevel = riskLevel(riskVotes)
	snap.RecommendedExposure = ComputeExposure(snap)

	return snap
}

// riskLevel averages the risk votes of available signals. With no signals at
// all the level defaults to high: conservatism on missing data is the one
// deliberate exception to never substituting a default.
func riskLevel(votes []float64) domain.RiskLevel {
	if len(votes) == 0 {
		return domain.RiskHigh
	}
	var sum float64
	for _, v := range votes {
		sum += v
	}
	avg := sum / float64(len(votes))
	switch {
	case avg >= 0.34:
		return domain.RiskHigh
	case avg <= -0.34:
		return domain.RiskLow
	default:
		return domain.RiskMedium
	}
}

// ComputeExposure runs the order-sensitive pipeline: base 0.5, additive
// phase/dollar/sentiment/funding adjustments (each skipped entirely when its
// backing signal is listed missing on the snapshot), risk multiplier, clamp
// to [0.1, 1.0].
func ComputeExposure(snap *domain.MacroSnapshot) float64 {
	exposure := 0.5

	if snap.HasInput(SignalDominance) {
		switch snap.MarketPhase {
		case domain.PhaseRiskOn:
			exposure += 0.2
		case domain.PhaseRiskOff:
			exposure -= 0.3
		}
	}
	if snap.HasInput(SignalDollar) {
		switch snap.DollarStrength {
		case domain.DollarWeak:
			exposure += 0.1
		case domain.DollarStrong:
			exposure -= 0.1
		}
	}
	if snap.HasInput(SignalSentiment) {
		switch snap.CryptoSentiment {
		case domain.SentimentBullish:
			exposure += 0.15
		case domain.SentimentBearish:
			exposure -= 0.15
		}
	}
	if snap.HasInput(SignalFunding) {
		switch snap.FundingEnvironment {
		case domain.FundingPositive:
			exposure += 0.05
		case domain.FundingNegative:
			exposure -= 0.05
		}
	}

	switch snap.MacroRiskLevel {
	case domain.RiskHigh:
		exposure *= 0.8
	case domain.RiskMedium:
		exposure *= 1.05
	case domain.RiskLow:
		exposure *= 1.1
	}

	return domain.Clamp(exposure, 0.1, 1.0)
}

// BreakerStates reports the macro signal breaker states for health checks.
func (a *Aggregator) BreakerStates() map[string]string {
	return a.breakers.States()
}
