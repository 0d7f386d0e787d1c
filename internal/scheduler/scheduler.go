package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/data/gate"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/macro"
	"github.com/sawpanic/tradegate/internal/marketdata"
	"github.com/sawpanic/tradegate/internal/params"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/structure"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// Config drives the evaluation loop.
type Config struct {
	Symbols           []string           `yaml:"symbols"`
	Interval          time.Duration      `yaml:"interval"`
	SymbolTimeout     time.Duration      `yaml:"symbol_timeout"`
	Workers           int                `yaml:"workers"`
	AnalysisTimeframe domain.Timeframe   `yaml:"analysis_timeframe"`
	ExtraTimeframes   []domain.Timeframe `yaml:"extra_timeframes"`
}

// DefaultConfig evaluates the majors every minute on 1h candles, with 15m and
// 4h confirmation.
func DefaultConfig() Config {
	return Config{
		Symbols:           []string{"BTCUSDT", "ETHUSDT"},
		Interval:          time.Minute,
		SymbolTimeout:     20 * time.Second,
		Workers:           4,
		AnalysisTimeframe: domain.Timeframe1h,
		ExtraTimeframes:   []domain.Timeframe{domain.Timeframe15m, domain.Timeframe4h},
	}
}

// Result pairs a decision with the liquidity read taken in the same cycle.
type Result struct {
	Decision  *domain.TradeGateDecision `json:"decision"`
	Liquidity *domain.LiquiditySnapshot `json:"liquidity,omitempty"`
}

// Sink receives evaluation results as they complete.
type Sink interface {
	Publish(*Result)
}

// Scheduler runs evaluation cycles over the configured symbols with a bounded
// worker pool. One slow symbol cannot stall the cycle past its own deadline.
type Scheduler struct {
	config     Config
	gate       *gate.Gate
	liquidity  *marketdata.Provider
	classifier *regime.Classifier
	analyzer   *structure.Analyzer
	macro      *macro.Aggregator
	optimizer  *params.Optimizer
	engine     *engine.Engine
	sink       Sink
	metrics    *telemetry.Metrics // optional
}

// New wires the scheduler. sink and metrics may be nil.
func New(
	config Config,
	g *gate.Gate,
	liquidity *marketdata.Provider,
	classifier *regime.Classifier,
	analyzer *structure.Analyzer,
	aggregator *macro.Aggregator,
	optimizer *params.Optimizer,
	eng *engine.Engine,
	sink Sink,
	metrics *telemetry.Metrics,
) *Scheduler {
	return &Scheduler{
		config:     config,
		gate:       g,
		liquidity:  liquidity,
		classifier: classifier,
		analyzer:   analyzer,
		macro:      aggregator,
		optimizer:  optimizer,
		engine:     eng,
		sink:       sink,
		metrics:    metrics,
	}
}

// Run executes cycles at the configured interval until the context ends. The
// parameter table is re-checked for changes before each cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.optimizer.Reload(); err != nil {
				log.Warn().Err(err).Msg("parameter reload failed, keeping current table")
			}
			s.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every configured symbol once under a fresh cycle ID.
func (s *Scheduler) RunCycle(ctx context.Context) []*Result {
	cycleID := uuid.NewString()
	started := time.Now()
	log.Info().Str("cycle_id", cycleID).Int("symbols", len(s.config.Symbols)).Msg("cycle started")

	sem := make(chan struct{}, s.config.Workers)
	results := make([]*Result, len(s.config.Symbols))
	done := make(chan int)

	for i, symbol := range s.config.Symbols {
		go func(i int, symbol string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			symbolCtx, cancel := context.WithTimeout(ctx, s.config.SymbolTimeout)
			defer cancel()

			results[i] = s.evaluateSymbol(symbolCtx, cycleID, symbol)
			done <- i
		}(i, symbol)
	}
	for range s.config.Symbols {
		<-done
	}

	elapsed := time.Since(started)
	if s.metrics != nil {
		s.metrics.CycleDuration.Observe(elapsed.Seconds())
	}
	log.Info().Str("cycle_id", cycleID).Dur("elapsed", elapsed).Msg("cycle finished")

	if s.sink != nil {
		for _, r := range results {
			s.sink.Publish(r)
		}
	}
	return results
}

// evaluateSymbol gathers every analysis input and lets the engine decide.
// Upstream failures become nil inputs; the engine fails closed on those rather
// than this loop skipping the symbol silently.
func (s *Scheduler) evaluateSymbol(ctx context.Context, cycleID, symbol string) *Result {
	started := time.Now()

	var in engine.Inputs

	liquidity, err := s.liquidity.GetSnapshot(ctx, symbol)
	if err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("liquidity read unavailable")
	}

	series, err := s.gate.ValidateForAnalysis(ctx, symbol, s.config.AnalysisTimeframe)
	if err == nil {
		if mr, cerr := s.classifier.Classify(series); cerr == nil {
			in.Regime = mr
		} else {
			log.Warn().Str("symbol", symbol).Err(cerr).Msg("regime classification failed")
		}
		if ms, serr := s.analyzer.Analyze(series); serr == nil {
			in.Structure = ms
		} else {
			log.Warn().Str("symbol", symbol).Err(serr).Msg("structure analysis failed")
		}
	}

	if snap, merr := s.macro.GetEnvironment(ctx, symbol); merr == nil {
		in.Macro = snap
	}

	if in.Regime != nil {
		row, perr := s.optimizer.ParametersFor(in.Regime.Regime)
		if perr != nil {
			log.Error().Str("symbol", symbol).Err(perr).Msg("parameter lookup failed")
		} else {
			in.Params = row
			in.Confluence = s.scoreConfluence(ctx, symbol, series, row)
		}
	}

	decision := s.engine.Decide(cycleID, symbol, in)
	if s.metrics != nil {
		s.metrics.SymbolEvalDuration.WithLabelValues(symbol).Observe(time.Since(started).Seconds())
	}
	return &Result{Decision: decision, Liquidity: liquidity}
}

// scoreConfluence collects the deeper multi-timeframe series and scores
// indicator agreement. The analysis series is reused; extra timeframes are
// fetched under the synthesis minimum and skipped individually on failure.
func (s *Scheduler) scoreConfluence(ctx context.Context, symbol string, analysis *domain.CandleSeries, row domain.OptimalParameters) *engine.Confluence {
	series := map[domain.Timeframe]*domain.CandleSeries{
		s.config.AnalysisTimeframe: analysis,
	}
	for _, tf := range s.config.ExtraTimeframes {
		extra, err := s.gate.ValidateForSynthesis(ctx, symbol, tf)
		if err != nil {
			log.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).Err(err).Msg("confirmation timeframe skipped")
			continue
		}
		series[tf] = extra
	}
	return engine.ScoreConfluence(symbol, series, row)
}
