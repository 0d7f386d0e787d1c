package guards

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/cache"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// SourceConfig describes the protection budget for one upstream source.
type SourceConfig struct {
	Name        string        `yaml:"name"`
	TTL         time.Duration `yaml:"ttl"`          // cache TTL
	RPS         float64       `yaml:"rps"`          // sustained request rate
	Burst       int           `yaml:"burst"`        // limiter burst
	MaxRetries  uint64        `yaml:"max_retries"`  // retry attempts after the first call
	BackoffBase time.Duration `yaml:"backoff_base"` // initial retry delay
}

// DefaultSourceConfig is the conservative budget for free-tier macro APIs:
// one request per second with aggressive caching.
func DefaultSourceConfig(name string) SourceConfig {
	return SourceConfig{
		Name:        name,
		TTL:         5 * time.Minute,
		RPS:         1.0,
		Burst:       2,
		MaxRetries:  2,
		BackoffBase: 500 * time.Millisecond,
	}
}

// FetchFunc produces one scalar reading from the upstream.
type FetchFunc func(ctx context.Context) (float64, error)

// ScalarGuard wraps a scalar signal fetch with caching, rate limiting,
// circuit breaking, bounded retry, and telemetry. A guarded source never
// returns a fabricated value: every failure path surfaces a typed error that
// unwraps to domain.ErrUnavailable.
type ScalarGuard struct {
	config  SourceConfig
	fetch   FetchFunc
	local   *cache.TTL[float64]
	shared  cache.ValueStore // optional long-TTL backend
	limiter *rate.Limiter
	breaker *circuit.Breaker
	metrics *telemetry.Metrics // optional
}

// NewScalarGuard builds a guard around fetch using the given breaker.
// limiter, shared, and metrics may be nil; a nil limiter is built from the
// config. Passing a shared limiter lets several guards (e.g. per-symbol
// funding fetches) stay under one upstream quota.
func NewScalarGuard(config SourceConfig, breaker *circuit.Breaker, limiter *rate.Limiter, fetch FetchFunc, shared cache.ValueStore, metrics *telemetry.Metrics) *ScalarGuard {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(config.RPS), config.Burst)
	}
	return &ScalarGuard{
		config:  config,
		fetch:   fetch,
		local:   cache.NewTTL[float64](config.TTL),
		shared:  shared,
		limiter: limiter,
		breaker: breaker,
		metrics: metrics,
	}
}

// Value returns the current reading, from cache when fresh.
func (g *ScalarGuard) Value(ctx context.Context) (float64, error) {
	if v, ok := g.local.Get(g.config.Name); ok {
		g.recordCacheHit()
		return v, nil
	}
	g.recordCacheMiss()

	if g.shared != nil {
		if v, ok, err := g.shared.GetFloat(ctx, g.config.Name); err == nil && ok {
			g.local.Set(g.config.Name, v)
			return v, nil
		}
	}

	v, err := g.fetchWithRetry(ctx)
	if err != nil {
		return 0, err
	}

	g.local.Set(g.config.Name, v)
	if g.shared != nil {
		if err := g.shared.SetFloat(ctx, g.config.Name, v, g.config.TTL); err != nil {
			log.Debug().Err(err).Str("source", g.config.Name).Msg("shared cache write failed")
		}
	}
	return v, nil
}

// fetchWithRetry calls the upstream under the breaker with bounded
// exponential backoff. No retry is attempted while the breaker is open, and
// non-retryable failures stop immediately.
func (g *ScalarGuard) fetchWithRetry(ctx context.Context) (float64, error) {
	var value float64

	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		g.recordRequest()
		err := g.breaker.Call(ctx, func(callCtx context.Context) error {
			v, ferr := g.fetch(callCtx)
			if ferr != nil {
				return ferr
			}
			value = v
			return nil
		})
		if err == nil {
			return nil
		}

		g.recordFailure(err)
		if errors.Is(err, circuit.ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		var te *domain.TransportError
		if errors.As(err, &te) && te.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = g.config.BackoffBase
	strategy.MaxInterval = 10 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, g.config.MaxRetries), ctx))
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Breaker exposes the underlying breaker for health reporting.
func (g *ScalarGuard) Breaker() *circuit.Breaker { return g.breaker }

func (g *ScalarGuard) recordCacheHit() {
	if g.metrics != nil {
		g.metrics.ObserveCache(g.config.Name, true)
	}
}

func (g *ScalarGuard) recordCacheMiss() {
	if g.metrics != nil {
		g.metrics.ObserveCache(g.config.Name, false)
	}
}

func (g *ScalarGuard) recordRequest() {
	if g.metrics != nil {
		g.metrics.SourceRequests.WithLabelValues(g.config.Name).Inc()
	}
}

func (g *ScalarGuard) recordFailure(err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.SourceFailures.WithLabelValues(g.config.Name, failureKind(err)).Inc()
}

func failureKind(err error) string {
	var ve *domain.ValidationError
	switch {
	case domain.IsInsufficient(err):
		return "data"
	case errors.As(err, &ve):
		return "validation"
	default:
		return "transport"
	}
}
