package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/cache"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/exchange"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

const marketDataSource = "market_data"

// Liquidity score blend, fixed weights.
const (
	spreadWeight = 0.4
	depthWeight  = 0.3
	volumeWeight = 0.3
)

// Config holds the normalizers and cache TTL for liquidity scoring.
type Config struct {
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	DepthNormalizer  float64       `yaml:"depth_normalizer"`  // quote-currency units
	VolumeNormalizer float64       `yaml:"volume_normalizer"` // 24h quote volume
	OrderBookDepth   int           `yaml:"order_book_depth"`
}

// DefaultConfig uses the reference values: 30s TTL, 10k depth normalizer,
// 1M volume normalizer.
func DefaultConfig() Config {
	return Config{
		CacheTTL:         30 * time.Second,
		DepthNormalizer:  10_000,
		VolumeNormalizer: 1_000_000,
		OrderBookDepth:   5,
	}
}

// TickerBookSource is the slice of the exchange connector the provider
// consumes.
type TickerBookSource interface {
	FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error)
}

// Provider computes per-symbol liquidity snapshots with a short TTL cache.
// Malformed upstream values (price <= 0, bid >= ask) surface as validation
// errors, never as zero-filled snapshots.
type Provider struct {
	source   TickerBookSource
	breakers *circuit.Manager
	config   Config
	snaps    *cache.TTL[*domain.LiquiditySnapshot]
	metrics  *telemetry.Metrics // optional
}

// New creates a market data provider.
func New(source TickerBookSource, breakers *circuit.Manager, config Config, metrics *telemetry.Metrics) *Provider {
	return &Provider{
		source:   source,
		breakers: breakers,
		config:   config,
		snaps:    cache.NewTTL[*domain.LiquiditySnapshot](config.CacheTTL),
		metrics:  metrics,
	}
}

// GetSnapshot returns the liquidity snapshot for a symbol. Cache hits bypass
// the upstream entirely.
func (p *Provider) GetSnapshot(ctx context.Context, symbol string) (*domain.LiquiditySnapshot, error) {
	if snap, ok := p.snaps.Get(symbol); ok {
		if p.metrics != nil {
			p.metrics.ObserveCache(marketDataSource, true)
		}
		return snap, nil
	}
	if p.metrics != nil {
		p.metrics.ObserveCache(marketDataSource, false)
		p.metrics.SourceRequests.WithLabelValues(marketDataSource).Inc()
	}

	var snap *domain.LiquiditySnapshot
	err := p.breakers.Call(ctx, marketDataSource, func(callCtx context.Context) error {
		ticker, terr := p.source.FetchTicker(callCtx, symbol)
		if terr != nil {
			return terr
		}
		book, berr := p.source.FetchOrderBook(callCtx, symbol, p.config.OrderBookDepth)
		if berr != nil {
			return berr
		}

		built, verr := p.buildSnapshot(symbol, ticker, book)
		if verr != nil {
			return verr
		}
		snap = built
		return nil
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.SourceFailures.WithLabelValues(marketDataSource, failureKind(err)).Inc()
		}
		log.Warn().Str("symbol", symbol).Err(err).Msg("liquidity snapshot unavailable")
		return nil, err
	}

	p.snaps.Set(symbol, snap)
	return snap, nil
}

// buildSnapshot validates raw inputs and derives the scored snapshot.
func (p *Provider) buildSnapshot(symbol string, ticker *exchange.Ticker, book *exchange.OrderBook) (*domain.LiquiditySnapshot, error) {
	price := ticker.LastPrice
	bid, ask := book.BestBid, book.BestAsk

	if price <= 0 {
		return nil, &domain.ValidationError{Field: "last_price", Message: "price must be positive"}
	}
	if bid.Price <= 0 || ask.Price <= 0 || bid.Price >= ask.Price {
		return nil, &domain.ValidationError{Field: "order_book", Message: "bid must be below ask and both positive"}
	}

	spreadFraction := (ask.Price - bid.Price) / price
	spreadScore := domain.Clamp01(1 - spreadFraction*100)

	depthQuote := bid.Size*bid.Price + ask.Size*ask.Price
	depthScore := domain.Clamp01(depthQuote / p.config.DepthNormalizer)

	volumeScore := domain.Clamp01(ticker.Volume24h / p.config.VolumeNormalizer)

	liquidity := domain.Clamp01(spreadWeight*spreadScore + depthWeight*depthScore + volumeWeight*volumeScore)

	return &domain.LiquiditySnapshot{
		Symbol:          symbol,
		SpreadScore:     spreadScore,
		DepthScore:      depthScore,
		VolumeScore:     volumeScore,
		LiquidityScore:  liquidity,
		CapCategory:     capCategory(ticker.Volume24h),
		VolatilityLabel: volatilityLabel(ticker.High24h, ticker.Low24h, price),
		FetchedAt:       time.Now().UTC(),
	}, nil
}

// capCategory is a coarse tier proxy from 24h quote volume. It is documented
// as a proxy: it does not claim to equal true market capitalization.
func capCategory(volume24h float64) domain.CapCategory {
	switch {
	case volume24h > 100_000_000:
		return domain.CapLarge
	case volume24h > 20_000_000:
		return domain.CapMid
	case volume24h > 5_000_000:
		return domain.CapSmall
	case volume24h > 500_000:
		return domain.CapMicro
	default:
		return domain.CapNano
	}
}

func failureKind(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return "validation"
	}
	return "transport"
}

// volatilityLabel buckets the 24h range relative to price.
func volatilityLabel(high, low, price float64) domain.VolatilityLabel {
	rangeFraction := (high - low) / price
	switch {
	case rangeFraction < 0.02:
		return domain.VolLow
	case rangeFraction < 0.05:
		return domain.VolMedium
	case rangeFraction < 0.10:
		return domain.VolHigh
	default:
		return domain.VolVeryHigh
	}
}
