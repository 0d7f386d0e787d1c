package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/exchange"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

type fakeExchange struct {
	ticker *exchange.Ticker
	book   *exchange.OrderBook
	calls  int
}

func (f *fakeExchange) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	f.calls++
	return f.ticker, nil
}

func (f *fakeExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	return f.book, nil
}

func healthyExchange() *fakeExchange {
	return &fakeExchange{
		ticker: &exchange.Ticker{Symbol: "BTCUSDT", LastPrice: 100, Volume24h: 500_000, High24h: 101, Low24h: 99},
		book: &exchange.OrderBook{
			Symbol:  "BTCUSDT",
			BestBid: exchange.Level{Price: 99.95, Size: 10},
			BestAsk: exchange.Level{Price: 100.05, Size: 10},
		},
	}
}

func newProvider(source TickerBookSource) *Provider {
	return New(source, circuit.NewManager(circuit.DefaultConfig()), DefaultConfig(), nil)
}

func TestGetSnapshot_ScoresLiquidity(t *testing.T) {
	snap, err := newProvider(healthyExchange()).GetSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	// Spread 0.10 on price 100 is 0.1%: score 1 - 0.001*100 = 0.9.
	assert.InDelta(t, 0.9, snap.SpreadScore, 1e-9)
	// Depth 10*99.95 + 10*100.05 = 2000 quote units over a 10k normalizer.
	assert.InDelta(t, 0.2, snap.DepthScore, 1e-9)
	// 500k volume over a 1M normalizer.
	assert.InDelta(t, 0.5, snap.VolumeScore, 1e-9)
	assert.InDelta(t, 0.4*0.9+0.3*0.2+0.3*0.5, snap.LiquidityScore, 1e-9)
}

func TestGetSnapshot_CategorizesCapAndVolatility(t *testing.T) {
	source := healthyExchange()
	source.ticker.Volume24h = 150_000_000
	source.ticker.High24h = 103
	source.ticker.Low24h = 97

	snap, err := newProvider(source).GetSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.CapLarge, snap.CapCategory)
	// 6% 24h range.
	assert.Equal(t, domain.VolHigh, snap.VolatilityLabel)
}

func TestGetSnapshot_CacheHitSkipsUpstream(t *testing.T) {
	source := healthyExchange()
	p := newProvider(source)

	first, err := p.GetSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	second, err := p.GetSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, source.calls)
}

func TestGetSnapshot_CacheExpiryRefetches(t *testing.T) {
	source := healthyExchange()
	cfg := DefaultConfig()
	cfg.CacheTTL = time.Nanosecond
	p := New(source, circuit.NewManager(circuit.DefaultConfig()), cfg, nil)

	_, err := p.GetSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = p.GetSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls)
}

func TestGetSnapshot_RejectsNonPositivePrice(t *testing.T) {
	source := healthyExchange()
	source.ticker.LastPrice = 0

	_, err := newProvider(source).GetSnapshot(context.Background(), "BTCUSDT")

	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "last_price", invalid.Field)
}

func TestGetSnapshot_RejectsCrossedBook(t *testing.T) {
	source := healthyExchange()
	source.book.BestBid.Price = 100.10 // above the ask

	_, err := newProvider(source).GetSnapshot(context.Background(), "BTCUSDT")

	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "order_book", invalid.Field)
}

func TestGetSnapshot_CountsValidationFailuresByKind(t *testing.T) {
	source := healthyExchange()
	source.ticker.LastPrice = 0
	metrics := telemetry.New()
	p := New(source, circuit.NewManager(circuit.DefaultConfig()), DefaultConfig(), metrics)

	_, err := p.GetSnapshot(context.Background(), "BTCUSDT")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SourceFailures.WithLabelValues(marketDataSource, "validation")))
	assert.Zero(t, testutil.ToFloat64(metrics.SourceFailures.WithLabelValues(marketDataSource, "transport")))
}
