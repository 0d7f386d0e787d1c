package exchange

import (
	"context"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Ticker is the 24h rollup for a symbol.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	Volume24h float64 `json:"volume_24h"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
}

// Level is one side of the top of book.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is the top-of-book snapshot used for liquidity scoring.
type OrderBook struct {
	Symbol  string `json:"symbol"`
	BestBid Level  `json:"best_bid"`
	BestAsk Level  `json:"best_ask"`
}

// FundingRate is the current perpetual funding rate for a symbol.
type FundingRate struct {
	Symbol string  `json:"symbol"`
	Rate   float64 `json:"rate"`
}

// Client is the exchange connector surface the decision core consumes. The
// core never calls it directly; only the sufficiency gate and the market data
// provider do.
type Client interface {
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	FetchCandles(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) (*domain.CandleSeries, error)
	FetchFundingRate(ctx context.Context, symbol string) (*FundingRate, error)
}
