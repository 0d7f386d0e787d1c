package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/domain"
)

// RESTConfig configures the exchange REST connector.
type RESTConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     uint64        `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
	UserAgent      string        `yaml:"user_agent"`
}

// DefaultRESTConfig matches a Binance-style public API budget.
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		BaseURL:        "https://api.binance.com",
		RequestTimeout: 10 * time.Second,
		MaxRetries:     2,
		BackoffBase:    300 * time.Millisecond,
		RPS:            10,
		Burst:          20,
		UserAgent:      "tradegate/1.0",
	}
}

// RESTClient implements Client over the exchange's public REST endpoints.
// Calls are rate limited, retried with bounded exponential backoff, and
// wrapped in a transport circuit breaker.
type RESTClient struct {
	config  RESTConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewRESTClient builds the connector.
func NewRESTClient(config RESTConfig) *RESTClient {
	st := gobreaker.Settings{Name: "exchange-rest"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 5 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.25
	}

	return &RESTClient{
		config:  config,
		http:    &http.Client{Timeout: config.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

type tickerPayload struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"quoteVolume"`
}

// FetchTicker returns the 24h ticker for a symbol.
func (c *RESTClient) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var payload tickerPayload
	params := url.Values{"symbol": {symbol}}
	if err := c.getJSON(ctx, "/api/v3/ticker/24hr", params, &payload); err != nil {
		return nil, err
	}

	t := &Ticker{Symbol: symbol}
	var err error
	if t.LastPrice, err = strconv.ParseFloat(payload.LastPrice, 64); err != nil {
		return nil, &domain.ValidationError{Field: "lastPrice", Message: err.Error()}
	}
	if t.High24h, err = strconv.ParseFloat(payload.HighPrice, 64); err != nil {
		return nil, &domain.ValidationError{Field: "highPrice", Message: err.Error()}
	}
	if t.Low24h, err = strconv.ParseFloat(payload.LowPrice, 64); err != nil {
		return nil, &domain.ValidationError{Field: "lowPrice", Message: err.Error()}
	}
	if t.Volume24h, err = strconv.ParseFloat(payload.Volume, 64); err != nil {
		return nil, &domain.ValidationError{Field: "quoteVolume", Message: err.Error()}
	}
	return t, nil
}

type depthPayload struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// FetchOrderBook returns the top of book.
func (c *RESTClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	var payload depthPayload
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := c.getJSON(ctx, "/api/v3/depth", params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Bids) == 0 || len(payload.Asks) == 0 {
		return nil, &domain.ValidationError{Field: "depth", Message: "empty order book"}
	}

	bid, err := parseLevel(payload.Bids[0])
	if err != nil {
		return nil, err
	}
	ask, err := parseLevel(payload.Asks[0])
	if err != nil {
		return nil, err
	}
	return &OrderBook{Symbol: symbol, BestBid: bid, BestAsk: ask}, nil
}

func parseLevel(raw []string) (Level, error) {
	if len(raw) < 2 {
		return Level{}, &domain.ValidationError{Field: "depth", Message: "malformed level"}
	}
	price, err := strconv.ParseFloat(raw[0], 64)
	if err != nil {
		return Level{}, &domain.ValidationError{Field: "depth", Message: err.Error()}
	}
	size, err := strconv.ParseFloat(raw[1], 64)
	if err != nil {
		return Level{}, &domain.ValidationError{Field: "depth", Message: err.Error()}
	}
	return Level{Price: price, Size: size}, nil
}

// FetchCandles returns up to limit klines for (symbol, timeframe) in
// chronological order.
func (c *RESTClient) FetchCandles(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) (*domain.CandleSeries, error) {
	var rows [][]json.RawMessage
	params := url.Values{
		"symbol":   {symbol},
		"interval": {string(timeframe)},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	series := &domain.CandleSeries{Symbol: symbol, Timeframe: timeframe, Candles: make([]domain.Candle, 0, len(rows))}
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		series.Candles = append(series.Candles, candle)
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// parseKline decodes one kline row: [openTime, open, high, low, close,
// volume, ...].
func parseKline(row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, &domain.ValidationError{Field: "kline", Message: "short row"}
	}

	var openTimeMs int64
	if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
		return domain.Candle{}, &domain.ValidationError{Field: "kline", Message: err.Error()}
	}

	fields := make([]float64, 5)
	for i := 0; i < 5; i++ {
		var raw string
		if err := json.Unmarshal(row[i+1], &raw); err != nil {
			return domain.Candle{}, &domain.ValidationError{Field: "kline", Message: err.Error()}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Candle{}, &domain.ValidationError{Field: "kline", Message: err.Error()}
		}
		fields[i] = v
	}

	return domain.Candle{
		OpenTime: time.UnixMilli(openTimeMs).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

type fundingPayload struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
}

// FetchFundingRate returns the current perpetual funding rate.
func (c *RESTClient) FetchFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	var payload fundingPayload
	params := url.Values{"symbol": {symbol}}
	if err := c.getJSON(ctx, "/fapi/v1/premiumIndex", params, &payload); err != nil {
		return nil, err
	}
	parsed, err := strconv.ParseFloat(payload.LastFundingRate, 64)
	if err != nil {
		return nil, &domain.ValidationError{Field: "lastFundingRate", Message: err.Error()}
	}
	return &FundingRate{Symbol: symbol, Rate: parsed}, nil
}

// getJSON performs a guarded GET and decodes the body into out.
func (c *RESTClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.doGet(ctx, path, params, out)
		})
		if err == nil {
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(&domain.TransportError{Source: "exchange", Message: err.Error()})
		}
		var te *domain.TransportError
		if errors.As(err, &te) && te.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.config.BackoffBase
	strategy.MaxInterval = 5 * time.Second

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, c.config.MaxRetries), ctx))
}

func (c *RESTClient) doGet(ctx context.Context, path string, params url.Values, out any) error {
	u := c.config.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.TransportError{Source: "exchange", Message: err.Error()}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransportError{Source: "exchange", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("exchange request failed")
		return &domain.TransportError{
			Source:     "exchange",
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Source: "exchange", Message: err.Error()}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ValidationError{Field: path, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
