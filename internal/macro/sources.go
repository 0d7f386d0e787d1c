package macro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/exchange"
)

// SourcesConfig holds the macro signal endpoints.
type SourcesConfig struct {
	SentimentURL   string        `yaml:"sentiment_url"`    // Fear & Greed index
	GlobalURL      string        `yaml:"global_url"`       // CoinGecko global: dominance + total cap
	DollarIndexURL string        `yaml:"dollar_index_url"` // currency-strength index feed
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// DefaultSourcesConfig points at the public free-tier endpoints.
func DefaultSourcesConfig() SourcesConfig {
	return SourcesConfig{
		SentimentURL:   "https://api.alternative.me/fng/",
		GlobalURL:      "https://api.coingecko.com/api/v3/global",
		DollarIndexURL: "",
		RequestTimeout: 10 * time.Second,
		UserAgent:      "tradegate/1.0",
	}
}

// FundingSource is the slice of the exchange connector funding fetches use.
type FundingSource interface {
	FetchFundingRate(ctx context.Context, symbol string) (*exchange.FundingRate, error)
}

// HTTPSources builds the five fetchers from public HTTP endpoints plus the
// exchange connector for funding rates.
type HTTPSources struct {
	config SourcesConfig
	http   *http.Client
	funds  FundingSource
}

// NewHTTPSources creates the source set.
func NewHTTPSources(config SourcesConfig, funds FundingSource) *HTTPSources {
	return &HTTPSources{
		config: config,
		http:   &http.Client{Timeout: config.RequestTimeout},
		funds:  funds,
	}
}

// Build returns the Sources bundle for the aggregator.
func (s *HTTPSources) Build() Sources {
	return Sources{
		Sentiment: s.fetchSentiment,
		Dominance: s.fetchDominance,
		Dollar:    s.fetchDollarIndex,
		TotalCap:  s.fetchTotalCap,
		Funding:   s.fetchFunding,
	}
}

type fearGreedPayload struct {
	Data []struct {
		Value string `json:"value"`
	} `json:"data"`
}

// fetchSentiment reads the Fear & Greed index (0-100).
func (s *HTTPSources) fetchSentiment(ctx context.Context) (float64, error) {
	var payload fearGreedPayload
	if err := s.getJSON(ctx, SignalSentiment, s.config.SentimentURL, &payload); err != nil {
		return 0, err
	}
	if len(payload.Data) == 0 {
		return 0, &domain.ValidationError{Field: "fng.data", Message: "empty response"}
	}
	v, err := strconv.ParseFloat(payload.Data[0].Value, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: "fng.value", Message: err.Error()}
	}
	if v < 0 || v > 100 {
		return 0, &domain.ValidationError{Field: "fng.value", Message: fmt.Sprintf("out of range: %f", v)}
	}
	return v, nil
}

type globalPayload struct {
	Data struct {
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
		TotalMarketCap      map[string]float64 `json:"total_market_cap"`
	} `json:"data"`
}

// fetchDominance reads BTC dominance (percent) from the global endpoint.
func (s *HTTPSources) fetchDominance(ctx context.Context) (float64, error) {
	var payload globalPayload
	if err := s.getJSON(ctx, SignalDominance, s.config.GlobalURL, &payload); err != nil {
		return 0, err
	}
	v, ok := payload.Data.MarketCapPercentage["btc"]
	if !ok || v <= 0 || v > 100 {
		return 0, &domain.ValidationError{Field: "global.market_cap_percentage.btc", Message: "missing or out of range"}
	}
	return v, nil
}

// fetchTotalCap reads the aggregate market capitalization in USD.
func (s *HTTPSources) fetchTotalCap(ctx context.Context) (float64, error) {
	var payload globalPayload
	if err := s.getJSON(ctx, SignalTotalCap, s.config.GlobalURL, &payload); err != nil {
		return 0, err
	}
	v, ok := payload.Data.TotalMarketCap["usd"]
	if !ok || v <= 0 {
		return 0, &domain.ValidationError{Field: "global.total_market_cap.usd", Message: "missing or non-positive"}
	}
	return v, nil
}

type indexPayload struct {
	Value float64 `json:"value"`
}

// fetchDollarIndex reads the currency-strength index from the configured
// feed. An unconfigured feed is a plain unavailability, not a default.
func (s *HTTPSources) fetchDollarIndex(ctx context.Context) (float64, error) {
	if s.config.DollarIndexURL == "" {
		return 0, &domain.TransportError{Source: SignalDollar, Message: "no currency-strength feed configured"}
	}
	var payload indexPayload
	if err := s.getJSON(ctx, SignalDollar, s.config.DollarIndexURL, &payload); err != nil {
		return 0, err
	}
	if payload.Value <= 0 {
		return 0, &domain.ValidationError{Field: "dollar_index.value", Message: "non-positive"}
	}
	return payload.Value, nil
}

// fetchFunding reads the symbol's perpetual funding rate from the exchange.
func (s *HTTPSources) fetchFunding(ctx context.Context, symbol string) (float64, error) {
	fr, err := s.funds.FetchFundingRate(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return fr.Rate, nil
}

func (s *HTTPSources) getJSON(ctx context.Context, source, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.TransportError{Source: source, Message: err.Error()}
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return &domain.TransportError{Source: source, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.TransportError{Source: source, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Source: source, Message: err.Error()}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ValidationError{Field: source, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}
