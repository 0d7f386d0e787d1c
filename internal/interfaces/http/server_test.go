package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/scheduler"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

func testServer(breakers *circuit.Manager, store *scheduler.Store) *Server {
	return NewServer(":0", breakers, store, telemetry.New())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth_AllBreakersClosedIsOK(t *testing.T) {
	breakers := circuit.NewManager(circuit.DefaultConfig())
	breakers.Breaker("price_feed")

	rec := get(t, testServer(breakers, scheduler.NewStore(8)), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "closed", resp.Breakers["price_feed"])
}

func TestHealth_OpenBreakerDegrades(t *testing.T) {
	breakers := circuit.NewManager(circuit.Config{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		CooldownGrowth:   2,
		MaxCooldown:      time.Minute,
		RequestTimeout:   time.Second,
	})
	err := breakers.Call(context.Background(), "price_feed", func(ctx context.Context) error {
		return &domain.TransportError{Source: "price_feed", StatusCode: 503, Message: "down"}
	})
	require.Error(t, err)

	rec := get(t, testServer(breakers, scheduler.NewStore(8)), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "open", resp.Breakers["price_feed"])
}

func TestDecisions_ReturnsRecent(t *testing.T) {
	store := scheduler.NewStore(8)
	store.Publish(&scheduler.Result{Decision: &domain.TradeGateDecision{Symbol: "BTCUSDT", CycleID: "c1", Action: domain.ActionHold}})
	store.Publish(&scheduler.Result{Decision: &domain.TradeGateDecision{Symbol: "BTCUSDT", CycleID: "c2", Action: domain.ActionBuy}})

	rec := get(t, testServer(circuit.NewManager(circuit.DefaultConfig()), store), "/decisions?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []*scheduler.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].Decision.CycleID)
}

func TestDecisionsLatest_KeyedBySymbol(t *testing.T) {
	store := scheduler.NewStore(8)
	store.Publish(&scheduler.Result{Decision: &domain.TradeGateDecision{Symbol: "ETHUSDT", CycleID: "c1", Action: domain.ActionHold}})

	rec := get(t, testServer(circuit.NewManager(circuit.DefaultConfig()), store), "/decisions/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var latest map[string]*scheduler.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Contains(t, latest, "ETHUSDT")
}

func TestDecisions_UnavailableWithoutStore(t *testing.T) {
	rec := get(t, testServer(circuit.NewManager(circuit.DefaultConfig()), nil), "/decisions")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics_Scrapes(t *testing.T) {
	rec := get(t, testServer(circuit.NewManager(circuit.DefaultConfig()), scheduler.NewStore(8)), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
