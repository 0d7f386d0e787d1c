package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain"
)

func result(symbol, cycle string) *Result {
	return &Result{Decision: &domain.TradeGateDecision{Symbol: symbol, CycleID: cycle, Action: domain.ActionHold}}
}

func TestStore_LatestTracksPerSymbol(t *testing.T) {
	s := NewStore(8)
	s.Publish(result("BTCUSDT", "c1"))
	s.Publish(result("ETHUSDT", "c1"))
	s.Publish(result("BTCUSDT", "c2"))

	latest := s.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "c2", latest["BTCUSDT"].Decision.CycleID)
	assert.Equal(t, "c1", latest["ETHUSDT"].Decision.CycleID)
}

func TestStore_RecentReturnsNewestFirst(t *testing.T) {
	s := NewStore(8)
	s.Publish(result("BTCUSDT", "c1"))
	s.Publish(result("BTCUSDT", "c2"))
	s.Publish(result("BTCUSDT", "c3"))

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c3", recent[0].Decision.CycleID)
	assert.Equal(t, "c2", recent[1].Decision.CycleID)
}

func TestStore_RingOverwritesOldest(t *testing.T) {
	s := NewStore(2)
	s.Publish(result("BTCUSDT", "c1"))
	s.Publish(result("BTCUSDT", "c2"))
	s.Publish(result("BTCUSDT", "c3"))

	recent := s.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "c3", recent[0].Decision.CycleID)
	assert.Equal(t, "c2", recent[1].Decision.CycleID)
}

func TestStore_IgnoresNilResults(t *testing.T) {
	s := NewStore(2)
	s.Publish(nil)
	s.Publish(&Result{})

	assert.Empty(t, s.Recent(0))
	assert.Empty(t, s.Latest())
}
