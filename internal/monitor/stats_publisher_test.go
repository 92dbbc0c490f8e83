package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/market-watch/internal/model"
)

type recordingSink struct {
	mu    sync.Mutex
	stats []*model.AlertStats
}

func (s *recordingSink) PublishStats(ctx context.Context, stats *model.AlertStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stats)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stats)
}

type failingScope struct{}

func (failingScope) Owners(ctx context.Context) ([]string, error) {
	return nil, errors.New("store offline")
}

func TestStatsPublisher_Collect(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.create(t, priceRule(model.ConditionAbove, "100"))
	env.provider.setPrice("bitcoin", "110")
	require.Equal(t, 1, env.engine.Tick(context.Background(), owner).Fired())

	sink := &recordingSink{}
	publisher := NewStatsPublisher(env.gorm, sink, StoreOwners{Store: env.gorm}, time.Hour, zaptest.NewLogger(t))
	publisher.Collect(context.Background())

	require.Equal(t, 1, sink.count())
	stats, ok := publisher.Latest(owner)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.TotalAlerts)
	assert.Equal(t, int64(1), stats.TriggeredToday)
	assert.Equal(t, "BTC", stats.MostTriggeredAssetSymbol)

	_, ok = publisher.Latest("owner-2")
	assert.False(t, ok)
}

func TestStatsPublisher_StartStop(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.create(t, priceRule(model.ConditionAbove, "100"))

	sink := &recordingSink{}
	publisher := NewStatsPublisher(env.gorm, sink, StaticOwners{owner}, time.Hour, zaptest.NewLogger(t))
	publisher.Start(context.Background())
	publisher.Start(context.Background())

	require.Eventually(t, func() bool { return sink.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	publisher.Stop()
	publisher.Stop()
	assert.Equal(t, 1, sink.count())
}

func TestStatsPublisher_ScopeFailure(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	sink := &recordingSink{}
	publisher := NewStatsPublisher(env.gorm, sink, failingScope{}, time.Hour, zaptest.NewLogger(t))

	publisher.Collect(context.Background())
	assert.Zero(t, sink.count())
	publisher.Stop()
}
