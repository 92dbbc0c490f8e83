package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/t77yq/market-watch/internal/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*GormStore, *gorm.DB, *testClock) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := Open(DatabaseConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "alerts.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	clock := &testClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	store, err := NewGormStore(db, logger, WithClock(clock.Now))
	require.NoError(t, err)
	return store, db, clock
}

func priceAlert(owner string, condition model.Condition, target int64) *model.Alert {
	return &model.Alert{
		OwnerID:  owner,
		Name:     "BTC watch",
		Priority: model.PriorityHigh,
		Rule: &model.PriceThresholdRule{
			AssetID:     "bitcoin",
			AssetSymbol: "BTC",
			Condition:   condition,
			TargetPrice: decimal.NewFromInt(target),
		},
	}
}

func TestGormStore_CreateAndGet(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	input := priceAlert("owner-1", model.ConditionAbove, 100)
	input.IsEnabled = false
	input.Status = model.AlertStatusPaused

	created, err := store.Create(ctx, input)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, model.AlertStatusActive, created.Status)
	require.True(t, created.IsEnabled)
	require.Zero(t, created.TriggerCount)
	require.Equal(t, clock.Now(), created.CreatedAt)

	got, err := store.Get(ctx, created.ID, "owner-1")
	require.NoError(t, err)
	require.Equal(t, created.Name, got.Name)
	rule, ok := got.Rule.(*model.PriceThresholdRule)
	require.True(t, ok)
	assert.True(t, rule.TargetPrice.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, rule.LastObservedPrice)

	_, err = store.Get(ctx, created.ID, "owner-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_CreateRejectsInvalid(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Create(context.Background(), priceAlert("owner-1", model.ConditionAbove, 0))
	require.ErrorIs(t, err, ErrInvalidAlert)
}

func TestGormStore_RoundTripsEveryRuleType(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	rules := []model.Rule{
		&model.PercentageChangeRule{AssetID: "ethereum", AssetSymbol: "ETH", Condition: model.ConditionBelow,
			TargetPercentage: decimal.RequireFromString("2.5"), Timeframe: model.Timeframe7d},
		&model.TrendSignalRule{AssetID: "solana", AssetSymbol: "SOL", TargetTrend: model.TrendBearish,
			Indicators: []string{"rsi", "macd"}},
		&model.PortfolioChangeRule{Condition: model.ConditionAbove,
			TargetPercentage: decimal.NewFromInt(-3), Timeframe: model.Timeframe30d},
	}

	for _, rule := range rules {
		t.Run(string(rule.Type()), func(t *testing.T) {
			created, err := store.Create(ctx, &model.Alert{OwnerID: "owner-1", Name: "watch", Rule: rule})
			require.NoError(t, err)

			got, err := store.Get(ctx, created.ID, "owner-1")
			require.NoError(t, err)
			require.Equal(t, rule.Type(), got.Type())
			require.Equal(t, model.PriorityMedium, got.Priority)

			switch r := got.Rule.(type) {
			case *model.PercentageChangeRule:
				assert.True(t, r.TargetPercentage.Equal(decimal.RequireFromString("2.5")))
				assert.Equal(t, model.Timeframe7d, r.Timeframe)
			case *model.TrendSignalRule:
				assert.Equal(t, []string{"rsi", "macd"}, r.Indicators)
				assert.Equal(t, model.TrendBearish, r.TargetTrend)
			case *model.PortfolioChangeRule:
				assert.True(t, r.TargetPercentage.Equal(decimal.NewFromInt(-3)))
			}
		})
	}
}

func TestGormStore_QueryFiltersAndSort(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, priceAlert("owner-1", model.ConditionAbove, 100))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := store.Create(ctx, &model.Alert{OwnerID: "owner-1", Name: "ETH trend",
		Rule: &model.TrendSignalRule{AssetID: "ethereum", AssetSymbol: "ETH", TargetTrend: model.TrendBullish}})
	require.NoError(t, err)
	_, err = store.Create(ctx, priceAlert("owner-2", model.ConditionAbove, 100))
	require.NoError(t, err)

	disabled := false
	_, err = store.Update(ctx, second.ID, "owner-1", AlertPatch{IsEnabled: &disabled})
	require.NoError(t, err)

	all, err := store.Query(ctx, "owner-1", AlertFilter{}, AlertSort{Field: "created_at", Desc: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.ID, all[0].ID)
	require.Equal(t, first.ID, all[1].ID)

	enabled := true
	onlyEnabled, err := store.Query(ctx, "owner-1", AlertFilter{Enabled: &enabled}, AlertSort{})
	require.NoError(t, err)
	require.Len(t, onlyEnabled, 1)
	require.Equal(t, first.ID, onlyEnabled[0].ID)

	bySymbol, err := store.Query(ctx, "owner-1", AlertFilter{AssetSymbol: "ETH"}, AlertSort{})
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)

	byType, err := store.Query(ctx, "owner-1", AlertFilter{Type: model.AlertTypePriceThreshold}, AlertSort{})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	_, err = store.Query(ctx, "owner-1", AlertFilter{}, AlertSort{Field: "owner_id; DROP TABLE alerts"})
	require.Error(t, err)
}

func TestGormStore_Update(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, priceAlert("owner-1", model.ConditionCrossesAbove, 100))
	require.NoError(t, err)
	require.NoError(t, store.SaveObservation(ctx, created.ID, model.ValueObservation(decimal.NewFromInt(95))))

	t.Run("cross owner is not found", func(t *testing.T) {
		name := "stolen"
		_, err := store.Update(ctx, created.ID, "owner-2", AlertPatch{Name: &name})
		require.ErrorIs(t, err, ErrNotFound)

		got, err := store.Get(ctx, created.ID, "owner-1")
		require.NoError(t, err)
		require.Equal(t, "BTC watch", got.Name)
	})

	t.Run("partial fields keep observation", func(t *testing.T) {
		clock.Advance(time.Hour)
		name := "renamed"
		status := model.AlertStatusExpired
		updated, err := store.Update(ctx, created.ID, "owner-1", AlertPatch{Name: &name, Status: &status})
		require.NoError(t, err)
		require.Equal(t, "renamed", updated.Name)
		require.Equal(t, model.AlertStatusExpired, updated.Status)
		require.Equal(t, clock.Now(), updated.UpdatedAt)

		got, err := store.Get(ctx, created.ID, "owner-1")
		require.NoError(t, err)
		obs := got.Rule.Observation()
		require.NotNil(t, obs.Value)
		require.True(t, obs.Value.Equal(decimal.NewFromInt(95)))
	})

	t.Run("rule replacement resets observation", func(t *testing.T) {
		updated, err := store.Update(ctx, created.ID, "owner-1", AlertPatch{Rule: &model.PriceThresholdRule{
			AssetID: "bitcoin", AssetSymbol: "BTC", Condition: model.ConditionBelow, TargetPrice: decimal.NewFromInt(80),
		}})
		require.NoError(t, err)
		require.Nil(t, updated.Rule.Observation().Value)

		got, err := store.Get(ctx, created.ID, "owner-1")
		require.NoError(t, err)
		rule := got.Rule.(*model.PriceThresholdRule)
		require.Equal(t, model.ConditionBelow, rule.Condition)
		require.Nil(t, rule.LastObservedPrice)
	})

	t.Run("rule type cannot change", func(t *testing.T) {
		_, err := store.Update(ctx, created.ID, "owner-1", AlertPatch{Rule: &model.TrendSignalRule{
			AssetID: "bitcoin", TargetTrend: model.TrendBullish,
		}})
		require.ErrorIs(t, err, ErrInvalidAlert)
	})

	t.Run("invalid priority", func(t *testing.T) {
		p := model.Priority("urgent")
		_, err := store.Update(ctx, created.ID, "owner-1", AlertPatch{Priority: &p})
		require.ErrorIs(t, err, ErrInvalidAlert)
	})
}

func TestGormStore_RecordTrigger(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, priceAlert("owner-1", model.ConditionAbove, 100))
	require.NoError(t, err)

	trigger, err := store.RecordTrigger(ctx, created.ID, decimal.NewFromInt(110), "BTC above 100",
		map[string]interface{}{"condition": "above"}, model.ValueObservation(decimal.NewFromInt(110)))
	require.NoError(t, err)
	require.NotEmpty(t, trigger.ID)
	require.Equal(t, "owner-1", trigger.OwnerID)
	require.Equal(t, "BTC", trigger.AssetSymbol)
	require.True(t, trigger.TriggerValue.Equal(decimal.NewFromInt(110)))

	got, err := store.Get(ctx, created.ID, "owner-1")
	require.NoError(t, err)
	require.Equal(t, uint(1), got.TriggerCount)
	require.NotNil(t, got.LastTriggered)
	require.True(t, clock.Now().Equal(*got.LastTriggered))
	require.True(t, got.Rule.Observation().Value.Equal(decimal.NewFromInt(110)))

	triggers, err := store.ListTriggers(ctx, "owner-1", TriggerFilter{AlertID: created.ID})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	require.Equal(t, "above", triggers[0].Metadata["condition"])

	_, err = store.RecordTrigger(ctx, "missing", decimal.NewFromInt(1), "", nil, model.Observation{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_RecordTriggerIsAtomic(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, priceAlert("owner-1", model.ConditionAbove, 100))
	require.NoError(t, err)
	require.NoError(t, store.SaveObservation(ctx, created.ID, model.ValueObservation(decimal.NewFromInt(90))))

	// fail the counter bump after the trigger row has been inserted
	var failAlertUpdates bool
	err = db.Callback().Update().Before("gorm:update").Register("test:fail_alert_update", func(tx *gorm.DB) {
		if failAlertUpdates && tx.Statement.Table == "alerts" {
			_ = tx.AddError(errors.New("injected failure"))
		}
	})
	require.NoError(t, err)
	failAlertUpdates = true

	_, err = store.RecordTrigger(ctx, created.ID, decimal.NewFromInt(110), "BTC above 100", nil,
		model.ValueObservation(decimal.NewFromInt(110)))
	require.ErrorIs(t, err, ErrPersistence)
	failAlertUpdates = false

	triggers, err := store.ListTriggers(ctx, "owner-1", TriggerFilter{})
	require.NoError(t, err)
	require.Empty(t, triggers, "trigger row must be rolled back")

	got, err := store.Get(ctx, created.ID, "owner-1")
	require.NoError(t, err)
	require.Zero(t, got.TriggerCount)
	require.Nil(t, got.LastTriggered)
	require.True(t, got.Rule.Observation().Value.Equal(decimal.NewFromInt(90)), "observation must not advance")
}

func TestGormStore_Delete(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, priceAlert("owner-1", model.ConditionAbove, 100))
	require.NoError(t, err)
	_, err = store.RecordTrigger(ctx, created.ID, decimal.NewFromInt(110), "fired", nil, model.Observation{})
	require.NoError(t, err)

	require.ErrorIs(t, store.Delete(ctx, created.ID, "owner-2"), ErrNotFound)
	require.NoError(t, store.Delete(ctx, created.ID, "owner-1"))
	require.ErrorIs(t, store.Delete(ctx, created.ID, "owner-1"), ErrNotFound)

	triggers, err := store.ListTriggers(ctx, "owner-1", TriggerFilter{})
	require.NoError(t, err)
	require.Empty(t, triggers)
}

func TestGormStore_Stats(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	btc, err := store.Create(ctx, priceAlert("owner-1", model.ConditionAbove, 100))
	require.NoError(t, err)
	eth, err := store.Create(ctx, &model.Alert{OwnerID: "owner-1", Name: "ETH move",
		Rule: &model.PercentageChangeRule{AssetID: "ethereum", AssetSymbol: "ETH", Condition: model.ConditionAbove,
			TargetPercentage: decimal.NewFromInt(5), Timeframe: model.Timeframe24h}})
	require.NoError(t, err)
	paused, err := store.Create(ctx, priceAlert("owner-1", model.ConditionBelow, 50))
	require.NoError(t, err)
	status := model.AlertStatusPaused
	_, err = store.Update(ctx, paused.ID, "owner-1", AlertPatch{Status: &status})
	require.NoError(t, err)

	record := func(id string) {
		_, err := store.RecordTrigger(ctx, id, decimal.NewFromInt(1), "fired", nil, model.Observation{})
		require.NoError(t, err)
	}

	// three days ago: two ETH triggers
	clock.Advance(-72 * time.Hour)
	record(eth.ID)
	record(eth.ID)
	// today: one BTC and one ETH trigger
	clock.Advance(72 * time.Hour)
	record(btc.ID)
	record(eth.ID)

	stats, err := store.Stats(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalAlerts)
	require.Equal(t, int64(2), stats.ActiveAlerts)
	require.Equal(t, int64(2), stats.TriggeredToday)
	require.Equal(t, int64(4), stats.TriggeredThisWeek)
	require.Equal(t, "ETH", stats.MostTriggeredAssetSymbol)

	all, err := store.Query(ctx, "owner-1", AlertFilter{}, AlertSort{})
	require.NoError(t, err)
	require.Equal(t, stats.TotalAlerts, int64(len(all)))

	empty, err := store.Stats(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, empty.TotalAlerts)
	require.Empty(t, empty.MostTriggeredAssetSymbol)
}

func TestGormStore_StatsBreaksTiesAlphabetically(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	sol, err := store.Create(ctx, &model.Alert{OwnerID: "owner-1", Name: "SOL",
		Rule: &model.TrendSignalRule{AssetID: "solana", AssetSymbol: "SOL", TargetTrend: model.TrendBullish}})
	require.NoError(t, err)
	ada, err := store.Create(ctx, &model.Alert{OwnerID: "owner-1", Name: "ADA",
		Rule: &model.TrendSignalRule{AssetID: "cardano", AssetSymbol: "ADA", TargetTrend: model.TrendBullish}})
	require.NoError(t, err)

	for _, id := range []string{sol.ID, ada.ID} {
		_, err := store.RecordTrigger(ctx, id, decimal.Zero, "fired", nil, model.Observation{})
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, "ADA", stats.MostTriggeredAssetSymbol)
}

func TestGormStore_ListOwners(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, priceAlert("owner-b", model.ConditionAbove, 100))
	require.NoError(t, err)
	_, err = store.Create(ctx, priceAlert("owner-a", model.ConditionAbove, 100))
	require.NoError(t, err)
	_, err = store.Create(ctx, priceAlert("owner-a", model.ConditionBelow, 100))
	require.NoError(t, err)
	off, err := store.Create(ctx, priceAlert("owner-c", model.ConditionAbove, 100))
	require.NoError(t, err)
	disabled := false
	_, err = store.Update(ctx, off.ID, "owner-c", AlertPatch{IsEnabled: &disabled})
	require.NoError(t, err)

	owners, err := store.ListOwners(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"owner-a", "owner-b"}, owners)
}
