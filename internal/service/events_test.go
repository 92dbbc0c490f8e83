package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/market-watch/internal/model"
	"github.com/t77yq/market-watch/internal/testutil"
)

func TestEventPublisher(t *testing.T) {
	nc, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	publisher, err := NewEventPublisher(js, logger)
	require.NoError(t, err)
	require.NoError(t, testutil.WaitForStream(t, js, StreamName, 5*time.Second))

	t.Run("ensure stream is idempotent", func(t *testing.T) {
		require.NoError(t, publisher.EnsureStream())
	})

	t.Run("subscriber receives triggers", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		received := make(chan *model.AlertTrigger, 1)
		require.NoError(t, publisher.SubscribeTriggers(ctx, "owner-1", func(tr *model.AlertTrigger) {
			received <- tr
		}))

		trigger := &model.AlertTrigger{
			ID:           "trigger-1",
			AlertID:      "alert-1",
			OwnerID:      "owner-1",
			AssetSymbol:  "BTC",
			TriggeredAt:  time.Now().UTC(),
			TriggerValue: decimal.NewFromInt(110),
			Message:      "📈 BTC watch: BTC is above target at $110.00",
		}
		require.NoError(t, publisher.PublishTrigger(ctx, trigger))

		select {
		case got := <-received:
			assert.Equal(t, "trigger-1", got.ID)
			assert.True(t, got.TriggerValue.Equal(decimal.NewFromInt(110)))
		case <-time.After(5 * time.Second):
			t.Fatal("trigger not received")
		}
	})

	t.Run("republished trigger is stored once", func(t *testing.T) {
		before := testutil.StreamMessages(t, js, StreamName)
		trigger := &model.AlertTrigger{ID: "trigger-2", AlertID: "alert-1", OwnerID: "owner-1"}
		require.NoError(t, publisher.PublishTrigger(context.Background(), trigger))
		require.NoError(t, publisher.PublishTrigger(context.Background(), trigger))
		assert.Equal(t, before+1, testutil.StreamMessages(t, js, StreamName))
	})

	t.Run("stats are published per owner", func(t *testing.T) {
		done := make(chan []byte, 1)
		go func() {
			msgs, err := testutil.ConsumeMessages(nc, "alert.stats.owner-1", 500*time.Millisecond)
			if err == nil && len(msgs) > 0 {
				done <- msgs[0].Data
				return
			}
			done <- nil
		}()
		time.Sleep(100 * time.Millisecond)

		require.NoError(t, publisher.PublishStats(context.Background(), &model.AlertStats{
			OwnerID:     "owner-1",
			TotalAlerts: 3,
		}))

		data := <-done
		require.NotNil(t, data)
		var stats model.AlertStats
		require.NoError(t, json.Unmarshal(data, &stats))
		assert.Equal(t, int64(3), stats.TotalAlerts)
	})

	t.Run("owner ids that are not one subject token are rejected", func(t *testing.T) {
		before := testutil.StreamMessages(t, js, StreamName)
		for _, owner := range []string{"acme.team", "*", ">"} {
			err := publisher.PublishTrigger(context.Background(), &model.AlertTrigger{ID: "t-" + owner, OwnerID: owner})
			assert.ErrorIs(t, err, model.ErrInvalidOwnerID, owner)
			err = publisher.PublishStats(context.Background(), &model.AlertStats{OwnerID: owner})
			assert.ErrorIs(t, err, model.ErrInvalidOwnerID, owner)
			err = publisher.SubscribeTriggers(context.Background(), owner, func(*model.AlertTrigger) {})
			assert.ErrorIs(t, err, model.ErrInvalidOwnerID, owner)
		}
		assert.Equal(t, before, testutil.StreamMessages(t, js, StreamName))
	})
}
