package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/market-watch/internal/model"
)

func TestPreferenceStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]PreferenceStore{
		"redis":  NewRedisPreferenceStore(client, zaptest.NewLogger(t)),
		"memory": NewMemoryPreferenceStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			pref, err := store.Get(ctx, "owner-1")
			require.NoError(t, err)
			require.Equal(t, model.DefaultPreference("owner-1"), pref)

			pref.EmailNotifications = true
			pref.ToastNotifications = false
			pref.Email = "owner@example.com"
			require.NoError(t, store.Put(ctx, pref))

			got, err := store.Get(ctx, "owner-1")
			require.NoError(t, err)
			require.Equal(t, pref, got)

			require.Error(t, store.Put(ctx, model.NotificationPreference{}))
		})
	}

	require.True(t, mr.Exists("marketwatch:prefs:owner-1"))
}
