package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

const preferenceKeyPrefix = "marketwatch:prefs:"

// PreferenceStore holds one notification preference record per owner
type PreferenceStore interface {
	// Get returns the owner's preference, creating the default on first read
	Get(ctx context.Context, ownerID string) (model.NotificationPreference, error)

	// Put overwrites the owner's preference
	Put(ctx context.Context, pref model.NotificationPreference) error
}

// RedisPreferenceStore keeps preferences as JSON values in Redis
type RedisPreferenceStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPreferenceStore creates a Redis-backed preference store
func NewRedisPreferenceStore(client *redis.Client, logger *zap.Logger) *RedisPreferenceStore {
	return &RedisPreferenceStore{
		client: client,
		logger: logger.Named("preference-store"),
	}
}

// Get implements PreferenceStore.Get
func (s *RedisPreferenceStore) Get(ctx context.Context, ownerID string) (model.NotificationPreference, error) {
	data, err := s.client.Get(ctx, preferenceKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		pref := model.DefaultPreference(ownerID)
		// a concurrent Put wins over the default
		created, err := s.setNX(ctx, pref)
		if err != nil {
			return model.NotificationPreference{}, err
		}
		if !created {
			return s.Get(ctx, ownerID)
		}
		s.logger.Debug("Created default preference", zap.String("owner_id", ownerID))
		return pref, nil
	}
	if err != nil {
		return model.NotificationPreference{}, fmt.Errorf("failed to get preference: %w", err)
	}

	var pref model.NotificationPreference
	if err := json.Unmarshal(data, &pref); err != nil {
		return model.NotificationPreference{}, fmt.Errorf("failed to unmarshal preference: %w", err)
	}
	pref.OwnerID = ownerID
	return pref, nil
}

// Put implements PreferenceStore.Put
func (s *RedisPreferenceStore) Put(ctx context.Context, pref model.NotificationPreference) error {
	if pref.OwnerID == "" {
		return errors.New("owner id is required")
	}
	data, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("failed to marshal preference: %w", err)
	}
	if err := s.client.Set(ctx, preferenceKey(pref.OwnerID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to store preference: %w", ErrPersistence, err)
	}
	return nil
}

func (s *RedisPreferenceStore) setNX(ctx context.Context, pref model.NotificationPreference) (bool, error) {
	data, err := json.Marshal(pref)
	if err != nil {
		return false, fmt.Errorf("failed to marshal preference: %w", err)
	}
	ok, err := s.client.SetNX(ctx, preferenceKey(pref.OwnerID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to store preference: %w", ErrPersistence, err)
	}
	return ok, nil
}

func preferenceKey(ownerID string) string {
	return preferenceKeyPrefix + ownerID
}

// MemoryPreferenceStore is an in-process PreferenceStore
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]model.NotificationPreference
}

// NewMemoryPreferenceStore creates an empty in-memory store
func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]model.NotificationPreference)}
}

// Get implements PreferenceStore.Get
func (s *MemoryPreferenceStore) Get(ctx context.Context, ownerID string) (model.NotificationPreference, error) {
	s.mu.RLock()
	pref, ok := s.prefs[ownerID]
	s.mu.RUnlock()
	if ok {
		return pref, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pref, ok := s.prefs[ownerID]; ok {
		return pref, nil
	}
	pref = model.DefaultPreference(ownerID)
	s.prefs[ownerID] = pref
	return pref, nil
}

// Put implements PreferenceStore.Put
func (s *MemoryPreferenceStore) Put(ctx context.Context, pref model.NotificationPreference) error {
	if pref.OwnerID == "" {
		return errors.New("owner id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[pref.OwnerID] = pref
	return nil
}
