package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/t77yq/market-watch/internal/model"
)

// AlertFilter narrows Query results. Zero values match everything.
type AlertFilter struct {
	Status      model.AlertStatus
	Enabled     *bool
	Type        model.AlertType
	AssetSymbol string
}

// AlertSort orders Query results
type AlertSort struct {
	Field string
	Desc  bool
}

// AlertPatch is a partial update. Nil fields are left unchanged; a non-nil
// Rule must have the alert's existing type and resets its observation.
type AlertPatch struct {
	Name        *string
	Description *string
	Priority    *model.Priority
	Status      *model.AlertStatus
	IsEnabled   *bool
	Rule        model.Rule
}

// TriggerFilter narrows ListTriggers results
type TriggerFilter struct {
	AlertID string
	Since   time.Time
	Limit   int
}

// AlertStore defines the persistence contract for alerts and their trigger history
type AlertStore interface {
	// Create validates and stores a new alert in its initial state
	Create(ctx context.Context, alert *model.Alert) (*model.Alert, error)

	// Get retrieves an alert owned by ownerID
	Get(ctx context.Context, id, ownerID string) (*model.Alert, error)

	// Query lists an owner's alerts
	Query(ctx context.Context, ownerID string, filter AlertFilter, sort AlertSort) ([]*model.Alert, error)

	// Update applies a partial update to an alert owned by ownerID
	Update(ctx context.Context, id, ownerID string, patch AlertPatch) (*model.Alert, error)

	// Delete removes an alert and its trigger history
	Delete(ctx context.Context, id, ownerID string) error

	// RecordTrigger appends a trigger, bumps the alert's counters and writes
	// its observation in one transaction
	RecordTrigger(ctx context.Context, alertID string, value decimal.Decimal, message string, metadata map[string]interface{}, obs model.Observation) (*model.AlertTrigger, error)

	// SaveObservation writes only the runtime observation of an alert
	SaveObservation(ctx context.Context, alertID string, obs model.Observation) error

	// ListTriggers lists an owner's trigger history, newest first
	ListTriggers(ctx context.Context, ownerID string, filter TriggerFilter) ([]*model.AlertTrigger, error)

	// Stats derives aggregate counters from alerts and trigger history
	Stats(ctx context.Context, ownerID string) (*model.AlertStats, error)

	// ListOwners returns owners that have at least one active, enabled alert
	ListOwners(ctx context.Context) ([]string, error)
}

var sortColumns = map[string]string{
	"":               "created_at",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
	"name":           "name",
	"trigger_count":  "trigger_count",
	"last_triggered": "last_triggered",
}

// GormStore implements AlertStore on top of gorm
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// StoreOption configures a GormStore
type StoreOption func(*GormStore)

// WithClock overrides the store's time source
func WithClock(now func() time.Time) StoreOption {
	return func(s *GormStore) {
		s.now = func() time.Time { return now().UTC() }
	}
}

// NewGormStore creates the store and migrates its tables
func NewGormStore(db *gorm.DB, logger *zap.Logger, opts ...StoreOption) (*GormStore, error) {
	s := &GormStore{
		logger: logger.Named("alert-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.db = db.Session(&gorm.Session{NowFunc: s.now})

	if err := s.db.AutoMigrate(&alertRecord{}, &triggerRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate alert tables: %w", err)
	}
	return s, nil
}

// Create implements AlertStore.Create
func (s *GormStore) Create(ctx context.Context, alert *model.Alert) (*model.Alert, error) {
	a := alert.Clone()
	if a.Priority == "" {
		a.Priority = model.PriorityMedium
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}

	now := s.now()
	a.ID = uuid.New().String()
	a.Status = model.AlertStatusActive
	a.IsEnabled = true
	a.TriggerCount = 0
	a.LastTriggered = nil
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Rule.Observe(model.Observation{})

	rec := toAlertRecord(a)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to create alert: %w", ErrPersistence, err)
	}

	s.logger.Info("Alert created",
		zap.String("alert_id", a.ID),
		zap.String("owner_id", a.OwnerID),
		zap.String("type", string(a.Type())))
	return a, nil
}

// Get implements AlertStore.Get
func (s *GormStore) Get(ctx context.Context, id, ownerID string) (*model.Alert, error) {
	return s.get(s.db.WithContext(ctx), id, ownerID)
}

func (s *GormStore) get(tx *gorm.DB, id, ownerID string) (*model.Alert, error) {
	var rec alertRecord
	err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return rec.toModel()
}

// Query implements AlertStore.Query
func (s *GormStore) Query(ctx context.Context, ownerID string, filter AlertFilter, sort AlertSort) ([]*model.Alert, error) {
	column, ok := sortColumns[sort.Field]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sort field %q", ErrInvalidQuery, sort.Field)
	}
	order := column
	if sort.Desc {
		order += " DESC"
	}

	query := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Enabled != nil {
		query = query.Where("is_enabled = ?", *filter.Enabled)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", string(filter.Type))
	}
	if filter.AssetSymbol != "" {
		query = query.Where("asset_symbol = ?", filter.AssetSymbol)
	}

	var recs []alertRecord
	if err := query.Order(order).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	alerts := make([]*model.Alert, 0, len(recs))
	for i := range recs {
		a, err := recs[i].toModel()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Update implements AlertStore.Update
func (s *GormStore) Update(ctx context.Context, id, ownerID string, patch AlertPatch) (*model.Alert, error) {
	var updated *model.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.get(tx, id, ownerID)
		if err != nil {
			return err
		}

		next := current.Clone()
		if patch.Name != nil {
			next.Name = *patch.Name
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Priority != nil {
			next.Priority = *patch.Priority
		}
		if patch.Status != nil {
			next.Status = *patch.Status
		}
		if patch.IsEnabled != nil {
			next.IsEnabled = *patch.IsEnabled
		}
		if patch.Rule != nil {
			if patch.Rule.Type() != current.Type() {
				return fmt.Errorf("%w: rule type cannot change from %s to %s", ErrInvalidAlert, current.Type(), patch.Rule.Type())
			}
			next.Rule = (&model.Alert{Rule: patch.Rule}).Clone().Rule
			next.Rule.Observe(model.Observation{})
		}
		if err := next.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAlert, err)
		}
		next.UpdatedAt = s.now()

		rec := toAlertRecord(next)
		result := tx.Model(&alertRecord{}).
			Where("id = ? AND owner_id = ?", id, ownerID).
			Updates(map[string]interface{}{
				"name":                rec.Name,
				"description":         rec.Description,
				"priority":            rec.Priority,
				"status":              rec.Status,
				"is_enabled":          rec.IsEnabled,
				"asset_id":            rec.AssetID,
				"asset_symbol":        rec.AssetSymbol,
				"condition":           rec.Condition,
				"target":              rec.Target,
				"timeframe":           rec.Timeframe,
				"target_trend":        rec.TargetTrend,
				"indicators":          indicatorsJSON(rec.Indicators),
				"last_observed_value": rec.LastObservedValue,
				"last_observed_trend": rec.LastObservedTrend,
				"updated_at":          next.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("%w: failed to update alert: %w", ErrPersistence, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete implements AlertStore.Delete
func (s *GormStore) Delete(ctx context.Context, id, ownerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&alertRecord{})
		if result.Error != nil {
			return fmt.Errorf("%w: failed to delete alert: %w", ErrPersistence, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("alert_id = ?", id).Delete(&triggerRecord{}).Error; err != nil {
			return fmt.Errorf("%w: failed to delete trigger history: %w", ErrPersistence, err)
		}
		return nil
	})
}

// RecordTrigger implements AlertStore.RecordTrigger
func (s *GormStore) RecordTrigger(ctx context.Context, alertID string, value decimal.Decimal, message string, metadata map[string]interface{}, obs model.Observation) (*model.AlertTrigger, error) {
	var trigger *model.AlertTrigger
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var alert alertRecord
		err := tx.Select("id", "owner_id", "asset_symbol").Where("id = ?", alertID).First(&alert).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: failed to load alert: %w", ErrPersistence, err)
		}

		now := s.now()
		rec := triggerRecord{
			ID:           uuid.New().String(),
			AlertID:      alert.ID,
			OwnerID:      alert.OwnerID,
			AssetSymbol:  alert.AssetSymbol,
			TriggeredAt:  now,
			TriggerValue: value,
			Message:      message,
			Metadata:     metadata,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("%w: failed to append trigger: %w", ErrPersistence, err)
		}

		observedValue, observedTrend := observationColumns(obs)
		result := tx.Model(&alertRecord{}).
			Where("id = ?", alertID).
			UpdateColumns(map[string]interface{}{
				"trigger_count":       gorm.Expr("trigger_count + ?", 1),
				"last_triggered":      now,
				"last_observed_value": observedValue,
				"last_observed_trend": observedTrend,
			})
		if result.Error != nil {
			return fmt.Errorf("%w: failed to bump trigger count: %w", ErrPersistence, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		trigger = rec.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Trigger recorded",
		zap.String("alert_id", alertID),
		zap.String("trigger_id", trigger.ID),
		zap.String("value", value.String()))
	return trigger, nil
}

// SaveObservation implements AlertStore.SaveObservation
func (s *GormStore) SaveObservation(ctx context.Context, alertID string, obs model.Observation) error {
	observedValue, observedTrend := observationColumns(obs)
	result := s.db.WithContext(ctx).Model(&alertRecord{}).
		Where("id = ?", alertID).
		UpdateColumns(map[string]interface{}{
			"last_observed_value": observedValue,
			"last_observed_trend": observedTrend,
		})
	if result.Error != nil {
		return fmt.Errorf("%w: failed to save observation: %w", ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTriggers implements AlertStore.ListTriggers
func (s *GormStore) ListTriggers(ctx context.Context, ownerID string, filter TriggerFilter) ([]*model.AlertTrigger, error) {
	query := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if filter.AlertID != "" {
		query = query.Where("alert_id = ?", filter.AlertID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("triggered_at >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var recs []triggerRecord
	if err := query.Order("triggered_at DESC").Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	triggers := make([]*model.AlertTrigger, 0, len(recs))
	for i := range recs {
		triggers = append(triggers, recs[i].toModel())
	}
	return triggers, nil
}

// Stats implements AlertStore.Stats
func (s *GormStore) Stats(ctx context.Context, ownerID string) (*model.AlertStats, error) {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekAgo := now.AddDate(0, 0, -7)

	stats := &model.AlertStats{OwnerID: ownerID, ComputedAt: now}
	db := s.db.WithContext(ctx)

	if err := db.Model(&alertRecord{}).Where("owner_id = ?", ownerID).Count(&stats.TotalAlerts).Error; err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	if err := db.Model(&alertRecord{}).
		Where("owner_id = ? AND status = ? AND is_enabled = ?", ownerID, string(model.AlertStatusActive), true).
		Count(&stats.ActiveAlerts).Error; err != nil {
		return nil, fmt.Errorf("failed to count active alerts: %w", err)
	}
	if err := db.Model(&triggerRecord{}).
		Where("owner_id = ? AND triggered_at >= ?", ownerID, startOfDay).
		Count(&stats.TriggeredToday).Error; err != nil {
		return nil, fmt.Errorf("failed to count today's triggers: %w", err)
	}
	if err := db.Model(&triggerRecord{}).
		Where("owner_id = ? AND triggered_at >= ?", ownerID, weekAgo).
		Count(&stats.TriggeredThisWeek).Error; err != nil {
		return nil, fmt.Errorf("failed to count this week's triggers: %w", err)
	}

	var top []struct {
		AssetSymbol string
		Hits        int64
	}
	if err := db.Model(&triggerRecord{}).
		Select("asset_symbol, COUNT(*) AS hits").
		Where("owner_id = ? AND asset_symbol <> ''", ownerID).
		Group("asset_symbol").
		Order("hits DESC").
		Order("asset_symbol").
		Limit(1).
		Scan(&top).Error; err != nil {
		return nil, fmt.Errorf("failed to rank trigger symbols: %w", err)
	}
	if len(top) > 0 {
		stats.MostTriggeredAssetSymbol = top[0].AssetSymbol
	}
	return stats, nil
}

// ListOwners implements AlertStore.ListOwners
func (s *GormStore) ListOwners(ctx context.Context) ([]string, error) {
	var owners []string
	if err := s.db.WithContext(ctx).
		Model(&alertRecord{}).
		Where("status = ? AND is_enabled = ?", string(model.AlertStatusActive), true).
		Distinct().
		Order("owner_id").
		Pluck("owner_id", &owners).Error; err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return owners, nil
}

// indicatorsJSON renders the column value written by the json serializer
func indicatorsJSON(indicators []string) string {
	if indicators == nil {
		return "null"
	}
	b, _ := json.Marshal(indicators)
	return string(b)
}
