package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/market-watch/internal/market"
	"github.com/t77yq/market-watch/internal/model"
	"github.com/t77yq/market-watch/internal/notify"
	"github.com/t77yq/market-watch/internal/portfolio"
	"github.com/t77yq/market-watch/internal/scheduler"
	"github.com/t77yq/market-watch/internal/storage"
)

var (
	// ErrInvalidInterval is returned by Start when the evaluation interval is not positive
	ErrInvalidInterval = scheduler.ErrInvalidInterval

	// ErrAssetNotInSnapshot is reported for an alert whose asset the provider did not return
	ErrAssetNotInSnapshot = errors.New("asset not in market snapshot")

	// ErrTimeframeUnavailable is reported when the snapshot has no figure for a timeframe
	ErrTimeframeUnavailable = errors.New("timeframe not available")

	// ErrPortfolioUnavailable is reported when a portfolio valuation cannot be obtained
	ErrPortfolioUnavailable = errors.New("portfolio valuation unavailable")

	// ErrUnknownRule is reported for an alert without a recognised rule
	ErrUnknownRule = errors.New("unknown alert rule")
)

const evaluateJob = "evaluate"

// SnapshotProvider refreshes market conditions for a set of assets
type SnapshotProvider interface {
	Refresh(ctx context.Context, assetIDs []string) (model.Snapshot, error)
}

var _ SnapshotProvider = (*market.Provider)(nil)

// Notifier delivers a trigger to its owner
type Notifier interface {
	Dispatch(ctx context.Context, req notify.Request) (*notify.Delivery, error)
}

// TriggerPublisher announces persisted triggers to other components
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, trigger *model.AlertTrigger) error
}

// Config holds engine settings
type Config struct {
	Interval        time.Duration
	Concurrency     int
	PersistAttempts int
	Retry           scheduler.RetryStrategy
	DeepLinkBase    string
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		Concurrency:     8,
		PersistAttempts: 3,
		Retry:           scheduler.DefaultBackoff(),
	}
}

// Dependencies are the collaborators of an Engine. Valuer and Publisher are
// optional; without a Valuer portfolio alerts report ErrPortfolioUnavailable.
type Dependencies struct {
	Store     storage.AlertStore
	Provider  SnapshotProvider
	Notifier  Notifier
	Valuer    portfolio.Valuer
	Publisher TriggerPublisher

	// OnTick is called after each owner's tick of a scheduled cycle
	OnTick func(*TickResult)
}

// Engine evaluates every active alert of the owners in scope on a fixed
// interval and records, publishes and dispatches the ones that fire
type Engine struct {
	config Config
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	sched   *scheduler.IntervalScheduler
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cycleMu  sync.Mutex
	ownerMu  sync.Mutex
	ownerMus map[string]*sync.Mutex
}

// NewEngine creates a stopped engine
func NewEngine(config Config, deps Dependencies, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PersistAttempts <= 0 {
		config.PersistAttempts = defaults.PersistAttempts
	}
	if config.Retry == nil {
		config.Retry = defaults.Retry
	}
	return &Engine{
		config:   config,
		deps:     deps,
		logger:   logger.Named("engine"),
		now:      time.Now,
		ownerMus: make(map[string]*sync.Mutex),
	}
}

// Start schedules evaluation cycles over scope and runs the first one
// immediately. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context, scope OwnerScope) error {
	if e.config.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, e.config.Interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn("Engine already running")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sched := scheduler.NewIntervalScheduler(e.logger)
	if err := sched.Every(evaluateJob, e.config.Interval, func() { e.runCycle(runCtx, scope) }); err != nil {
		cancel()
		return err
	}
	sched.Start()

	e.sched = sched
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runCycle(runCtx, scope)
	}()

	e.logger.Info("Engine started", zap.Duration("interval", e.config.Interval))
	return nil
}

// Stop cancels the schedule and waits for an in-flight cycle to finish.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	sched, cancel := e.sched, e.cancel
	e.sched, e.cancel = nil, nil
	e.mu.Unlock()

	done := sched.Stop()
	cancel()
	<-done.Done()
	e.wg.Wait()

	e.logger.Info("Engine stopped")
}

// Running reports whether the engine is scheduled
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) runCycle(ctx context.Context, scope OwnerScope) {
	if !e.cycleMu.TryLock() {
		e.logger.Debug("Previous cycle still running, skipping")
		return
	}
	defer e.cycleMu.Unlock()

	owners, err := scope.Owners(ctx)
	if err != nil {
		e.logger.Error("Failed to list owners", zap.Error(err))
		return
	}

	for i, owner := range owners {
		if ctx.Err() != nil {
			e.logger.Info("Cycle cancelled", zap.Int("owners_remaining", len(owners)-i))
			return
		}
		result := e.Tick(context.WithoutCancel(ctx), owner)
		if e.deps.OnTick != nil {
			e.deps.OnTick(result)
		}
	}
}

// Tick evaluates every active, enabled alert of one owner against a single
// market snapshot. Ticks for the same owner never overlap.
func (e *Engine) Tick(ctx context.Context, ownerID string) *TickResult {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	result := &TickResult{OwnerID: ownerID, StartedAt: e.now()}
	defer func() { result.FinishedAt = e.now() }()

	enabled := true
	alerts, err := e.deps.Store.Query(ctx, ownerID, storage.AlertFilter{
		Status:  model.AlertStatusActive,
		Enabled: &enabled,
	}, storage.AlertSort{Field: "created_at"})
	if err != nil {
		result.Err = err
		e.logger.Error("Failed to load alerts", zap.String("owner_id", ownerID), zap.Error(err))
		return result
	}
	if len(alerts) == 0 {
		return result
	}

	var snapshot model.Snapshot
	if ids := assetIDs(alerts); len(ids) > 0 {
		snapshot, err = e.deps.Provider.Refresh(ctx, ids)
		if err != nil {
			result.Err = err
			e.logger.Warn("Market refresh failed, tick abandoned",
				zap.String("owner_id", ownerID),
				zap.Int("alerts", len(alerts)),
				zap.Error(err))
			return result
		}
	}

	result.Results = make([]AlertResult, len(alerts))
	g := new(errgroup.Group)
	g.SetLimit(e.config.Concurrency)
	for i, alert := range alerts {
		i, alert := i, alert
		g.Go(func() error {
			result.Results[i] = e.processAlert(ctx, alert, snapshot)
			return nil
		})
	}
	_ = g.Wait()
	result.Evaluated = len(alerts)

	e.logger.Debug("Tick completed",
		zap.String("owner_id", ownerID),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("fired", result.Fired()),
		zap.Int("failed", result.Failed()))
	return result
}

func (e *Engine) ownerLock(ownerID string) *sync.Mutex {
	e.ownerMu.Lock()
	defer e.ownerMu.Unlock()
	l, ok := e.ownerMus[ownerID]
	if !ok {
		l = &sync.Mutex{}
		e.ownerMus[ownerID] = l
	}
	return l
}

func (e *Engine) processAlert(ctx context.Context, alert *model.Alert, snapshot model.Snapshot) (res AlertResult) {
	res.AlertID = alert.ID
	defer func() {
		if r := recover(); r != nil {
			res.Fired = false
			res.Err = fmt.Errorf("panic evaluating alert: %v", r)
			e.logger.Error("Alert evaluation panicked",
				zap.String("alert_id", alert.ID),
				zap.Any("panic", r))
		}
	}()

	v, err := e.evaluate(ctx, alert, snapshot)
	if err != nil {
		res.Err = err
		e.logger.Warn("Alert evaluation failed",
			zap.String("alert_id", alert.ID),
			zap.String("type", string(alert.Type())),
			zap.Error(err))
		return res
	}

	if !v.fired {
		if err := e.deps.Store.SaveObservation(ctx, alert.ID, v.observation); err != nil {
			res.Err = err
			e.logger.Error("Failed to save observation", zap.String("alert_id", alert.ID), zap.Error(err))
		}
		return res
	}

	req := notify.NewRequest(alert, v.value)
	if e.config.DeepLinkBase != "" {
		req.DeepLink = fmt.Sprintf("%s/alerts/%s", strings.TrimRight(e.config.DeepLinkBase, "/"), alert.ID)
	}
	message := notify.FormatMessage(req)

	var trigger *model.AlertTrigger
	err = scheduler.Retry(ctx, e.config.Retry, e.config.PersistAttempts, func(attempt int) error {
		t, err := e.deps.Store.RecordTrigger(ctx, alert.ID, v.value, message, v.metadata, v.observation)
		if errors.Is(err, storage.ErrNotFound) {
			return scheduler.Permanent(err)
		}
		if err != nil {
			e.logger.Warn("Failed to record trigger",
				zap.String("alert_id", alert.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return err
		}
		trigger = t
		return nil
	})
	if err != nil {
		res.Err = err
		e.logger.Error("Trigger not recorded", zap.String("alert_id", alert.ID), zap.Error(err))
		return res
	}

	res.Fired = true
	res.Trigger = trigger
	e.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("owner_id", alert.OwnerID),
		zap.String("trigger_id", trigger.ID),
		zap.String("value", v.value.String()))

	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishTrigger(ctx, trigger); err != nil {
			e.logger.Warn("Failed to publish trigger", zap.String("trigger_id", trigger.ID), zap.Error(err))
		}
	}

	if e.deps.Notifier != nil {
		req.TriggerID = trigger.ID
		if _, err := e.deps.Notifier.Dispatch(ctx, req); err != nil {
			e.logger.Warn("Notification delivery failed", zap.String("trigger_id", trigger.ID), zap.Error(err))
		}
	}
	return res
}

// verdict is the outcome of one predicate
type verdict struct {
	fired       bool
	value       decimal.Decimal
	observation model.Observation
	metadata    map[string]interface{}
}

func (e *Engine) evaluate(ctx context.Context, alert *model.Alert, snapshot model.Snapshot) (verdict, error) {
	switch r := alert.Rule.(type) {
	case *model.PriceThresholdRule:
		cond, ok := snapshot.Lookup(r.AssetID)
		if !ok {
			return verdict{}, fmt.Errorf("%w: %s", ErrAssetNotInSnapshot, r.AssetID)
		}
		return verdict{
			fired:       priceFires(r.Condition, r.TargetPrice, cond.CurrentPrice, r.LastObservedPrice),
			value:       cond.CurrentPrice,
			observation: model.ValueObservation(cond.CurrentPrice),
			metadata: map[string]interface{}{
				"type":        string(r.Type()),
				"condition":   string(r.Condition),
				"target":      r.TargetPrice.String(),
				"symbol":      symbolOf(r.AssetSymbol, cond),
				"snapshot_at": snapshot.ObservedAt.UTC().Format(time.RFC3339),
			},
		}, nil

	case *model.PercentageChangeRule:
		cond, ok := snapshot.Lookup(r.AssetID)
		if !ok {
			return verdict{}, fmt.Errorf("%w: %s", ErrAssetNotInSnapshot, r.AssetID)
		}
		change, ok := cond.Change(r.Timeframe)
		if !ok {
			return verdict{}, fmt.Errorf("%w: %s for %s", ErrTimeframeUnavailable, r.Timeframe, r.AssetID)
		}
		return verdict{
			fired:       magnitudeFires(r.Condition, r.TargetPercentage, change),
			value:       change,
			observation: model.ValueObservation(change),
			metadata: map[string]interface{}{
				"type":        string(r.Type()),
				"condition":   string(r.Condition),
				"target":      r.TargetPercentage.String(),
				"symbol":      symbolOf(r.AssetSymbol, cond),
				"timeframe":   string(r.Timeframe),
				"snapshot_at": snapshot.ObservedAt.UTC().Format(time.RFC3339),
			},
		}, nil

	case *model.TrendSignalRule:
		cond, ok := snapshot.Lookup(r.AssetID)
		if !ok {
			return verdict{}, fmt.Errorf("%w: %s", ErrAssetNotInSnapshot, r.AssetID)
		}
		trend := cond.Trend
		if !trend.Valid() {
			if !cond.Classifiable() {
				return verdict{}, fmt.Errorf("%w: 24h/7d for %s", ErrTimeframeUnavailable, r.AssetID)
			}
			trend = market.Classify(cond.Change24h, cond.Change7d)
		}
		return verdict{
			fired:       trendFires(r.TargetTrend, trend, r.LastObservedTrend),
			value:       cond.CurrentPrice,
			observation: model.TrendObservation(trend),
			metadata: map[string]interface{}{
				"type":        string(r.Type()),
				"target":      string(r.TargetTrend),
				"trend":       string(trend),
				"symbol":      symbolOf(r.AssetSymbol, cond),
				"snapshot_at": snapshot.ObservedAt.UTC().Format(time.RFC3339),
			},
		}, nil

	case *model.PortfolioChangeRule:
		if e.deps.Valuer == nil {
			return verdict{}, ErrPortfolioUnavailable
		}
		valuation, err := e.deps.Valuer.Value(ctx, alert.OwnerID, r.Timeframe)
		if err != nil {
			return verdict{}, fmt.Errorf("%w: %w", ErrPortfolioUnavailable, err)
		}
		change, err := valuation.ChangePercent()
		if err != nil {
			return verdict{}, fmt.Errorf("%w: %w", ErrPortfolioUnavailable, err)
		}
		return verdict{
			fired:       levelFires(r.Condition, r.TargetPercentage, change),
			value:       change,
			observation: model.ValueObservation(change),
			metadata: map[string]interface{}{
				"type":             string(r.Type()),
				"condition":        string(r.Condition),
				"target":           r.TargetPercentage.String(),
				"timeframe":        string(r.Timeframe),
				"current_value":    valuation.Current.String(),
				"historical_value": valuation.Historical.String(),
				"evaluated_at":     e.now().UTC().Format(time.RFC3339),
			},
		}, nil
	}
	return verdict{}, fmt.Errorf("%w: %T", ErrUnknownRule, alert.Rule)
}

func assetIDs(alerts []*model.Alert) []string {
	var ids []string
	for _, a := range alerts {
		if id, _ := model.AssetOf(a.Rule); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func symbolOf(symbol string, cond model.MarketCondition) string {
	if symbol != "" {
		return strings.ToUpper(symbol)
	}
	return cond.Symbol
}
