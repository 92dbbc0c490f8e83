package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

// StatsSource computes an owner's alert stats
type StatsSource interface {
	Stats(ctx context.Context, ownerID string) (*model.AlertStats, error)
}

// StatsSink receives computed stats
type StatsSink interface {
	PublishStats(ctx context.Context, stats *model.AlertStats) error
}

// StatsPublisher periodically computes alert stats for every owner in scope
// and publishes them
type StatsPublisher struct {
	logger   *zap.Logger
	source   StatsSource
	sink     StatsSink
	scope    OwnerScope
	interval time.Duration

	mu     sync.RWMutex
	latest map[string]*model.AlertStats

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewStatsPublisher creates a new stats publisher. sink may be nil, in which
// case stats are only retained for Latest.
func NewStatsPublisher(source StatsSource, sink StatsSink, scope OwnerScope, interval time.Duration, logger *zap.Logger) *StatsPublisher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StatsPublisher{
		logger:   logger.Named("stats-publisher"),
		source:   source,
		sink:     sink,
		scope:    scope,
		interval: interval,
		latest:   make(map[string]*model.AlertStats),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the publish loop
func (p *StatsPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("Starting stats publisher", zap.Duration("interval", p.interval))
	go p.publishLoop(ctx)
}

// Stop stops the publish loop and waits for it to exit
func (p *StatsPublisher) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping stats publisher")
		close(p.stop)
	})

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if started {
		<-p.done
	}
}

// Latest returns the most recently computed stats for an owner
func (p *StatsPublisher) Latest(ownerID string) (*model.AlertStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats, ok := p.latest[ownerID]
	return stats, ok
}

func (p *StatsPublisher) publishLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.Collect(ctx)
		}
	}
}

// Collect computes and publishes stats for every owner in scope once
func (p *StatsPublisher) Collect(ctx context.Context) {
	owners, err := p.scope.Owners(ctx)
	if err != nil {
		p.logger.Error("Failed to list owners", zap.Error(err))
		return
	}

	published := 0
	for _, owner := range owners {
		stats, err := p.source.Stats(ctx, owner)
		if err != nil {
			p.logger.Error("Failed to compute stats", zap.String("owner_id", owner), zap.Error(err))
			continue
		}

		p.mu.Lock()
		p.latest[owner] = stats
		p.mu.Unlock()

		if p.sink == nil {
			continue
		}
		if err := p.sink.PublishStats(ctx, stats); err != nil {
			p.logger.Error("Failed to publish stats", zap.String("owner_id", owner), zap.Error(err))
			continue
		}
		published++
	}

	p.logger.Debug("Stats collected",
		zap.Int("owners", len(owners)),
		zap.Int("published", published))
}
