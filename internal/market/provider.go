package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

// ErrDataSourceUnavailable is returned when a refresh cannot reach the market provider
var ErrDataSourceUnavailable = errors.New("market data source unavailable")

// Fetcher is the upstream call a Provider makes once per refresh
type Fetcher interface {
	FetchMarkets(ctx context.Context, assetIDs []string) ([]model.MarketCondition, error)
}

// Provider keeps the most recent market snapshot and refreshes it on demand
type Provider struct {
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	snapshot model.Snapshot
}

// NewProvider creates a provider over fetcher
func NewProvider(fetcher Fetcher, fetchTimeout time.Duration, logger *zap.Logger) *Provider {
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	return &Provider{
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		logger:       logger.Named("market-provider"),
		snapshot:     model.Snapshot{Conditions: make(map[string]model.MarketCondition)},
	}
}

// Refresh fetches the given assets in a single upstream call. The returned
// snapshot holds only what the upstream reported in this call. The retained
// snapshot takes the fresh conditions and drops requested assets the
// upstream no longer returns. On failure the previous snapshot is kept
// untouched.
func (p *Provider) Refresh(ctx context.Context, assetIDs []string) (model.Snapshot, error) {
	ids := dedupe(assetIDs)
	if len(ids) == 0 {
		return p.Snapshot(), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	conditions, err := p.fetcher.FetchMarkets(fetchCtx, ids)
	if err != nil {
		p.logger.Warn("Market refresh failed, keeping previous snapshot",
			zap.Int("assets", len(ids)),
			zap.Error(err))
		return model.Snapshot{}, fmt.Errorf("%w: %w", ErrDataSourceUnavailable, err)
	}

	observedAt := time.Now().UTC()
	fresh := model.Snapshot{
		Conditions: make(map[string]model.MarketCondition, len(conditions)),
		ObservedAt: observedAt,
	}
	for _, c := range conditions {
		if c.ObservedAt.IsZero() {
			c.ObservedAt = observedAt
		}
		fresh.Conditions[c.AssetID] = c
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		if _, ok := fresh.Conditions[id]; !ok {
			delete(p.snapshot.Conditions, id)
		}
	}
	for id, c := range fresh.Conditions {
		p.snapshot.Conditions[id] = c
	}
	p.snapshot.ObservedAt = observedAt

	if missing := len(ids) - len(fresh.Conditions); missing > 0 {
		p.logger.Debug("Upstream omitted requested assets", zap.Int("missing", missing))
	}
	p.logger.Debug("Market snapshot refreshed",
		zap.Int("requested", len(ids)),
		zap.Int("received", len(conditions)))

	return fresh, nil
}

// Snapshot returns a copy of the retained snapshot
func (p *Provider) Snapshot() model.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.copyLocked()
}

func (p *Provider) copyLocked() model.Snapshot {
	conditions := make(map[string]model.MarketCondition, len(p.snapshot.Conditions))
	for id, c := range p.snapshot.Conditions {
		conditions[id] = c
	}
	return model.Snapshot{Conditions: conditions, ObservedAt: p.snapshot.ObservedAt}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
