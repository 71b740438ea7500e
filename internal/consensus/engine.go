// Package consensus maintains the feed registry and aggregates reporter
// samples into a single consensus value per feed. Aggregation is a pure
// pipeline over the stored samples: eligibility filter, median, outlier
// rejection against the median, then a weighted average of the survivors.
// The result is advisory; settlement always goes through a resolver.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/auth"
	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

const (
	// DefaultStaleness is how old a sample may be before it is excluded
	// from aggregation.
	DefaultStaleness = 5 * time.Minute

	// DefaultOutlierBp is the maximum deviation from the median, in basis
	// points, a sample may show before it is rejected.
	DefaultOutlierBp = 2000
)

// Engine owns feeds, reporter memberships, and sample aggregation.
type Engine struct {
	uow       domain.UnitOfWork
	policy    *auth.Policy
	staleness time.Duration
	outlierBp int64
	logger    *slog.Logger

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Zero staleness or outlierBp select the defaults.
func New(uow domain.UnitOfWork, policy *auth.Policy, staleness time.Duration, outlierBp int64, logger *slog.Logger, opts ...Option) *Engine {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if outlierBp <= 0 {
		outlierBp = DefaultOutlierBp
	}
	e := &Engine{
		uow:       uow,
		policy:    policy,
		staleness: staleness,
		outlierBp: outlierBp,
		logger:    logger.With(slog.String("component", "consensus")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a reporter to the feed identified by (name, category),
// creating the feed on first registration. Registering an existing reporter
// updates its weight. Admin only.
func (e *Engine) Register(ctx context.Context, actor common.Address, name, category string, source common.Address, weightBp int64) (domain.Feed, domain.Event, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return domain.Feed{}, domain.Event{}, err
	}
	name = strings.TrimSpace(name)
	category = strings.TrimSpace(category)
	switch {
	case name == "" || category == "":
		return domain.Feed{}, domain.Event{}, fmt.Errorf("consensus: feed name and category must not be empty: %w", domain.ErrInvalidInput)
	case source == (common.Address{}):
		return domain.Feed{}, domain.Event{}, fmt.Errorf("consensus: source must not be the zero address: %w", domain.ErrInvalidInput)
	case weightBp <= 0 || weightBp > domain.MaxWeightBp:
		return domain.Feed{}, domain.Event{}, fmt.Errorf("consensus: weight %d out of range 1-%d: %w", weightBp, domain.MaxWeightBp, domain.ErrInvalidInput)
	}

	id := domain.NewFeedID(name, category)
	now := e.now()

	var (
		f  domain.Feed
		ev domain.Event
	)
	err := e.uow.InTx(ctx, func(tx domain.Stores) error {
		var err error
		f, err = tx.Feeds().Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			f = domain.Feed{
				ID:         id,
				Name:       name,
				Category:   category,
				Active:     true,
				LastUpdate: now,
				CreatedAt:  now,
			}
			if err := tx.Feeds().Create(ctx, f); err != nil {
				return fmt.Errorf("create feed: %w", err)
			}
		case err != nil:
			return fmt.Errorf("get feed: %w", err)
		}
		if err := tx.Feeds().UpsertSource(ctx, domain.FeedSource{
			FeedID:   id,
			Source:   source,
			WeightBp: weightBp,
			AddedAt:  now,
		}); err != nil {
			return fmt.Errorf("register source: %w", err)
		}
		if err := checkWeightTotal(ctx, tx, id); err != nil {
			return err
		}

		ev = domain.NewEvent(domain.EventFeedRegistered, feedEntityID(id), actor, now, map[string]any{
			"name":      name,
			"category":  category,
			"source":    source.Hex(),
			"weight_bp": weightBp,
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Feed{}, domain.Event{}, fmt.Errorf("consensus: %w", err)
	}

	e.logger.InfoContext(ctx, "consensus: feed source registered",
		slog.String("feed_id", id.Hex()),
		slog.String("name", name),
		slog.String("source", source.Hex()),
	)
	return f, ev, nil
}

// Deactivate marks a feed inactive. Samples for inactive feeds are rejected
// and no consensus is computed for them. Admin only.
func (e *Engine) Deactivate(ctx context.Context, actor common.Address, id domain.FeedID) (domain.Event, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return domain.Event{}, err
	}

	now := e.now()
	var ev domain.Event
	err := e.uow.InTx(ctx, func(tx domain.Stores) error {
		if _, err := tx.Feeds().Get(ctx, id); err != nil {
			return fmt.Errorf("feed %s: %w", id.Hex(), err)
		}
		if err := tx.Feeds().SetActive(ctx, id, false); err != nil {
			return fmt.Errorf("deactivate feed: %w", err)
		}
		ev = domain.NewEvent(domain.EventFeedDeactivated, feedEntityID(id), actor, now, nil)
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("consensus: %w", err)
	}
	return ev, nil
}

// SetWeight updates a reporter's weight, or every reporter's weight for the
// feed when source is the zero address. Admin only.
func (e *Engine) SetWeight(ctx context.Context, actor common.Address, id domain.FeedID, source common.Address, weightBp int64) (domain.Event, error) {
	if err := e.policy.RequireAdmin(actor); err != nil {
		return domain.Event{}, err
	}
	if weightBp <= 0 || weightBp > domain.MaxWeightBp {
		return domain.Event{}, fmt.Errorf("consensus: weight %d out of range 1-%d: %w", weightBp, domain.MaxWeightBp, domain.ErrInvalidInput)
	}

	now := e.now()
	var ev domain.Event
	err := e.uow.InTx(ctx, func(tx domain.Stores) error {
		if _, err := tx.Feeds().Get(ctx, id); err != nil {
			return fmt.Errorf("feed %s: %w", id.Hex(), err)
		}
		if err := tx.Feeds().SetSourceWeight(ctx, id, source, weightBp); err != nil {
			return fmt.Errorf("set weight: %w", err)
		}
		if err := checkWeightTotal(ctx, tx, id); err != nil {
			return err
		}
		ev = domain.NewEvent(domain.EventFeedWeightSet, feedEntityID(id), actor, now, map[string]any{
			"source":    source.Hex(),
			"weight_bp": weightBp,
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("consensus: %w", err)
	}
	return ev, nil
}

// SubmitSample records a reporter's latest reading for a feed, overwriting
// the reporter's previous sample. The caller must be a registered reporter
// for the feed or an admin. Invalid samples are stored so the reporter's
// last-known state is visible, but they never enter aggregation.
func (e *Engine) SubmitSample(ctx context.Context, actor common.Address, id domain.FeedID, price *big.Int, valid bool) (domain.FeedSample, domain.Event, error) {
	if valid && (price == nil || price.Sign() <= 0) {
		return domain.FeedSample{}, domain.Event{}, fmt.Errorf("consensus: price must be positive: %w", domain.ErrInvalidInput)
	}
	if price == nil {
		price = new(big.Int)
	}

	f, err := e.uow.Feeds().Get(ctx, id)
	if err != nil {
		return domain.FeedSample{}, domain.Event{}, fmt.Errorf("consensus: feed %s: %w", id.Hex(), err)
	}
	if !f.Active {
		return domain.FeedSample{}, domain.Event{}, fmt.Errorf("consensus: feed %s: %w", id.Hex(), domain.ErrFeedInactive)
	}
	sources, err := e.uow.Feeds().ListSources(ctx, id)
	if err != nil {
		return domain.FeedSample{}, domain.Event{}, fmt.Errorf("consensus: list sources: %w", err)
	}
	if err := e.policy.RequireReporter(f, sources, actor); err != nil {
		return domain.FeedSample{}, domain.Event{}, err
	}

	now := e.now()
	sm := domain.FeedSample{
		FeedID:    id,
		Source:    actor,
		Price:     new(big.Int).Set(price),
		Valid:     valid,
		Timestamp: now,
	}

	var ev domain.Event
	err = e.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Samples().Upsert(ctx, sm); err != nil {
			return fmt.Errorf("store sample: %w", err)
		}
		if err := tx.Feeds().Touch(ctx, id, now); err != nil {
			return fmt.Errorf("touch feed: %w", err)
		}
		ev = domain.NewEvent(domain.EventSampleUpdated, feedEntityID(id), actor, now, map[string]any{
			"price": fixedpoint.Format(sm.Price),
			"valid": valid,
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.FeedSample{}, domain.Event{}, fmt.Errorf("consensus: %w", err)
	}
	return sm, ev, nil
}

// Compute aggregates the feed's current samples into a consensus value and
// persists it. Samples must be valid, fresh, and positive to be eligible;
// eligible samples deviating from the median by more than the outlier
// threshold are dropped; the survivors are averaged by reporter weight.
func (e *Engine) Compute(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, domain.Event, error) {
	f, err := e.uow.Feeds().Get(ctx, id)
	if err != nil {
		return domain.ConsensusResult{}, domain.Event{}, fmt.Errorf("consensus: feed %s: %w", id.Hex(), err)
	}
	if !f.Active {
		return domain.ConsensusResult{}, domain.Event{}, fmt.Errorf("consensus: feed %s: %w", id.Hex(), domain.ErrFeedInactive)
	}

	samples, err := e.uow.Samples().ListByFeed(ctx, id)
	if err != nil {
		return domain.ConsensusResult{}, domain.Event{}, fmt.Errorf("consensus: list samples: %w", err)
	}
	sources, err := e.uow.Feeds().ListSources(ctx, id)
	if err != nil {
		return domain.ConsensusResult{}, domain.Event{}, fmt.Errorf("consensus: list sources: %w", err)
	}

	now := e.now()
	value, count, err := aggregate(samples, weightsBySource(sources), now, e.staleness, e.outlierBp)
	if err != nil {
		return domain.ConsensusResult{}, domain.Event{}, fmt.Errorf("consensus: feed %s: %w", id.Hex(), err)
	}

	r := domain.ConsensusResult{
		FeedID:      id,
		Value:       value,
		SampleCount: count,
		ComputedAt:  now,
	}

	var ev domain.Event
	err = e.uow.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Consensus().Put(ctx, r); err != nil {
			return fmt.Errorf("store result: %w", err)
		}
		ev = domain.NewEvent(domain.EventConsensusComputed, feedEntityID(id), common.Address{}, now, map[string]any{
			"value":        fixedpoint.Format(value),
			"sample_count": count,
		})
		return tx.Audit().Append(ctx, ev)
	})
	if err != nil {
		return domain.ConsensusResult{}, domain.Event{}, fmt.Errorf("consensus: %w", err)
	}

	e.logger.DebugContext(ctx, "consensus: computed",
		slog.String("feed_id", id.Hex()),
		slog.String("value", fixedpoint.Format(value)),
		slog.Int("sample_count", count),
	)
	return r, ev, nil
}

// GetFeed returns a feed by id.
func (e *Engine) GetFeed(ctx context.Context, id domain.FeedID) (domain.Feed, error) {
	f, err := e.uow.Feeds().Get(ctx, id)
	if err != nil {
		return domain.Feed{}, fmt.Errorf("consensus: feed %s: %w", id.Hex(), err)
	}
	return f, nil
}

// ListFeeds returns every registered feed.
func (e *Engine) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	feeds, err := e.uow.Feeds().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("consensus: list feeds: %w", err)
	}
	return feeds, nil
}

// ListSources returns a feed's reporter memberships.
func (e *Engine) ListSources(ctx context.Context, id domain.FeedID) ([]domain.FeedSource, error) {
	sources, err := e.uow.Feeds().ListSources(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("consensus: sources for feed %s: %w", id.Hex(), err)
	}
	return sources, nil
}

// Latest returns the most recently computed consensus for a feed.
func (e *Engine) Latest(ctx context.Context, id domain.FeedID) (domain.ConsensusResult, error) {
	r, err := e.uow.Consensus().Get(ctx, id)
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("consensus: result for feed %s: %w", id.Hex(), err)
	}
	return r, nil
}

func weightsBySource(sources []domain.FeedSource) map[common.Address]int64 {
	m := make(map[common.Address]int64, len(sources))
	for _, s := range sources {
		m[s.Source] = s.WeightBp
	}
	return m
}

// aggregate runs the filter-median-filter-average pipeline. All division
// truncates toward zero.
func aggregate(samples []domain.FeedSample, weights map[common.Address]int64, now time.Time, staleness time.Duration, outlierBp int64) (*big.Int, int, error) {
	eligible := samples[:0:0]
	for _, s := range samples {
		if !s.Valid || s.Price == nil || s.Price.Sign() <= 0 {
			continue
		}
		if now.Sub(s.Timestamp) > staleness {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) == 0 {
		return nil, 0, domain.ErrNoValidData
	}

	med := median(eligible)

	survivors := eligible[:0:0]
	for _, s := range eligible {
		dev := new(big.Int).Abs(new(big.Int).Sub(s.Price, med))
		if fixedpoint.BpOf(dev, med) <= outlierBp {
			survivors = append(survivors, s)
		}
	}
	if len(survivors) == 0 {
		return nil, 0, domain.ErrAllOutliers
	}

	weightedSum := new(big.Int)
	totalWeight := new(big.Int)
	for _, s := range survivors {
		w := big.NewInt(weights[s.Source])
		weightedSum.Add(weightedSum, new(big.Int).Mul(s.Price, w))
		totalWeight.Add(totalWeight, w)
	}
	if totalWeight.Sign() <= 0 {
		return nil, 0, domain.ErrZeroWeight
	}
	return weightedSum.Quo(weightedSum, totalWeight), len(survivors), nil
}

// median returns the middle price, or the truncated mean of the middle pair
// for an even count.
func median(samples []domain.FeedSample) *big.Int {
	prices := make([]*big.Int, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Cmp(prices[j]) < 0 })

	n := len(prices)
	if n%2 == 1 {
		return new(big.Int).Set(prices[n/2])
	}
	sum := new(big.Int).Add(prices[n/2-1], prices[n/2])
	return sum.Quo(sum, big.NewInt(2))
}

// checkWeightTotal rejects a weight change that would push the feed's
// combined reporter weight past MaxWeightBp. Runs inside the mutating
// transaction so a violation rolls the change back.
func checkWeightTotal(ctx context.Context, tx domain.Stores, id domain.FeedID) error {
	sources, err := tx.Feeds().ListSources(ctx, id)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	var total int64
	for _, src := range sources {
		total += src.WeightBp
	}
	if total > domain.MaxWeightBp {
		return fmt.Errorf("feed weights total %d, cap is %d: %w", total, domain.MaxWeightBp, domain.ErrInvalidInput)
	}
	return nil
}

func feedEntityID(id domain.FeedID) string {
	return "feed:" + id.Hex()
}
