// Package memory implements the domain store interfaces with in-process
// maps. It backs the dev mode, where the service runs without postgres, and
// the engine tests. InTx takes a full snapshot of the state and restores it
// when fn fails, so rollback semantics match the postgres implementation.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
)

type stakeKey struct {
	marketID int64
	user     common.Address
}

type sampleKey struct {
	feedID domain.FeedID
	source common.Address
}

type sourceKey struct {
	feedID domain.FeedID
	source common.Address
}

// Store holds all state behind a single mutex. It implements
// domain.UnitOfWork and every store interface.
type Store struct {
	mu sync.Mutex

	nextMarketID int64
	markets      map[int64]domain.Market
	stakes       map[stakeKey]domain.Stake
	feeds        map[domain.FeedID]domain.Feed
	sources      map[sourceKey]domain.FeedSource
	samples      map[sampleKey]domain.FeedSample
	consensus    map[domain.FeedID]domain.ConsensusResult
	balances     map[common.Address]*big.Int
	audit        []domain.Event

	// txMu serializes transactions for the whole snapshot/fn/restore
	// window, so a rollback can never erase a concurrent commit.
	txMu sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		nextMarketID: 1,
		markets:      make(map[int64]domain.Market),
		stakes:       make(map[stakeKey]domain.Stake),
		feeds:        make(map[domain.FeedID]domain.Feed),
		sources:      make(map[sourceKey]domain.FeedSource),
		samples:      make(map[sampleKey]domain.FeedSample),
		consensus:    make(map[domain.FeedID]domain.ConsensusResult),
		balances:     make(map[common.Address]*big.Int),
	}
}

func (s *Store) Markets() domain.MarketStore      { return (*marketStore)(s) }
func (s *Store) Stakes() domain.StakeStore        { return (*stakeStore)(s) }
func (s *Store) Feeds() domain.FeedStore          { return (*feedStore)(s) }
func (s *Store) Samples() domain.SampleStore      { return (*sampleStore)(s) }
func (s *Store) Consensus() domain.ConsensusStore { return (*consensusStore)(s) }
func (s *Store) Balances() domain.TransferLedger  { return (*balanceStore)(s) }
func (s *Store) Audit() domain.AuditStore         { return (*auditStore)(s) }

// InTx snapshots the state, runs fn against the same store, and restores the
// snapshot if fn returns an error. Transactions run one at a time: a
// concurrent caller blocks until the current one commits or rolls back, the
// same isolation pgx gives these short transactions.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := fn(s)

	if err != nil {
		s.mu.Lock()
		s.restoreLocked(snap)
		s.mu.Unlock()
	}
	return err
}

type snapshot struct {
	nextMarketID int64
	markets      map[int64]domain.Market
	stakes       map[stakeKey]domain.Stake
	feeds        map[domain.FeedID]domain.Feed
	sources      map[sourceKey]domain.FeedSource
	samples      map[sampleKey]domain.FeedSample
	consensus    map[domain.FeedID]domain.ConsensusResult
	balances     map[common.Address]*big.Int
	auditLen     int
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		nextMarketID: s.nextMarketID,
		markets:      make(map[int64]domain.Market, len(s.markets)),
		stakes:       make(map[stakeKey]domain.Stake, len(s.stakes)),
		feeds:        make(map[domain.FeedID]domain.Feed, len(s.feeds)),
		sources:      make(map[sourceKey]domain.FeedSource, len(s.sources)),
		samples:      make(map[sampleKey]domain.FeedSample, len(s.samples)),
		consensus:    make(map[domain.FeedID]domain.ConsensusResult, len(s.consensus)),
		balances:     make(map[common.Address]*big.Int, len(s.balances)),
		auditLen:     len(s.audit),
	}
	for k, v := range s.markets {
		snap.markets[k] = cloneMarket(v)
	}
	for k, v := range s.stakes {
		snap.stakes[k] = cloneStake(v)
	}
	for k, v := range s.feeds {
		snap.feeds[k] = v
	}
	for k, v := range s.sources {
		snap.sources[k] = v
	}
	for k, v := range s.samples {
		snap.samples[k] = cloneSample(v)
	}
	for k, v := range s.consensus {
		snap.consensus[k] = cloneConsensus(v)
	}
	for k, v := range s.balances {
		snap.balances[k] = new(big.Int).Set(v)
	}
	return snap
}

func (s *Store) restoreLocked(snap snapshot) {
	s.nextMarketID = snap.nextMarketID
	s.markets = snap.markets
	s.stakes = snap.stakes
	s.feeds = snap.feeds
	s.sources = snap.sources
	s.samples = snap.samples
	s.consensus = snap.consensus
	s.balances = snap.balances
	s.audit = s.audit[:snap.auditLen]
}

func cloneMarket(m domain.Market) domain.Market {
	m.TotalYes = new(big.Int).Set(m.TotalYes)
	m.TotalNo = new(big.Int).Set(m.TotalNo)
	if m.SettledAt != nil {
		t := *m.SettledAt
		m.SettledAt = &t
	}
	return m
}

func cloneStake(st domain.Stake) domain.Stake {
	st.Amount = new(big.Int).Set(st.Amount)
	if st.ClaimedAt != nil {
		t := *st.ClaimedAt
		st.ClaimedAt = &t
	}
	return st
}

func cloneSample(sm domain.FeedSample) domain.FeedSample {
	sm.Price = new(big.Int).Set(sm.Price)
	return sm
}

func cloneConsensus(r domain.ConsensusResult) domain.ConsensusResult {
	r.Value = new(big.Int).Set(r.Value)
	return r
}

// --- MarketStore ---

type marketStore Store

func (s *marketStore) Create(ctx context.Context, m domain.Market) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextMarketID
	s.nextMarketID++
	s.markets[m.ID] = cloneMarket(m)
	return m.ID, nil
}

func (s *marketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return cloneMarket(m), nil
}

func (s *marketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	out := make([]domain.Market, 0, len(ids))
	for i, id := range ids {
		if opts.Offset > 0 && i < opts.Offset {
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, cloneMarket(s.markets[id]))
	}
	return out, nil
}

func (s *marketStore) ListExpiredUnsettled(ctx context.Context, now time.Time) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if !m.Settled && !now.Before(m.Deadline) {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *marketStore) AddToPool(ctx context.Context, id int64, side domain.Side, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m = cloneMarket(m)
	if side == domain.SideYes {
		m.TotalYes.Add(m.TotalYes, amount)
	} else {
		m.TotalNo.Add(m.TotalNo, amount)
	}
	m.UpdatedAt = time.Now()
	s.markets[id] = m
	return nil
}

func (s *marketStore) MarkSettled(ctx context.Context, id int64, outcome bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Settled {
		return domain.ErrAlreadySettled
	}
	m = cloneMarket(m)
	m.Settled = true
	m.Outcome = outcome
	m.SettledAt = &at
	m.UpdatedAt = at
	s.markets[id] = m
	return nil
}

func (s *marketStore) SetConfidence(ctx context.Context, id int64, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m = cloneMarket(m)
	m.Confidence = value
	s.markets[id] = m
	return nil
}

func (s *marketStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

// --- StakeStore ---

type stakeStore Store

func (s *stakeStore) Create(ctx context.Context, st domain.Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stakeKey{marketID: st.MarketID, user: st.User}
	if _, exists := s.stakes[k]; exists {
		return domain.ErrDuplicateStake
	}
	s.stakes[k] = cloneStake(st)
	return nil
}

func (s *stakeStore) Get(ctx context.Context, marketID int64, user common.Address) (domain.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[stakeKey{marketID: marketID, user: user}]
	if !ok {
		return domain.Stake{}, domain.ErrNotFound
	}
	return cloneStake(st), nil
}

func (s *stakeStore) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Stake
	for k, st := range s.stakes {
		if k.marketID == marketID {
			out = append(out, cloneStake(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StakedAt.Before(out[j].StakedAt) })
	return paginate(out, opts), nil
}

func (s *stakeStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Stake
	for k, st := range s.stakes {
		if k.user == user {
			out = append(out, cloneStake(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StakedAt.Before(out[j].StakedAt) })
	return paginate(out, opts), nil
}

func (s *stakeStore) MarkClaimed(ctx context.Context, marketID int64, user common.Address, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stakeKey{marketID: marketID, user: user}
	st, ok := s.stakes[k]
	if !ok {
		return domain.ErrNoStake
	}
	if st.Claimed {
		return domain.ErrAlreadyClaimed
	}
	st = cloneStake(st)
	st.Claimed = true
	st.ClaimedAt = &at
	s.stakes[k] = st
	return nil
}

func paginate(in []domain.Stake, opts domain.ListOpts) []domain.Stake {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}

// --- FeedStore ---

type feedStore Store

func (s *feedStore) Create(ctx context.Context, f domain.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.feeds[f.ID]; exists {
		return fmt.Errorf("feed %s already registered: %w", f.ID.Hex(), domain.ErrInvalidInput)
	}
	s.feeds[f.ID] = f
	return nil
}

func (s *feedStore) Get(ctx context.Context, id domain.FeedID) (domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[id]
	if !ok {
		return domain.Feed{}, domain.ErrNotFound
	}
	return f, nil
}

func (s *feedStore) List(ctx context.Context) ([]domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *feedStore) SetActive(ctx context.Context, id domain.FeedID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.Active = active
	s.feeds[id] = f
	return nil
}

func (s *feedStore) Touch(ctx context.Context, id domain.FeedID, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.LastUpdate = t
	s.feeds[id] = f
	return nil
}

func (s *feedStore) UpsertSource(ctx context.Context, src domain.FeedSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[sourceKey{feedID: src.FeedID, source: src.Source}] = src
	return nil
}

func (s *feedStore) ListSources(ctx context.Context, feedID domain.FeedID) ([]domain.FeedSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedSource
	for k, src := range s.sources {
		if k.feedID == feedID {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source.Hex() < out[j].Source.Hex()
	})
	return out, nil
}

func (s *feedStore) SetSourceWeight(ctx context.Context, feedID domain.FeedID, source common.Address, weightBp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source == (common.Address{}) {
		for k, src := range s.sources {
			if k.feedID == feedID {
				src.WeightBp = weightBp
				s.sources[k] = src
			}
		}
		return nil
	}
	k := sourceKey{feedID: feedID, source: source}
	src, ok := s.sources[k]
	if !ok {
		return domain.ErrNotFound
	}
	src.WeightBp = weightBp
	s.sources[k] = src
	return nil
}

// --- SampleStore ---

type sampleStore Store

func (s *sampleStore) Upsert(ctx context.Context, sm domain.FeedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sampleKey{feedID: sm.FeedID, source: sm.Source}] = cloneSample(sm)
	return nil
}

func (s *sampleStore) ListByFeed(ctx context.Context, feedID domain.FeedID) ([]domain.FeedSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedSample
	for k, sm := range s.samples {
		if k.feedID == feedID {
			out = append(out, cloneSample(sm))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source.Hex() < out[j].Source.Hex()
	})
	return out, nil
}

// --- ConsensusStore ---

type consensusStore Store

func (s *consensusStore) Put(ctx context.Context, r domain.ConsensusResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consensus[r.FeedID] = cloneConsensus(r)
	return nil
}

func (s *consensusStore) Get(ctx context.Context, feedID domain.FeedID) (domain.ConsensusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.consensus[feedID]
	if !ok {
		return domain.ConsensusResult{}, domain.ErrNotFound
	}
	return cloneConsensus(r), nil
}

// --- TransferLedger ---

type balanceStore Store

func (s *balanceStore) Balance(ctx context.Context, user common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[user]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(b), nil
}

func (s *balanceStore) Credit(ctx context.Context, user common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[user]
	if !ok {
		b = new(big.Int)
	}
	s.balances[user] = new(big.Int).Add(b, amount)
	return nil
}

func (s *balanceStore) Debit(ctx context.Context, user common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[user]
	if !ok || b.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	s.balances[user] = new(big.Int).Sub(b, amount)
	return nil
}

// --- AuditStore ---

type auditStore Store

func (s *auditStore) Append(ctx context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *auditStore) ListByEntity(ctx context.Context, entityID string, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].EntityID == entityID {
			out = append(out, s.audit[i])
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *auditStore) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := len(s.audit) - 1; i >= 0; i-- {
		out = append(out, s.audit[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *auditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.audit {
		if e.At.Before(cutoff) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *auditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.audit[:0]
	var removed int64
	for _, e := range s.audit {
		if e.At.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return removed, nil
}

// Compile-time interface check.
var _ domain.UnitOfWork = (*Store)(nil)
