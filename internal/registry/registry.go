// Package registry tracks stake, trust and job statistics per provider and
// applies the marketplace's economic state transitions. All mutations for a
// given peer id are serialized through a per-key lock so concurrent stake and
// slash operations never interleave into a torn read-modify-write.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abyssgrid/gridmarket/internal/store"
	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

var (
	slashesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridmarket_slashes_total",
		Help: "Total number of slash operations applied",
	})

	stakeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmarket_stake_operations_total",
		Help: "Total stake ledger operations by kind",
	}, []string{"op"})
)

// Registry is the provider registry and stake/slash ledger.
type Registry struct {
	store  store.ProviderStore
	params types.Params
	log    *logger.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry backed by the given provider store.
func New(st store.ProviderStore, params types.Params, log *logger.Logger) *Registry {
	return &Registry{
		store:  st,
		params: params,
		log:    log,
		clock:  time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutations for one peer id.
func (r *Registry) lockFor(peerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[peerID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[peerID] = l
	}
	return l
}

// GetOrCreate returns the provider record for a peer, creating it with full
// trust and zero stake on first contact.
func (r *Registry) GetOrCreate(ctx context.Context, peerID string) (*types.Provider, error) {
	l := r.lockFor(peerID)
	l.Lock()
	defer l.Unlock()
	return r.getOrCreateLocked(ctx, peerID)
}

func (r *Registry) getOrCreateLocked(ctx context.Context, peerID string) (*types.Provider, error) {
	p, err := r.store.GetProvider(ctx, peerID)
	if err == nil {
		return p, nil
	}
	if !types.ErrProviderNotFound.Is(err) {
		return nil, err
	}

	p = types.NewProvider(peerID, r.clock())
	if err := r.store.PutProvider(ctx, p); err != nil {
		return nil, err
	}
	r.log.Info("provider created", "peer_id", peerID)
	return p, nil
}

// Get returns the provider record or ErrProviderNotFound.
func (r *Registry) Get(ctx context.Context, peerID string) (*types.Provider, error) {
	return r.store.GetProvider(ctx, peerID)
}

// List returns all providers sorted by trust score desc, stake desc, and
// peer id asc so the ordering is stable and deterministic.
func (r *Registry) List(ctx context.Context) ([]*types.Provider, error) {
	providers, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(providers, func(i, j int) bool {
		a, b := providers[i], providers[j]
		if !a.TrustScore.Equal(b.TrustScore) {
			return a.TrustScore.GT(b.TrustScore)
		}
		if !a.StakeAmount.Equal(b.StakeAmount) {
			return a.StakeAmount.GT(b.StakeAmount)
		}
		return a.PeerID < b.PeerID
	})
	return providers, nil
}

// ApplyStatsUpdate atomically increments job counters and refreshes the
// success rate.
func (r *Registry) ApplyStatsUpdate(ctx context.Context, peerID string, jobDelta, successDelta uint64) error {
	l := r.lockFor(peerID)
	l.Lock()
	defer l.Unlock()

	p, err := r.getOrCreateLocked(ctx, peerID)
	if err != nil {
		return err
	}

	p.TotalJobs += jobDelta
	p.SuccessfulJobs += successDelta
	if p.SuccessfulJobs > p.TotalJobs {
		p.SuccessfulJobs = p.TotalJobs
	}
	if p.TotalJobs > 0 {
		p.SuccessRate = math.LegacyNewDec(int64(p.SuccessfulJobs)).Quo(math.LegacyNewDec(int64(p.TotalJobs)))
	}
	p.UpdatedAt = r.clock()
	return r.store.PutProvider(ctx, p)
}

// MarkZkVerified credits one verified proof to the provider's record.
func (r *Registry) MarkZkVerified(ctx context.Context, peerID string) error {
	l := r.lockFor(peerID)
	l.Lock()
	defer l.Unlock()

	p, err := r.getOrCreateLocked(ctx, peerID)
	if err != nil {
		return err
	}
	p.ZkVerifiedCount++
	p.UpdatedAt = r.clock()
	return r.store.PutProvider(ctx, p)
}

// Stake adds collateral for a peer, creating the provider on first stake.
// Returns the new stake amount.
func (r *Registry) Stake(ctx context.Context, peerID string, amount math.LegacyDec) (*types.Provider, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, types.ErrInvalidAmount.Wrapf("stake amount %s", amount)
	}

	l := r.lockFor(peerID)
	l.Lock()
	defer l.Unlock()

	p, err := r.getOrCreateLocked(ctx, peerID)
	if err != nil {
		return nil, err
	}

	p.StakeAmount = p.StakeAmount.Add(amount)
	p.UpdatedAt = r.clock()
	if err := r.store.PutProvider(ctx, p); err != nil {
		return nil, err
	}

	stakeOpsTotal.WithLabelValues("stake").Inc()
	r.log.Info("stake added", "peer_id", peerID, "amount", amount.String(), "new_stake", p.StakeAmount.String())
	return p, nil
}

// Withdraw removes collateral. Fails with ErrInsufficientStake if the amount
// exceeds the current stake; the stake can never go negative.
func (r *Registry) Withdraw(ctx context.Context, peerID string, amount math.LegacyDec) (*types.Provider, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, types.ErrInvalidAmount.Wrapf("withdraw amount %s", amount)
	}

	l := r.lockFor(peerID)
	l.Lock()
	defer l.Unlock()

	p, err := r.store.GetProvider(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if amount.GT(p.StakeAmount) {
		return nil, types.ErrInsufficientStake.Wrapf("requested %s, staked %s", amount, p.StakeAmount)
	}

	p.StakeAmount = p.StakeAmount.Sub(amount)
	p.UpdatedAt = r.clock()
	if err := r.store.PutProvider(ctx, p); err != nil {
		return nil, err
	}

	stakeOpsTotal.WithLabelValues("withdraw").Inc()
	r.log.Info("stake withdrawn", "peer_id", peerID, "amount", amount.String(), "new_stake", p.StakeAmount.String())
	return p, nil
}

// Slash applies a punitive stake reduction and trust penalty. When amount is
// nil the configured default fraction of the current stake is slashed.
// Slashing a zero-stake provider still penalizes trust and increments the
// slash count. Slashes are unilateral and irreversible; callers own
// deduplication by idempotency key.
func (r *Registry) Slash(ctx context.Context, peerID, reason string, amount *math.LegacyDec) (*types.SlashResult, error) {
	l := r.lockFor(peerID)
	l.Lock()
	defer l.Unlock()

	p, err := r.store.GetProvider(ctx, peerID)
	if err != nil {
		return nil, err
	}

	var slashed math.LegacyDec
	if amount != nil {
		if amount.IsNegative() {
			return nil, types.ErrInvalidAmount.Wrapf("slash amount %s", amount)
		}
		slashed = *amount
	} else {
		slashed = p.StakeAmount.Mul(r.params.SlashFraction)
	}
	if slashed.GT(p.StakeAmount) {
		slashed = p.StakeAmount
	}

	p.StakeAmount = p.StakeAmount.Sub(slashed)
	p.TrustScore = p.TrustScore.Sub(r.params.TrustPenalty)
	if p.TrustScore.IsNegative() {
		p.TrustScore = math.LegacyZeroDec()
	}
	p.SlashCount++
	p.UpdatedAt = r.clock()

	if err := r.store.PutProvider(ctx, p); err != nil {
		return nil, err
	}

	slashesTotal.Inc()
	stakeOpsTotal.WithLabelValues("slash").Inc()
	r.log.Warn("provider slashed",
		"peer_id", peerID, "reason", reason,
		"slashed", slashed.String(), "new_stake", p.StakeAmount.String(),
		"new_trust", p.TrustScore.String())

	return &types.SlashResult{
		PeerID:        peerID,
		SlashedAmount: slashed,
		NewStake:      p.StakeAmount,
		NewTrustScore: p.TrustScore,
		Reason:        reason,
	}, nil
}
