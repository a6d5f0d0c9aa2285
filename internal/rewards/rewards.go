// Package rewards settles compute work into rewards. It records receipts,
// verifies attached proofs, aggregates claimable work, and prices compute
// with a reputation discount. Claims are append-only and deduplicated per
// provider and cycle id.
package rewards

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abyssgrid/gridmarket/internal/proof"
	"github.com/abyssgrid/gridmarket/internal/registry"
	"github.com/abyssgrid/gridmarket/internal/store"
	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

var (
	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmarket_claims_total",
		Help: "Mining claims by outcome",
	}, []string{"outcome"})
	receiptsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmarket_receipts_recorded_total",
		Help: "Receipts recorded by proof status",
	}, []string{"status"})
)

// msPerCycle converts execution wall time to metered cycles.
const msPerCycle = 10

// Aggregator is the reward settlement engine.
type Aggregator struct {
	store    store.Store
	registry *registry.Registry
	verifier proof.Backend
	meter    *Meter
	params   types.Params
	log      *logger.Logger
	clock    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAggregator creates the reward aggregator.
func NewAggregator(st store.Store, reg *registry.Registry, verifier proof.Backend, meter *Meter, params types.Params, log *logger.Logger) *Aggregator {
	return &Aggregator{
		store:    st,
		registry: reg,
		verifier: verifier,
		meter:    meter,
		params:   params,
		log:      log,
		clock:    time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) lockFor(providerID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[providerID] = l
	}
	return l
}

// executionCycles converts a receipt's wall time to cycles, at least one.
func executionCycles(executionTimeMs int64) uint64 {
	if executionTimeMs <= 0 {
		return 1
	}
	c := uint64(executionTimeMs) / msPerCycle
	if c == 0 {
		return 1
	}
	return c
}

// RecordReceipt persists a receipt and, when a proof accompanies it, verifies
// the proof against the claimed output. A valid proof marks the stored receipt
// verified and credits the provider's verified count; an invalid proof is
// reported in the result, and the receipt is stored either way for audit.
func (a *Aggregator) RecordReceipt(ctx context.Context, r *types.Receipt, prf *types.Proof, output json.RawMessage) (*types.VerificationResult, error) {
	if r == nil || r.ReceiptID == "" || r.PeerID == "" {
		return nil, types.ErrInvalidRequest.Wrap("receipt missing id or peer")
	}
	if prf != nil && prf.ProofBlob != r.Proof {
		return nil, types.ErrProofStructure.Wrap("receipt does not cite the supplied proof")
	}

	// Verify before persisting so the stored record carries the outcome.
	var res types.VerificationResult
	if prf != nil {
		res = a.verifier.Verify(prf, output)
		r.ZkVerified = res.Valid
	}

	if err := a.store.PutReceipt(ctx, r); err != nil {
		return nil, err
	}
	a.meter.Credit(r.PeerID, CycleExecution, executionCycles(r.ExecutionTimeMs))

	if prf == nil {
		receiptsRecorded.WithLabelValues("unproven").Inc()
		return nil, nil
	}

	if !res.Valid {
		receiptsRecorded.WithLabelValues("invalid_proof").Inc()
		a.log.Warn("receipt proof rejected",
			"receipt_id", r.ReceiptID, "peer_id", r.PeerID, "reason", res.Reason)
		return &res, nil
	}

	if err := a.registry.MarkZkVerified(ctx, r.PeerID); err != nil {
		return nil, err
	}
	a.meter.Credit(r.PeerID, CycleZkProof, 1)
	receiptsRecorded.WithLabelValues("verified").Inc()
	return &res, nil
}

// AggregateForClaim summarizes a provider's stored receipts: total metered
// cycles, how many receipts carry a verified proof, and the receipt ids a
// claim would cite.
func (a *Aggregator) AggregateForClaim(ctx context.Context, providerID string) (*types.ClaimAggregate, error) {
	receipts, err := a.store.ReceiptsByPeer(ctx, providerID)
	if err != nil {
		return nil, err
	}

	agg := &types.ClaimAggregate{ReceiptIDs: make([]string, 0, len(receipts))}
	for _, r := range receipts {
		agg.ReceiptCount++
		agg.TotalCycles += executionCycles(r.ExecutionTimeMs)
		if r.ZkVerified {
			agg.VerifiedCount++
		}
		agg.ReceiptIDs = append(agg.ReceiptIDs, r.ReceiptID)
	}
	return agg, nil
}

// Claim settles a batch of cycle ids into a reward. Each cycle id is claimable
// once per provider; re-claiming any id in the batch rejects the whole batch
// with ErrDuplicateClaim and no state change. Cited receipts that are stored,
// owned by the provider, and carry a verified proof count toward the ZK
// bonus; a receipt whose proof was rejected at recording time earns nothing.
func (a *Aggregator) Claim(ctx context.Context, providerID string, cycleIDs, receiptIDs []string) (*types.MiningClaim, error) {
	if providerID == "" {
		return nil, types.ErrInvalidRequest.Wrap("missing provider id")
	}
	if len(cycleIDs) == 0 {
		return nil, types.ErrInvalidRequest.Wrap("no cycle ids to claim")
	}

	l := a.lockFor(providerID)
	l.Lock()
	defer l.Unlock()

	seen := make(map[string]struct{}, len(cycleIDs))
	for _, id := range cycleIDs {
		if _, dup := seen[id]; dup {
			claimsTotal.WithLabelValues("duplicate").Inc()
			return nil, types.ErrDuplicateClaim.Wrapf("cycle %s repeated in batch", id)
		}
		seen[id] = struct{}{}

		claimed, err := a.store.IsCycleClaimed(ctx, providerID, id)
		if err != nil {
			return nil, err
		}
		if claimed {
			claimsTotal.WithLabelValues("duplicate").Inc()
			return nil, types.ErrDuplicateClaim.Wrapf("cycle %s already claimed", id)
		}
	}

	var zkProofCount uint64
	citedReceipts := make([]string, 0, len(receiptIDs))
	for _, id := range receiptIDs {
		r, err := a.store.GetReceipt(ctx, id)
		if err != nil {
			if types.ErrReceiptNotFound.Is(err) {
				continue
			}
			return nil, err
		}
		if r.PeerID != providerID {
			continue
		}
		citedReceipts = append(citedReceipts, r.ReceiptID)
		if r.ZkVerified {
			zkProofCount++
		}
	}

	cycles := uint64(len(cycleIDs)) * a.params.CyclesPerID
	baseReward := math.LegacyNewDec(int64(cycles)).Mul(a.params.CycleRate)
	zkReward := math.LegacyNewDec(int64(zkProofCount)).Mul(a.params.ZkBonusPerProof).Mul(a.params.CycleRate)
	reward := baseReward.Add(zkReward)

	claim := &types.MiningClaim{
		ProviderID:    providerID,
		CycleID:       strings.Join(cycleIDs, ","),
		CyclesClaimed: cycles,
		ZkProofCount:  zkProofCount,
		RewardAmount:  reward,
		ReceiptIDs:    citedReceipts,
		ClaimedAt:     a.clock(),
	}

	if err := a.store.MarkCyclesClaimed(ctx, providerID, cycleIDs); err != nil {
		return nil, err
	}
	if err := a.store.AppendClaim(ctx, claim); err != nil {
		return nil, err
	}

	claimsTotal.WithLabelValues("accepted").Inc()
	a.log.Info("mining claim settled",
		"provider_id", providerID, "cycles", cycles,
		"zk_proofs", zkProofCount, "reward", reward.String())
	return claim, nil
}

// Stats summarizes all claims recorded for a provider.
func (a *Aggregator) Stats(ctx context.Context, providerID string) (*types.MiningStats, error) {
	claims, err := a.store.ClaimsByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	stats := &types.MiningStats{TotalRewardCgt: math.LegacyZeroDec()}
	for _, c := range claims {
		stats.TotalCycles += c.CyclesClaimed
		stats.TotalZkProofs += c.ZkProofCount
		stats.TotalRewardCgt = stats.TotalRewardCgt.Add(c.RewardAmount)
		stats.ClaimCount++
	}
	return stats, nil
}

// Quote prices a compute request. Trusted providers earn a discount of up to
// MaxDiscount, and the price never drops below the configured floor. An
// unknown peer gets no discount.
func (a *Aggregator) Quote(ctx context.Context, peerID string, cycles uint64) (*types.PricingQuote, error) {
	discount := math.LegacyZeroDec()
	trust := math.LegacyZeroDec()

	if peerID != "" {
		p, err := a.registry.Get(ctx, peerID)
		switch {
		case err == nil:
			trust = p.TrustScore
			discount = p.TrustScore.Quo(math.LegacyNewDec(100)).Mul(a.params.MaxDiscount)
		case types.ErrProviderNotFound.Is(err):
			// no reputation, no discount
		default:
			return nil, err
		}
	}

	price := a.params.BasePrice.
		Add(math.LegacyNewDec(int64(cycles)).Mul(a.params.CycleRate)).
		Sub(discount)
	if price.LT(a.params.MinimumPrice) {
		price = a.params.MinimumPrice
	}

	return &types.PricingQuote{
		BasePrice:          a.params.BasePrice,
		CycleRate:          a.params.CycleRate,
		ReputationDiscount: discount,
		TrustScore:         trust,
		Price:              price,
		Formula:            "basePrice + cycles*cycleRate - (trustScore/100)*maxDiscount, floored at minimumPrice",
	}, nil
}
