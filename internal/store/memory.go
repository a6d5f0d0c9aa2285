package store

import (
	"context"
	"sync"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// MemoryStore is an in-process Store used for tests and single-node runs.
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[string]*types.Provider
	receipts  map[string]*types.Receipt
	claims    map[string][]*types.MiningClaim // providerID -> claims
	claimed   map[string]struct{}             // providerID + "/" + cycleID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[string]*types.Provider),
		receipts:  make(map[string]*types.Receipt),
		claims:    make(map[string][]*types.MiningClaim),
		claimed:   make(map[string]struct{}),
	}
}

// GetProvider returns a copy of the stored provider record.
func (s *MemoryStore) GetProvider(_ context.Context, peerID string) (*types.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[peerID]
	if !ok {
		return nil, types.ErrProviderNotFound.Wrapf("peer %s", peerID)
	}
	cp := *p
	return &cp, nil
}

// PutProvider stores a copy of the provider record.
func (s *MemoryStore) PutProvider(_ context.Context, provider *types.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *provider
	s.providers[provider.PeerID] = &cp
	return nil
}

// ListProviders returns copies of all provider records in unspecified order.
func (s *MemoryStore) ListProviders(_ context.Context) ([]*types.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// PutReceipt stores a receipt. Receipts are immutable; overwriting an id with
// identical content is harmless.
func (s *MemoryStore) PutReceipt(_ context.Context, receipt *types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *receipt
	s.receipts[receipt.ReceiptID] = &cp
	return nil
}

// GetReceipt returns a stored receipt by id.
func (s *MemoryStore) GetReceipt(_ context.Context, receiptID string) (*types.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[receiptID]
	if !ok {
		return nil, types.ErrReceiptNotFound.Wrapf("receipt %s", receiptID)
	}
	cp := *r
	return &cp, nil
}

// ReceiptsByPeer returns all receipts recorded for the given executor.
func (s *MemoryStore) ReceiptsByPeer(_ context.Context, peerID string) ([]*types.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Receipt
	for _, r := range s.receipts {
		if r.PeerID == peerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AppendClaim records a settlement claim. Claims are append-only.
func (s *MemoryStore) AppendClaim(_ context.Context, claim *types.MiningClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *claim
	s.claims[claim.ProviderID] = append(s.claims[claim.ProviderID], &cp)
	return nil
}

// ClaimsByProvider returns all claims recorded for a provider.
func (s *MemoryStore) ClaimsByProvider(_ context.Context, providerID string) ([]*types.MiningClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claims := s.claims[providerID]
	out := make([]*types.MiningClaim, 0, len(claims))
	for _, c := range claims {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// IsCycleClaimed reports whether a cycle id was already settled for a provider.
func (s *MemoryStore) IsCycleClaimed(_ context.Context, providerID, cycleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.claimed[providerID+"/"+cycleID]
	return ok, nil
}

// MarkCyclesClaimed marks cycle ids as settled for a provider.
func (s *MemoryStore) MarkCyclesClaimed(_ context.Context, providerID string, cycleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range cycleIDs {
		s.claimed[providerID+"/"+id] = struct{}{}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
