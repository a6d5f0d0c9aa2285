// Package store provides durable persistence for providers, receipts and
// mining claims. The memory implementation backs tests and single-node runs;
// the Postgres implementation backs production deployments.
package store

import (
	"context"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// ProviderStore persists provider records keyed by peer id.
type ProviderStore interface {
	GetProvider(ctx context.Context, peerID string) (*types.Provider, error)
	PutProvider(ctx context.Context, provider *types.Provider) error
	ListProviders(ctx context.Context) ([]*types.Provider, error)
}

// ReceiptStore retains execution receipts indefinitely for audit.
type ReceiptStore interface {
	PutReceipt(ctx context.Context, receipt *types.Receipt) error
	GetReceipt(ctx context.Context, receiptID string) (*types.Receipt, error)
	ReceiptsByPeer(ctx context.Context, peerID string) ([]*types.Receipt, error)
}

// ClaimStore records append-only mining claims and the cycle ids they settle.
type ClaimStore interface {
	AppendClaim(ctx context.Context, claim *types.MiningClaim) error
	ClaimsByProvider(ctx context.Context, providerID string) ([]*types.MiningClaim, error)
	IsCycleClaimed(ctx context.Context, providerID, cycleID string) (bool, error)
	MarkCyclesClaimed(ctx context.Context, providerID string, cycleIDs []string) error
}

// Store is the full storage collaborator consumed by the marketplace core.
type Store interface {
	ProviderStore
	ReceiptStore
	ClaimStore
}
