package transport

import (
	"context"
	"sync"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// LocalBus connects in-process nodes. Delivery is asynchronous to mirror a
// real network: handlers run on their own goroutine.
type LocalBus struct {
	mu    sync.RWMutex
	nodes map[string]*LocalNode
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{nodes: make(map[string]*LocalNode)}
}

// Join attaches a node to the bus under the given peer id and compute score.
func (b *LocalBus) Join(peerID string, computeScore float64) *LocalNode {
	n := &LocalNode{bus: b, selfID: peerID, score: computeScore}
	b.mu.Lock()
	b.nodes[peerID] = n
	b.mu.Unlock()
	return n
}

// Leave detaches a node; in-flight deliveries to it are dropped.
func (b *LocalBus) Leave(peerID string) {
	b.mu.Lock()
	delete(b.nodes, peerID)
	b.mu.Unlock()
}

func (b *LocalBus) node(peerID string) *LocalNode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodes[peerID]
}

// LocalNode is one participant on a LocalBus.
type LocalNode struct {
	bus    *LocalBus
	selfID string
	score  float64

	mu         sync.RWMutex
	onRequest  RequestHandler
	onResponse ResponseHandler
}

// SelfID returns the node's peer id.
func (n *LocalNode) SelfID() string { return n.selfID }

// Peers lists the other nodes on the bus.
func (n *LocalNode) Peers() []types.PeerInfo {
	n.bus.mu.RLock()
	defer n.bus.mu.RUnlock()
	peers := make([]types.PeerInfo, 0, len(n.bus.nodes)-1)
	for id, node := range n.bus.nodes {
		if id == n.selfID {
			continue
		}
		peers = append(peers, types.PeerInfo{PeerID: id, ComputeScore: node.score})
	}
	return peers
}

// Send delivers a compute request to a peer's request handler.
func (n *LocalNode) Send(ctx context.Context, peerID string, req *types.ComputeRequest) error {
	target := n.bus.node(peerID)
	if target == nil {
		return types.ErrTransportFailed.Wrapf("peer %s not on bus", peerID)
	}
	target.mu.RLock()
	h := target.onRequest
	target.mu.RUnlock()
	if h == nil {
		return types.ErrTransportFailed.Wrapf("peer %s accepts no requests", peerID)
	}
	go h(ctx, n.selfID, req)
	return nil
}

// SendResponse delivers a compute response to a peer's response handler.
func (n *LocalNode) SendResponse(_ context.Context, peerID string, resp *types.ComputeResponse) error {
	target := n.bus.node(peerID)
	if target == nil {
		return types.ErrTransportFailed.Wrapf("peer %s not on bus", peerID)
	}
	target.mu.RLock()
	h := target.onResponse
	target.mu.RUnlock()
	if h == nil {
		return types.ErrTransportFailed.Wrapf("peer %s accepts no responses", peerID)
	}
	go h(resp)
	return nil
}

// OnRequest installs the inbound request handler.
func (n *LocalNode) OnRequest(h RequestHandler) {
	n.mu.Lock()
	n.onRequest = h
	n.mu.Unlock()
}

// OnResponse installs the inbound response handler.
func (n *LocalNode) OnResponse(h ResponseHandler) {
	n.mu.Lock()
	n.onResponse = h
	n.mu.Unlock()
}

var _ Transport = (*LocalNode)(nil)
