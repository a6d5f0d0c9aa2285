// Package transport moves compute requests and responses between peers. The
// in-process bus serves tests and single-node runs; the websocket transport
// connects real peers.
package transport

import (
	"context"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// RequestHandler processes an inbound compute request from a peer.
type RequestHandler func(ctx context.Context, from string, req *types.ComputeRequest)

// ResponseHandler processes an inbound compute response.
type ResponseHandler func(resp *types.ComputeResponse)

// Transport is the full peer messaging surface: the scheduler's dispatch
// needs plus response delivery for the provider side.
type Transport interface {
	SelfID() string
	Peers() []types.PeerInfo
	Send(ctx context.Context, peerID string, req *types.ComputeRequest) error
	SendResponse(ctx context.Context, peerID string, resp *types.ComputeResponse) error
	OnRequest(h RequestHandler)
	OnResponse(h ResponseHandler)
}
