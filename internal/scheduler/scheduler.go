// Package scheduler dispatches jobs to peers and correlates their responses.
// Every pending request resolves exactly once: with a result, a timeout, or a
// cancellation. Late responses for already-resolved requests are dropped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmarket_dispatch_total",
		Help: "Compute dispatches by outcome",
	}, []string{"outcome"})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmarket_dispatch_pending",
		Help: "Requests awaiting a peer response",
	})
)

// Transport delivers compute requests to peers and reports who is reachable.
type Transport interface {
	SelfID() string
	Peers() []types.PeerInfo
	Send(ctx context.Context, peerID string, req *types.ComputeRequest) error
}

type pendingRequest struct {
	peerID string
	ch     chan *types.ExecutionResult
}

// Scheduler matches jobs to peers and owns the pending-request table.
type Scheduler struct {
	transport Transport
	params    types.Params
	log       *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a scheduler over the given transport.
func New(transport Transport, params types.Params, log *logger.Logger) *Scheduler {
	return &Scheduler{
		transport: transport,
		params:    params,
		log:       log,
		pending:   make(map[string]*pendingRequest),
	}
}

// selectPeer picks the dispatch target. An explicit target must be currently
// reachable; otherwise the highest compute score wins.
func (s *Scheduler) selectPeer(opts *types.JobOptions) (string, error) {
	peers := s.transport.Peers()

	if opts != nil && opts.TargetPeerID != "" {
		for _, p := range peers {
			if p.PeerID == opts.TargetPeerID {
				return p.PeerID, nil
			}
		}
		return "", types.ErrNoPeerAvailable.Wrapf("target peer %s not reachable", opts.TargetPeerID)
	}

	if len(peers) == 0 {
		return "", types.ErrNoPeerAvailable.Wrap("no peers connected")
	}
	best := peers[0]
	for _, p := range peers[1:] {
		if p.ComputeScore > best.ComputeScore {
			best = p
		}
	}
	return best.PeerID, nil
}

// take removes and returns the pending entry for requestID, or nil if it was
// already resolved. Whoever gets the entry owns resolution.
func (s *Scheduler) take(requestID string) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[requestID]
	if !ok {
		return nil
	}
	delete(s.pending, requestID)
	pendingGauge.Dec()
	return p
}

// RequestCompute dispatches a job and blocks until the peer responds, the
// dispatch timeout elapses, or ctx is canceled.
func (s *Scheduler) RequestCompute(ctx context.Context, job *types.Job) (*types.ExecutionResult, error) {
	peerID, err := s.selectPeer(job.Options)
	if err != nil {
		dispatchTotal.WithLabelValues("no_peer").Inc()
		return nil, err
	}

	requestID := uuid.NewString()
	entry := &pendingRequest{peerID: peerID, ch: make(chan *types.ExecutionResult, 1)}

	s.mu.Lock()
	s.pending[requestID] = entry
	s.mu.Unlock()
	pendingGauge.Inc()

	s.log.Debug("dispatching job", "requestId", requestID, "jobId", job.JobID, "peer", peerID)

	req := &types.ComputeRequest{RequestID: requestID, RequesterID: s.transport.SelfID(), Job: job}
	if err := s.transport.Send(ctx, peerID, req); err != nil {
		if s.take(requestID) != nil {
			dispatchTotal.WithLabelValues("send_failed").Inc()
		}
		return nil, types.ErrTransportFailed.Wrapf("send to %s: %v", peerID, err)
	}

	timeout := s.params.DispatchTimeout
	if job.Options != nil && job.Options.Timeout > 0 {
		timeout = job.Options.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-entry.ch:
		dispatchTotal.WithLabelValues("completed").Inc()
		return result, nil
	case <-timer.C:
		if s.take(requestID) == nil {
			// Response won the race; it is already in the channel.
			return <-entry.ch, nil
		}
		dispatchTotal.WithLabelValues("timeout").Inc()
		s.log.Warn("compute request timed out", "requestId", requestID, "peer", peerID)
		return nil, types.ErrComputeTimeout.Wrapf("peer %s did not respond within %s", peerID, timeout)
	case <-ctx.Done():
		if s.take(requestID) == nil {
			return <-entry.ch, nil
		}
		dispatchTotal.WithLabelValues("canceled").Inc()
		return nil, types.ErrRequestCanceled.Wrap(ctx.Err().Error())
	}
}

// HandleResponse resolves the pending request the response correlates to.
// Unknown or already-resolved request ids are dropped.
func (s *Scheduler) HandleResponse(resp *types.ComputeResponse) {
	if resp == nil || resp.RequestID == "" {
		return
	}
	entry := s.take(resp.RequestID)
	if entry == nil {
		s.log.Debug("dropping response for unknown request", "requestId", resp.RequestID)
		return
	}
	entry.ch <- resp.Result
}

// PendingCount reports requests still awaiting resolution.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
