package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

type fakeTransport struct {
	mu      sync.Mutex
	peers   []types.PeerInfo
	sent    []*types.ComputeRequest
	sendErr error
	onSend  func(req *types.ComputeRequest)
}

func (f *fakeTransport) SelfID() string { return "peer-self" }

func (f *fakeTransport) Peers() []types.PeerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PeerInfo(nil), f.peers...)
}

func (f *fakeTransport) Send(_ context.Context, _ string, req *types.ComputeRequest) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	onSend := f.onSend
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(req)
	}
	return nil
}

func (f *fakeTransport) lastSent() *types.ComputeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func testParams() types.Params {
	p := types.DefaultParams()
	p.DispatchTimeout = 100 * time.Millisecond
	return p
}

func testJob() *types.Job {
	return &types.Job{JobID: "job-1", ProgramRef: "double", Input: json.RawMessage(`{"x":1}`)}
}

func newTestScheduler(tr Transport) *Scheduler {
	return New(tr, testParams(), logger.NewLoggerWithLevel("scheduler-test", "error"))
}

func TestRequestComputePicksHighestScore(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{
		{PeerID: "peer-a", ComputeScore: 10},
		{PeerID: "peer-b", ComputeScore: 50},
		{PeerID: "peer-c", ComputeScore: 30},
	}}
	s := newTestScheduler(tr)
	tr.onSend = func(req *types.ComputeRequest) {
		go s.HandleResponse(&types.ComputeResponse{
			RequestID: req.RequestID,
			Result:    &types.ExecutionResult{Success: true, PeerID: "peer-b"},
		})
	}

	res, err := s.RequestCompute(context.Background(), testJob())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "peer-b", res.PeerID)
	assert.Equal(t, 0, s.PendingCount())
}

func TestRequestComputeNoPeers(t *testing.T) {
	s := newTestScheduler(&fakeTransport{})

	_, err := s.RequestCompute(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, types.ErrNoPeerAvailable.Is(err))
}

func TestRequestComputeTargetPeer(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{
		{PeerID: "peer-a", ComputeScore: 90},
		{PeerID: "peer-b", ComputeScore: 10},
	}}
	s := newTestScheduler(tr)
	tr.onSend = func(req *types.ComputeRequest) {
		go s.HandleResponse(&types.ComputeResponse{
			RequestID: req.RequestID,
			Result:    &types.ExecutionResult{Success: true, PeerID: "peer-b"},
		})
	}

	job := testJob()
	job.Options = &types.JobOptions{TargetPeerID: "peer-b"}
	res, err := s.RequestCompute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "peer-b", res.PeerID)
}

func TestRequestComputeUnreachableTarget(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{{PeerID: "peer-a", ComputeScore: 1}}}
	s := newTestScheduler(tr)

	job := testJob()
	job.Options = &types.JobOptions{TargetPeerID: "peer-z"}
	_, err := s.RequestCompute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, types.ErrNoPeerAvailable.Is(err))
}

func TestRequestComputeTimeout(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{{PeerID: "peer-a", ComputeScore: 1}}}
	s := newTestScheduler(tr)

	_, err := s.RequestCompute(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, types.ErrComputeTimeout.Is(err))
	assert.Equal(t, 0, s.PendingCount())
}

func TestRequestComputeSendFailure(t *testing.T) {
	tr := &fakeTransport{
		peers:   []types.PeerInfo{{PeerID: "peer-a", ComputeScore: 1}},
		sendErr: errors.New("connection reset"),
	}
	s := newTestScheduler(tr)

	_, err := s.RequestCompute(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, types.ErrTransportFailed.Is(err))
	assert.Equal(t, 0, s.PendingCount())
}

func TestRequestComputeCancellation(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{{PeerID: "peer-a", ComputeScore: 1}}}
	s := newTestScheduler(tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := s.RequestCompute(ctx, testJob())
	require.Error(t, err)
	assert.True(t, types.ErrRequestCanceled.Is(err))
	assert.Equal(t, 0, s.PendingCount())
}

func TestHandleResponseUnknownRequestDropped(t *testing.T) {
	s := newTestScheduler(&fakeTransport{})

	assert.NotPanics(t, func() {
		s.HandleResponse(&types.ComputeResponse{RequestID: "never-issued"})
		s.HandleResponse(nil)
		s.HandleResponse(&types.ComputeResponse{})
	})
	assert.Equal(t, 0, s.PendingCount())
}

func TestLateResponseAfterTimeoutDropped(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{{PeerID: "peer-a", ComputeScore: 1}}}
	s := newTestScheduler(tr)

	_, err := s.RequestCompute(context.Background(), testJob())
	require.Error(t, err)

	req := tr.lastSent()
	require.NotNil(t, req)
	assert.NotPanics(t, func() {
		s.HandleResponse(&types.ComputeResponse{
			RequestID: req.RequestID,
			Result:    &types.ExecutionResult{Success: true},
		})
	})
}

func TestExactlyOnceUnderRacingResponses(t *testing.T) {
	tr := &fakeTransport{peers: []types.PeerInfo{{PeerID: "peer-a", ComputeScore: 1}}}
	s := newTestScheduler(tr)
	tr.onSend = func(req *types.ComputeRequest) {
		// Several responders race for the same request id.
		for i := 0; i < 8; i++ {
			go s.HandleResponse(&types.ComputeResponse{
				RequestID: req.RequestID,
				Result:    &types.ExecutionResult{Success: true, PeerID: "peer-a"},
			})
		}
	}

	res, err := s.RequestCompute(context.Background(), testJob())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, s.PendingCount())
}
