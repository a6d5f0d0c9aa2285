package provider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abyssgrid/gridmarket/internal/proof"
	"github.com/abyssgrid/gridmarket/internal/receipt"
	"github.com/abyssgrid/gridmarket/internal/registry"
	"github.com/abyssgrid/gridmarket/internal/rewards"
	"github.com/abyssgrid/gridmarket/internal/sandbox"
	"github.com/abyssgrid/gridmarket/internal/scheduler"
	"github.com/abyssgrid/gridmarket/internal/store"
	"github.com/abyssgrid/gridmarket/internal/transport"
	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

type marketNode struct {
	store     store.Store
	registry  *registry.Registry
	rewards   *rewards.Aggregator
	worker    *Worker
	scheduler *scheduler.Scheduler
}

// newMarketNode assembles a full node (requester and provider roles) on the bus.
func newMarketNode(t *testing.T, bus *transport.LocalBus, peerID string, score float64) *marketNode {
	t.Helper()
	log := logger.NewLoggerWithLevel("provider-test", "error")
	params := types.DefaultParams()
	params.DispatchTimeout = 2 * time.Second

	node := bus.Join(peerID, score)
	st := store.NewMemoryStore()
	reg := registry.New(st, params, log)
	backend := proof.NewMockBackend()
	agg := rewards.NewAggregator(st, reg, backend, rewards.NewMeter(), params, log)

	runner := sandbox.NewLocalRunner(peerID)
	runner.Register("double", []byte("double-v1"), func(_ context.Context, input json.RawMessage) (json.RawMessage, []string, error) {
		var in struct {
			X int `json:"x"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, nil, err
		}
		out, _ := json.Marshal(map[string]int{"result": in.X * 2})
		return out, []string{"ok"}, nil
	})

	worker := NewWorker(node, runner, receipt.NewGenerator(), backend, agg, reg, log)
	sched := scheduler.New(node, params, log)
	node.OnResponse(sched.HandleResponse)

	return &marketNode{store: st, registry: reg, rewards: agg, worker: worker, scheduler: sched}
}

func TestDispatchExecutesOnPeer(t *testing.T) {
	bus := transport.NewLocalBus()
	requester := newMarketNode(t, bus, "peer-requester", 1)
	newMarketNode(t, bus, "peer-worker", 99)

	res, err := requester.scheduler.RequestCompute(context.Background(), &types.Job{
		JobID:      "job-1",
		ProgramRef: "double",
		Input:      json.RawMessage(`{"x": 21}`),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.JSONEq(t, `{"result": 42}`, string(res.Output))
	assert.Equal(t, "peer-worker", res.PeerID)
	assert.Nil(t, res.Receipt)
}

func TestDispatchWithReceiptAndProof(t *testing.T) {
	bus := transport.NewLocalBus()
	requester := newMarketNode(t, bus, "peer-requester", 1)
	workerNode := newMarketNode(t, bus, "peer-worker", 99)

	res, err := requester.scheduler.RequestCompute(context.Background(), &types.Job{
		JobID:      "job-1",
		ProgramRef: "double",
		Input:      json.RawMessage(`{"x": 21}`),
		Options:    &types.JobOptions{RequireReceipt: true},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Receipt)

	assert.Equal(t, "job-1", res.Receipt.JobID)
	assert.Equal(t, "peer-worker", res.Receipt.PeerID)
	assert.True(t, res.Receipt.ZkBacked())
	assert.True(t, receipt.Verify(res.Receipt, json.RawMessage(`{"x": 21}`), res.Output))

	// The worker stored its receipt and earned a verified-proof credit.
	stored, err := workerNode.store.GetReceipt(context.Background(), res.Receipt.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, res.Receipt.OutputHash, stored.OutputHash)
	assert.True(t, stored.ZkVerified)

	p, err := workerNode.registry.Get(context.Background(), "peer-worker")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.ZkVerifiedCount)
	assert.Equal(t, uint64(1), p.TotalJobs)
	assert.Equal(t, uint64(1), p.SuccessfulJobs)
}

func TestDispatchFailedExecutionUpdatesStats(t *testing.T) {
	bus := transport.NewLocalBus()
	requester := newMarketNode(t, bus, "peer-requester", 1)
	workerNode := newMarketNode(t, bus, "peer-worker", 99)

	res, err := requester.scheduler.RequestCompute(context.Background(), &types.Job{
		JobID:      "job-1",
		ProgramRef: "double",
		Input:      json.RawMessage(`not json`),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	p, err := workerNode.registry.Get(context.Background(), "peer-worker")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.TotalJobs)
	assert.Equal(t, uint64(0), p.SuccessfulJobs)
	assert.True(t, p.SuccessRate.IsZero())
}

func TestDispatchUnknownProgramReturnsFailure(t *testing.T) {
	bus := transport.NewLocalBus()
	requester := newMarketNode(t, bus, "peer-requester", 1)
	newMarketNode(t, bus, "peer-worker", 99)

	res, err := requester.scheduler.RequestCompute(context.Background(), &types.Job{
		JobID:      "job-1",
		ProgramRef: "nonexistent",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown program")
}
