package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newWSPair(t *testing.T) (*WSTransport, *WSTransport) {
	t.Helper()
	log := logger.NewLoggerWithLevel("ws-test", "error")

	server := NewWSTransport("peer-server", 50, 100, log)
	client := NewWSTransport("peer-client", 10, 100, log)

	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	t.Cleanup(server.Close)
	t.Cleanup(client.Close)

	require.NoError(t, client.Connect(context.Background(), wsURL(srv)))
	require.Eventually(t, func() bool {
		return len(client.Peers()) == 1 && len(server.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond, "handshake did not complete")

	return server, client
}

func TestWSHandshakeExchangesIdentity(t *testing.T) {
	server, client := newWSPair(t)

	clientView := client.Peers()
	require.Len(t, clientView, 1)
	assert.Equal(t, "peer-server", clientView[0].PeerID)
	assert.Equal(t, float64(50), clientView[0].ComputeScore)

	serverView := server.Peers()
	require.Len(t, serverView, 1)
	assert.Equal(t, "peer-client", serverView[0].PeerID)
}

func TestWSRequestResponseRoundTrip(t *testing.T) {
	server, client := newWSPair(t)

	server.OnRequest(func(ctx context.Context, from string, req *types.ComputeRequest) {
		assert.Equal(t, "peer-client", from)
		err := server.SendResponse(ctx, from, &types.ComputeResponse{
			RequestID: req.RequestID,
			Result:    &types.ExecutionResult{Success: true, PeerID: "peer-server"},
		})
		assert.NoError(t, err)
	})

	gotResp := make(chan *types.ComputeResponse, 1)
	client.OnResponse(func(resp *types.ComputeResponse) { gotResp <- resp })

	err := client.Send(context.Background(), "peer-server", &types.ComputeRequest{
		RequestID: "req-1", RequesterID: "peer-client", Job: &types.Job{JobID: "job-1"},
	})
	require.NoError(t, err)

	select {
	case resp := <-gotResp:
		assert.Equal(t, "req-1", resp.RequestID)
		assert.True(t, resp.Result.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered")
	}
}

func TestWSSendToDisconnectedPeer(t *testing.T) {
	log := logger.NewLoggerWithLevel("ws-test", "error")
	tr := NewWSTransport("peer-lonely", 1, 100, log)
	t.Cleanup(tr.Close)

	err := tr.Send(context.Background(), "peer-ghost", &types.ComputeRequest{RequestID: "req-1"})
	require.Error(t, err)
	assert.True(t, types.ErrTransportFailed.Is(err))
}

func TestWSCloseDisconnectsPeers(t *testing.T) {
	server, client := newWSPair(t)

	client.Close()
	assert.Eventually(t, func() bool {
		return len(server.Peers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
