package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServerDisabledWhenPortZero(t *testing.T) {
	s := NewServer(0, "/metrics")
	assert.Nil(t, s)
	assert.NoError(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServerServesAndStopsCleanly(t *testing.T) {
	port := freePort(t)
	s := NewServer(port, "/metrics")
	require.NotNil(t, s)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))

	// A graceful stop is not a startup failure.
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not return after shutdown")
	}
}
