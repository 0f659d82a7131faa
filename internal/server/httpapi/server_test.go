package httpapi

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesUntilCancelled(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(lis.Addr().String(), newTestRouter(Options{}), logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServer_RunBadAddress(t *testing.T) {
	s := NewServer("256.0.0.1:-1", newTestRouter(Options{}), logging.Nop())

	err := s.Run(context.Background())

	assert.Error(t, err)
}
