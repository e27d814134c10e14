package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/internal/profile"
	teststore "github.com/hrygo/concierge/store/test"
)

func TestServerStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &profile.Profile{
		Mode:      "dev",
		Addr:      "127.0.0.1",
		Port:      0,
		Version:   "test",
		JWTSecret: "test-secret",
	}
	require.NoError(t, p.Validate())

	s, err := NewServer(ctx, p, teststore.NewTestingStore(ctx, t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		return s.echoServer.ListenerAddr() != nil
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.echoServer.ListenerAddr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
