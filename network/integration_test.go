package network

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/natsclient"
	"github.com/c360/dataports/pool"
	"github.com/c360/dataports/port"
)

// Package-level shared test client to avoid Docker resource exhaustion
var sharedTestClient *natsclient.TestClient

func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") != "" {
		tc, err := natsclient.NewSharedTestClient(natsclient.WithIntegrationDefaults())
		if err != nil {
			panic("Failed to create shared test client: " + err.Error())
		}
		sharedTestClient = tc
	}

	exitCode := m.Run()

	if sharedTestClient != nil {
		_ = sharedTestClient.Terminate()
	}
	os.Exit(exitCode)
}

// newNATSTransport returns a transport on its own connection to the shared server
func newNATSTransport(t *testing.T) *NATSTransport {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	if sharedTestClient == nil {
		t.Fatal("Shared NATS client not initialized - TestMain should have created it")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := sharedTestClient.NewConnectedClient(ctx)
	require.NoError(t, err)

	tr := NewNATSTransport(client)
	t.Cleanup(func() {
		_ = tr.Close(context.Background())
		_ = client.Close(context.Background())
	})
	return tr
}

func TestIntegration_AdapterOverNATS(t *testing.T) {
	exportSide := newNATSTransport(t)
	importSide := newNATSTransport(t)
	ctx := context.Background()

	// Two runtimes stand in for two processes.
	rtA := port.NewRuntime()
	rtB := port.NewRuntime()
	th := rtA.NewThread("publisher")
	t.Cleanup(func() {
		rtA.Close()
		rtB.Close()
		th.Close()
	})

	src, err := port.New(rtA, "arm.speed", pool.Float64, port.AsOutput())
	require.NoError(t, err)
	src.Init()
	dst, err := port.New(rtB, "arm.speed", pool.Float64, port.WithDefault(-1.0))
	require.NoError(t, err)
	dst.Init()

	prefix := WithSubjectPrefix(fmt.Sprintf("it%d", time.Now().UnixNano()))

	exp, err := NewAdapter(src, exportSide, prefix)
	require.NoError(t, err)
	require.NoError(t, exp.Start(ctx))
	defer exp.Stop(ctx)

	imp, err := NewAdapter(dst, importSide, prefix, WithMode(Import), WithPullTimeout(500*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, imp.Start(ctx))
	defer imp.Stop(ctx)

	require.Eventually(t, func() bool { return dst.Get() == 0 }, 5*time.Second, 10*time.Millisecond,
		"initial sync replaces the local default")

	src.PublishValue(th, 1.5)
	require.Eventually(t, func() bool { return dst.Get() == 1.5 }, 5*time.Second, 10*time.Millisecond)

	thB := rtB.NewThread("reader")
	defer thB.Close()
	b := dst.Pull(ctx, thB, false)
	require.NotNil(t, b)
	assert.Equal(t, 1.5, b.Value)
	b.Release()
	assert.Equal(t, int64(1), imp.Stats().PullsForwarded)

	// Without an exporter the pull answers locally.
	require.NoError(t, exp.Stop(ctx))
	start := time.Now()
	b = dst.Pull(ctx, thB, false)
	require.NotNil(t, b)
	assert.Equal(t, 1.5, b.Value)
	b.Release()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), imp.Stats().PullFallbacks)
}
