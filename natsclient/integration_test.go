package natsclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/errors"
)

// Package-level shared test client to avoid Docker resource exhaustion
var sharedTestClient *TestClient

func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") != "" {
		tc, err := NewSharedTestClient(WithIntegrationDefaults())
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

func getSharedTestClient(t *testing.T) *TestClient {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	if sharedTestClient == nil {
		t.Fatal("Shared NATS client not initialized - TestMain should have created it")
	}
	return sharedTestClient
}

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	tc := getSharedTestClient(t)

	assert.True(t, tc.IsReady())
	assert.Equal(t, StatusConnected, tc.Client.Status())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Greater(t, tc.Client.GetStatus().RTT, time.Duration(0))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := getSharedTestClient(t)
	ctx := context.Background()

	received := make(chan string, 1)
	sub, err := tc.Client.Subscribe(ctx, "it.pubsub", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	require.NoError(t, tc.Client.Publish(ctx, "it.pubsub", []byte("Hello NATS")))

	select {
	case msg := <-received:
		assert.Equal(t, "Hello NATS", msg)
	case <-time.After(time.Second):
		t.Fatal("Message not received")
	}
}

func TestIntegration_RequestReply(t *testing.T) {
	tc := getSharedTestClient(t)
	ctx := context.Background()

	server, err := tc.NewConnectedClient(ctx)
	require.NoError(t, err)
	defer server.Close(ctx)

	_, err = server.Reply(ctx, "it.echo", func(_ context.Context, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	})
	require.NoError(t, err)
	_, err = server.Reply(ctx, "it.fail", func(context.Context, []byte) ([]byte, error) {
		return nil, fmt.Errorf("value not available")
	})
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	resp, err := tc.Client.Request(reqCtx, "it.echo", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))

	_, err = tc.Client.Request(reqCtx, "it.fail", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRemotePull)
	assert.Contains(t, err.Error(), "value not available")

	_, err = tc.Client.Request(reqCtx, "it.nobody", nil)
	assert.ErrorIs(t, err, errors.ErrNoResponders)
	assert.True(t, errors.IsTransient(err))
}

func TestIntegration_CircuitBreakerWithRealConnection(t *testing.T) {
	getSharedTestClient(t)
	ctx := context.Background()

	client, err := NewClient("nats://invalid-host:4222", WithTimeout(200*time.Millisecond), WithHealthInterval(0))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Error(t, client.Connect(ctx))
		assert.NotEqual(t, StatusCircuitOpen, client.Status())
	}
	assert.ErrorIs(t, client.Connect(ctx), ErrCircuitOpen)
	assert.Equal(t, int32(5), client.Failures())

	start := time.Now()
	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
