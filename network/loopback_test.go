package network

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/errors"
)

func TestLoopback_PublishSubscribe(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	var got [][]byte
	sub, err := tr.Subscribe(ctx, "s", func(_ context.Context, data []byte) {
		got = append(got, data)
	})
	require.NoError(t, err)

	msg := []byte("one")
	require.NoError(t, tr.Publish(ctx, "s", msg))
	require.NoError(t, tr.Publish(ctx, "other", []byte("ignored")))
	msg[0] = 'X'

	require.Len(t, got, 1)
	assert.Equal(t, "one", string(got[0]), "subscriber gets its own copy")

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, tr.Publish(ctx, "s", []byte("two")))
	assert.Len(t, got, 1)
}

func TestLoopback_Request(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	_, err := tr.Request(ctx, "echo", []byte("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoResponders)
	assert.True(t, errors.IsTransient(err))

	sub, err := tr.Serve(ctx, "echo", func(_ context.Context, data []byte) ([]byte, error) {
		return append([]byte("re:"), data...), nil
	})
	require.NoError(t, err)

	_, err = tr.Serve(ctx, "echo", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	require.Error(t, err, "one server per subject")

	resp, err := tr.Request(ctx, "echo", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "re:hi", string(resp))

	require.NoError(t, sub.Unsubscribe())
	_, err = tr.Request(ctx, "echo", []byte("hi"))
	assert.ErrorIs(t, err, errors.ErrNoResponders)
}

func TestLoopback_RequestRemoteError(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	_, err := tr.Serve(ctx, "fail", func(context.Context, []byte) ([]byte, error) {
		return nil, fmt.Errorf("boom")
	})
	require.NoError(t, err)

	_, err = tr.Request(ctx, "fail", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRemotePull)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoopback_RequestHonorsContext(t *testing.T) {
	tr := NewLoopbackTransport()
	tr.SetLatency(300 * time.Millisecond)

	_, err := tr.Serve(context.Background(), "slow", func(context.Context, []byte) ([]byte, error) {
		return []byte("late"), nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = tr.Request(ctx, "slow", nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsTransient(err))
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestLoopback_Close(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	called := 0
	_, err := tr.Subscribe(ctx, "s", func(context.Context, []byte) { called++ })
	require.NoError(t, err)

	require.NoError(t, tr.Close(ctx))

	err = tr.Publish(ctx, "s", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, 0, called)

	_, err = tr.Subscribe(ctx, "s", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	_, err = tr.Serve(ctx, "s", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	_, err = tr.Request(ctx, "s", nil)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
}
