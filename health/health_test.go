package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/errors"
)

func TestConstructors(t *testing.T) {
	before := time.Now()

	h := NewHealthy("adapter", "ok")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.Equal(t, "adapter", h.Component)
	assert.False(t, h.Timestamp.Before(before))

	d := NewDegraded("adapter", "slow")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())

	u := NewUnhealthy("adapter", "down")
	assert.False(t, u.Healthy)
	assert.True(t, u.IsUnhealthy())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, agg.Status)
			assert.Len(t, agg.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_NamesWorstComponentsAndSumsTraffic(t *testing.T) {
	last := time.Now()
	subs := []Status{
		NewHealthy("export:speed", "").WithMetrics(&Metrics{MessagesSent: 10, Uptime: time.Minute}),
		NewDegraded("import:remote_speed", "pull timeout").WithMetrics(&Metrics{
			MessagesReceived: 7, PullFallbacks: 2, ErrorCount: 2, LastActivity: last,
		}),
		NewDegraded("nats", "reconnecting"),
	}

	agg := Aggregate("dataports", subs)
	assert.True(t, agg.IsDegraded())
	assert.Equal(t, "degraded: import:remote_speed, nats", agg.Message)
	require.NotNil(t, agg.Metrics)
	assert.Equal(t, int64(10), agg.Metrics.MessagesSent)
	assert.Equal(t, int64(7), agg.Metrics.MessagesReceived)
	assert.Equal(t, int64(2), agg.Metrics.PullFallbacks)
	assert.Equal(t, time.Minute, agg.Metrics.Uptime)
	assert.True(t, agg.Metrics.LastActivity.Equal(last))

	assert.Nil(t, Aggregate("dataports", subs[2:]).Metrics, "no adapters, no traffic")
	assert.Equal(t, "1 of 1 healthy", Aggregate("dataports", subs[:1]).Message)
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	agg := Aggregate("system", subs)
	subs[0].Message = "changed"
	assert.Empty(t, agg.SubStatuses[0].Message)
}

func TestWithSubStatus_SliceIsolation(t *testing.T) {
	base := NewHealthy("root", "").WithSubStatus(NewHealthy("a", ""))
	base.SubStatuses = base.SubStatuses[:1:2]

	left := base.WithSubStatus(NewHealthy("left", ""))
	right := base.WithSubStatus(NewHealthy("right", ""))

	assert.Equal(t, "left", left.SubStatuses[1].Component)
	assert.Equal(t, "right", right.SubStatuses[1].Component)
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("adapter", nil).IsHealthy())

	transient := errors.WrapTransient(errors.ErrPullTimeout, "Adapter", "Pull", "request nats://10.0.0.5:4222")
	s := FromError("adapter", transient)
	assert.True(t, s.IsDegraded())
	assert.Contains(t, s.Message, "[URL]")
	assert.NotContains(t, s.Message, "10.0.0.5")

	fatal := errors.WrapFatal(errors.ErrInvalidConfig, "Adapter", "Start", "encode initial value")
	assert.True(t, FromError("adapter", fatal).IsUnhealthy())
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"failed to open /etc/dataports/config.json", "failed to open [PATH]"},
		{"cannot read C:\\Users\\Admin\\config.json", "cannot read [PATH]"},
		{"request to https://api.example.com/v1/health failed", "request to [URL] failed"},
		{"cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"failed to bind to :8080", "failed to bind to [PORT]"},
		{"auth failed password=hunter2", "auth failed [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("nats", "connected")
	m.Update("renamed", NewDegraded("other", "slow"))

	s, ok := m.Get("renamed")
	require.True(t, ok)
	assert.Equal(t, "renamed", s.Component, "monitor name wins")

	agg := m.AggregateHealth("dataports")
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "nats", agg.SubStatuses[0].Component)

	m.Remove("renamed")
	assert.True(t, m.AggregateHealth("dataports").IsHealthy())
	assert.Equal(t, 1, m.Count())
}

func TestMonitor_Checkers(t *testing.T) {
	m := NewMonitor()
	var mu sync.Mutex
	healthy := true
	m.Register("adapter", CheckerFunc(func() Status {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return NewHealthy("adapter", "ok")
		}
		return NewUnhealthy("adapter", "stopped")
	}))

	assert.True(t, m.AggregateHealth("dataports").IsHealthy())

	mu.Lock()
	healthy = false
	mu.Unlock()
	assert.True(t, m.AggregateHealth("dataports").IsUnhealthy())

	m.Remove("adapter")
	m.Refresh()
	assert.Equal(t, 0, m.Count())
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("c%d", i)
			for j := 0; j < 50; j++ {
				m.UpdateHealthy(name, "ok")
				_ = m.AggregateHealth("dataports")
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, m.Count())
}
