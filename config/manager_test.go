package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/errors"
)

func receive(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return Update{}
	}
}

func assertNoUpdate(t *testing.T, ch <-chan Update) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected update for %s", u.Path)
	default:
	}
}

func TestManager_PatternMatching(t *testing.T) {
	cm, err := NewManager(validConfig("speed"), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		key      string
		pattern  string
		expected bool
	}{
		{"exact match", "network", "network", true},
		{"everything", "log", "*", true},
		{"wildcard suffix all ports", "ports.speed", "ports.*", true},
		{"prefix wildcard", "ports.arm_speed", "ports.arm_*", true},
		{"prefix wildcard no match", "ports.leg_speed", "ports.arm_*", false},
		{"no match different section", "network", "ports.*", false},
		{"no match wrong exact", "network", "nats", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cm.matchesPattern(tt.key, tt.pattern))
		})
	}
}

func TestManager_ApplyNotifiesChangedSections(t *testing.T) {
	cm, err := NewManager(validConfig("speed"), nil, nil)
	require.NoError(t, err)
	defer cm.Stop()

	network := cm.OnChange("network")
	ports := cm.OnChange("ports.*")
	logs := cm.OnChange("log")

	// initial state is delivered on subscribe
	assert.Equal(t, "network", receive(t, network).Path)
	assert.Equal(t, "ports.*", receive(t, ports).Path)
	receive(t, logs)

	next := validConfig("speed")
	next.Network.PullTimeout = 100 * time.Millisecond
	next.Ports = append(next.Ports, PortConfig{Name: "torque", Type: "float64", Mode: "import"})
	require.NoError(t, cm.Apply(next))

	u := receive(t, network)
	assert.Equal(t, "network", u.Path)
	assert.Equal(t, 100*time.Millisecond, u.Config.Get().Network.PullTimeout)
	assert.Equal(t, "ports.torque", receive(t, ports).Path)
	assertNoUpdate(t, logs)

	// Applying the same config again changes nothing.
	require.NoError(t, cm.Apply(next.Clone()))
	assertNoUpdate(t, network)
	assertNoUpdate(t, ports)
}

func TestManager_ApplyRejectsInvalidAndOlder(t *testing.T) {
	cfg := validConfig("speed")
	cfg.Version = "1.2.0"
	cm, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)

	bad := validConfig("speed")
	bad.Network.Transport = "fax"
	err = cm.Apply(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	older := validConfig("speed")
	older.Version = "1.1.9"
	err = cm.Apply(older)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older")
	assert.Equal(t, "1.2.0", cm.GetConfig().Get().Version)

	newer := validConfig("speed")
	newer.Version = "1.3.0"
	require.NoError(t, cm.Apply(newer))
	assert.Equal(t, "1.3.0", cm.GetConfig().Get().Version)

	assert.Error(t, cm.Apply(nil))
}

func TestManager_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}

	write("version: 1.0.0\nnetwork:\n  transport: loopback\nlog:\n  level: info\n")
	loader := NewLoader()
	loader.AddLayer(path)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	cm, err := NewManager(cfg, loader, nil)
	require.NoError(t, err)
	defer cm.Stop()

	logs := cm.OnChange("log")
	receive(t, logs)

	write("version: 1.0.1\nnetwork:\n  transport: loopback\nlog:\n  level: debug\n")
	require.NoError(t, cm.Reload())
	u := receive(t, logs)
	assert.Equal(t, "debug", u.Config.Get().Log.Level)

	write("version: 1.0.2\nnetwork:\n  transport: telepathy\n")
	require.Error(t, cm.Reload())
	assert.Equal(t, "debug", cm.GetConfig().Get().Log.Level, "failed reload keeps the running config")

	noLoader, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, noLoader.Reload(), errors.ErrMissingConfig)
}

func TestManager_Stop(t *testing.T) {
	_, err := NewManager(nil, nil, nil)
	require.Error(t, err)

	cm, err := NewManager(validConfig("speed"), nil, nil)
	require.NoError(t, err)

	ch := cm.OnChange("*")
	receive(t, ch)

	cm.Stop()
	cm.Stop()

	_, ok := <-ch
	assert.False(t, ok, "subscriber channels are closed")

	late := cm.OnChange("*")
	_, ok = <-late
	assert.False(t, ok)

	err = cm.Apply(validConfig("speed"))
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestChangedPaths(t *testing.T) {
	old := validConfig("speed")
	old.Ports = append(old.Ports, PortConfig{Name: "gone", Type: "int"})

	next := validConfig("speed")
	next.Ports[0].Mode = "import"
	next.Metrics.Port = 9191
	next.Ports = append(next.Ports, PortConfig{Name: "added", Type: "int"})

	assert.Equal(t, []string{"metrics", "ports.added", "ports.gone", "ports.speed"}, changedPaths(old, next))
	assert.Empty(t, changedPaths(old, old.Clone()))
}
