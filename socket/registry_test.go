package socket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/litesync/pkg/serial"
	"github.com/c360/litesync/socket"
	tu "github.com/c360/litesync/testutil"
)

func TestRegistry_Lifecycle(t *testing.T) {
	factory := &tu.ScriptedFactory{}
	registry := socket.NewRegistry(factory)
	engine := tu.NewRecordingEngine()

	h := registry.NextHandle()
	registry.Open(h, engine, "ws", "localhost", 4984, "/db", nil)
	require.Equal(t, 1, registry.Len())

	b, ok := registry.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, h, b.Handle())

	tr := factory.Last()
	tr.Listener.OnRemoteOpened(socket.ResponseMetadata{StatusCode: 101})
	registry.Write(h, []byte("x"))
	registry.AcknowledgeReceive(h, 1)
	registry.RequestClose(h, socket.CloseStatus{Code: socket.CloseNormal})
	assert.Len(t, tr.Sent(), 1)
	assert.Len(t, tr.Closes(), 1)

	tr.Listener.OnRemoteClosed(socket.CloseNormal, "")
	b.Flush()

	assert.Equal(t, 0, registry.Len(), "closed bridges are unbound")
	_, ok = registry.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, 1, engine.Count(tu.EventClosed))
}

func TestRegistry_UnknownHandleDropped(t *testing.T) {
	factory := &tu.ScriptedFactory{}
	registry := socket.NewRegistry(factory)

	assert.NotPanics(t, func() {
		registry.Write(99, []byte("x"))
		registry.AcknowledgeReceive(99, 1)
		registry.RequestClose(99, socket.Success)
		registry.Close(99)
	})
	assert.Zero(t, factory.Len())
	assert.Zero(t, registry.Len())
}

func TestRegistry_HandlesAreUnique(t *testing.T) {
	registry := socket.NewRegistry(&tu.ScriptedFactory{})
	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		h := registry.NextHandle()
		assert.False(t, seen[h])
		seen[h] = true
	}
}

func TestRegistry_ReopenSameHandleReusesBridge(t *testing.T) {
	factory := &tu.ScriptedFactory{}
	registry := socket.NewRegistry(factory)
	engine := tu.NewRecordingEngine()

	registry.Open(5, engine, "ws", "localhost", 0, "/db", nil)
	registry.Open(5, engine, "ws", "localhost", 0, "/db", nil)

	assert.Equal(t, 1, factory.Len())
	assert.Len(t, factory.Last().Opens(), 1)
}

func TestRegistry_CustomExecutor(t *testing.T) {
	var ran int
	inline := serial.ExecutorFunc(func(task func()) {
		ran++
		task()
	})
	factory := &tu.ScriptedFactory{}
	registry := socket.NewRegistry(factory, socket.WithRegistryExecutor(inline))
	engine := tu.NewRecordingEngine()

	registry.Open(1, engine, "ws", "localhost", 0, "/db", nil)
	registry.Close(1)

	assert.Equal(t, 1, engine.Count(tu.EventClosed))
	assert.Positive(t, ran)
	assert.Zero(t, registry.Len())
}

func TestLeakDetector_ReportsOnce(t *testing.T) {
	factory := &tu.ScriptedFactory{}
	registry := socket.NewRegistry(factory)
	registry.Open(1, tu.NewRecordingEngine(), "ws", "localhost", 0, "/db", nil)
	registry.Open(2, tu.NewRecordingEngine(), "ws", "localhost", 0, "/db", nil)

	detector := socket.NewLeakDetector(registry, 0, time.Hour, nil)

	leaks := detector.Sweep()
	require.Len(t, leaks, 2)
	for _, l := range leaks {
		assert.Equal(t, socket.StateOpening, l.State)
	}
	assert.Empty(t, detector.Sweep(), "each bridge is reported once")
}

func TestLeakDetector_IgnoresYoungBridges(t *testing.T) {
	registry := socket.NewRegistry(&tu.ScriptedFactory{})
	registry.Open(1, tu.NewRecordingEngine(), "ws", "localhost", 0, "/db", nil)

	detector := socket.NewLeakDetector(registry, time.Hour, time.Hour, nil)
	assert.Empty(t, detector.Sweep())
}
