package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/bus"
	"github.com/meetfocus/focus/internal/worker"
)

func TestBridgeHandler_UpsertsFromPresenceFields(t *testing.T) {
	registry := bridge.NewRegistry(time.Minute)
	addrs := NewAddressBook()
	handler := BridgeHandler(registry, addrs)

	handler(bus.PresenceUpdate{
		ID: "bridge-1",
		Fields: map[string]string{
			"region": "us-east",
			"stress": "0.4",
			"addr":   "10.0.0.1:8080",
			"drain":  "true",
		},
	})

	b, ok := registry.Get("bridge-1")
	require.True(t, ok)
	assert.Equal(t, "us-east", b.Region)
	assert.Equal(t, 0.4, b.Stress)
	assert.True(t, b.Drain)

	addr, ok := addrs.Resolve("bridge-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:8080", addr)
}

func TestBridgeHandler_MissingFieldsPreservePriorValues(t *testing.T) {
	registry := bridge.NewRegistry(time.Minute)
	addrs := NewAddressBook()
	handler := BridgeHandler(registry, addrs)

	handler(bus.PresenceUpdate{ID: "bridge-1", Fields: map[string]string{"region": "us-east", "stress": "0.1"}})
	handler(bus.PresenceUpdate{ID: "bridge-1", Fields: map[string]string{"stress": "0.9"}})

	b, ok := registry.Get("bridge-1")
	require.True(t, ok)
	assert.Equal(t, "us-east", b.Region, "region was absent from the second update and must be preserved")
	assert.Equal(t, 0.9, b.Stress)
}

func TestBridgeHandler_LeftRemovesBridge(t *testing.T) {
	registry := bridge.NewRegistry(time.Minute)
	addrs := NewAddressBook()
	handler := BridgeHandler(registry, addrs)

	handler(bus.PresenceUpdate{ID: "bridge-1", Fields: map[string]string{"addr": "10.0.0.1:8080"}})
	handler(bus.PresenceUpdate{ID: "bridge-1", Fields: map[string]string{"left": "true", "graceful": "true"}})

	_, ok := registry.Get("bridge-1")
	assert.False(t, ok)
	_, ok = addrs.Resolve("bridge-1")
	assert.False(t, ok)
}

func TestWorkerHandler_UpsertsFromPresenceFields(t *testing.T) {
	pool := worker.NewPool(nil)
	addrs := NewAddressBook()
	handler := WorkerHandler(pool, addrs)

	handler(bus.PresenceUpdate{
		ID: "worker-1",
		Fields: map[string]string{
			"region":       "eu-west",
			"supportsSip":  "true",
			"participants": "3",
			"addr":         "10.0.0.2:9090",
		},
	})

	w, ok := pool.Get("worker-1")
	require.True(t, ok)
	assert.Equal(t, "eu-west", w.Region)
	assert.True(t, w.SupportsSip)
	assert.Equal(t, 3, w.ParticipantCount)

	addr, ok := addrs.Resolve("worker-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:9090", addr)
}

func TestWorkerHandler_LeftRemovesWorker(t *testing.T) {
	pool := worker.NewPool(nil)
	addrs := NewAddressBook()
	handler := WorkerHandler(pool, addrs)

	handler(bus.PresenceUpdate{ID: "worker-1", Fields: map[string]string{"addr": "10.0.0.2:9090"}})
	handler(bus.PresenceUpdate{ID: "worker-1", Fields: map[string]string{"left": "true"}})

	_, ok := pool.Get("worker-1")
	assert.False(t, ok)
}

func TestAddressBook_EmptyAddrIsIgnored(t *testing.T) {
	addrs := NewAddressBook()
	addrs.set("x", "")
	_, ok := addrs.Resolve("x")
	assert.False(t, ok)
}
