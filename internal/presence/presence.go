// Package presence adapts the Redis-backed presence channel
// (internal/bus.PresenceUpdate) into the bridge.Stats and worker.Worker
// shapes the registry and pool consume, and keeps the address-resolution
// tables bridge.Client/worker.Client need to actually dial a bridge or
// worker (spec.md §6: "workers announce themselves in a 'brewery' room and
// publish key/value status... the core interprets missing keys as
// defaults").
package presence

import (
	"strconv"
	"sync"

	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/bus"
	"github.com/meetfocus/focus/internal/worker"
)

// AddressBook tracks the dialable address each announced bridge/worker ID
// last advertised under its "addr" field, so internal/colibri.BridgeAddr and
// internal/worker.WorkerAddr have somewhere to resolve from (spec.md §6
// leaves address discovery to the deployment; this is that deployment's
// minimal answer: the presence announcement carries its own address).
type AddressBook struct {
	mu   sync.RWMutex
	addr map[string]string
}

// NewAddressBook builds an empty AddressBook.
func NewAddressBook() *AddressBook {
	return &AddressBook{addr: make(map[string]string)}
}

// Resolve looks up id's last-announced address.
func (a *AddressBook) Resolve(id string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	addr, ok := a.addr[id]
	return addr, ok
}

func (a *AddressBook) set(id, addr string) {
	if addr == "" {
		return
	}
	a.mu.Lock()
	a.addr[id] = addr
	a.mu.Unlock()
}

func (a *AddressBook) remove(id string) {
	a.mu.Lock()
	delete(a.addr, id)
	a.mu.Unlock()
}

// BridgeHandler returns the bus.Service.SubscribePresence callback that
// folds "bridge" presence updates into registry and addrs. A "left" field
// present and true removes the bridge instead of upserting it.
func BridgeHandler(registry *bridge.Registry, addrs *AddressBook) func(bus.PresenceUpdate) {
	return func(update bus.PresenceUpdate) {
		if boolField(update.Fields, "left", false) {
			registry.RemoveBridge(update.ID, boolField(update.Fields, "graceful", true))
			addrs.remove(update.ID)
			return
		}
		addrs.set(update.ID, update.Fields["addr"])
		registry.OnBridgeStats(update.ID, bridgeStats(update.Fields))
	}
}

// WorkerHandler returns the bus.Service.SubscribePresence callback that
// folds "worker" presence updates into pool and addrs.
func WorkerHandler(pool *worker.Pool, addrs *AddressBook) func(bus.PresenceUpdate) {
	return func(update bus.PresenceUpdate) {
		if boolField(update.Fields, "left", false) {
			pool.Remove(update.ID)
			addrs.remove(update.ID)
			return
		}
		addrs.set(update.ID, update.Fields["addr"])
		pool.Upsert(&worker.Worker{
			ID:                    update.ID,
			Region:                update.Fields["region"],
			SupportsSip:           boolField(update.Fields, "supportsSip", false),
			SupportsTranscription: boolField(update.Fields, "supportsTranscription", false),
			IsInGracefulShutdown:  boolField(update.Fields, "isInGracefulShutdown", false),
			ParticipantCount:      intField(update.Fields, "participants", 0),
		})
	}
}

func bridgeStats(fields map[string]string) bridge.Stats {
	var stats bridge.Stats
	if v, ok := fields["region"]; ok {
		stats.Region = &v
	}
	if v, ok := fields["stress"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			stats.Stress = &f
		}
	}
	if v, ok := fields["version"]; ok {
		stats.Version = &v
	}
	if v, ok := fields["relayId"]; ok {
		stats.RelayID = &v
	}
	if _, ok := fields["isInGracefulShutdown"]; ok {
		b := boolField(fields, "isInGracefulShutdown", false)
		stats.IsInGracefulShutdown = &b
	}
	if _, ok := fields["drain"]; ok {
		b := boolField(fields, "drain", false)
		stats.Drain = &b
	}
	if _, ok := fields["supportsColibri2"]; ok {
		b := boolField(fields, "supportsColibri2", false)
		stats.SupportsColibri2 = &b
	}
	return stats
}

func boolField(fields map[string]string, key string, def bool) bool {
	v, ok := fields[key]
	if !ok {
		return def
	}
	return v == "true"
}

func intField(fields map[string]string, key string, def int) int {
	v, ok := fields[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
