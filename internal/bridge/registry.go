package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/metrics"
)

// Registry tracks the live bridge set. Reads take a snapshot of a
// copy-on-write map so selection never blocks on a writer, matching
// spec.md §4.B's "insertions/removals are atomic" requirement.
type Registry struct {
	mu                    sync.Mutex
	bridges               map[string]*Bridge
	failureResetThreshold time.Duration
}

// NewRegistry builds an empty Registry.
func NewRegistry(failureResetThreshold time.Duration) *Registry {
	return &Registry{
		bridges:               make(map[string]*Bridge),
		failureResetThreshold: failureResetThreshold,
	}
}

// AddBridge registers a new bridge, or replaces an existing one with the
// same id (idempotent insert).
func (r *Registry) AddBridge(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cloneLocked()
	next[b.ID] = b
	r.bridges = next
}

// RemoveBridge removes a bridge. graceful distinguishes a clean departure
// (no metric) from a non-graceful loss (bumps BridgesLost, spec.md §4.B).
func (r *Registry) RemoveBridge(id string, graceful bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bridges[id]; !ok {
		return
	}
	next := r.cloneLocked()
	delete(next, id)
	r.bridges = next

	if !graceful {
		metrics.BridgesLost.Inc()
		logging.Warn(nil, "bridge removed non-gracefully", zap.String("bridge_id", id))
	}
	metrics.OperationalBridges.Set(float64(r.operationalCountLocked(next)))
}

// OnBridgeStats applies a heartbeat update to bridge id, creating it if
// unknown. Fields left nil in stats preserve the prior value (spec.md §4.B).
func (r *Registry) OnBridgeStats(id string, stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cloneLocked()

	b, ok := next[id]
	if !ok {
		b = &Bridge{ID: id}
	} else {
		cp := *b
		b = &cp
	}
	b.LastEventAt = time.Now()
	if stats.Region != nil {
		b.Region = *stats.Region
	}
	if stats.Stress != nil {
		b.Stress = *stats.Stress
	}
	if stats.Version != nil {
		b.Version = *stats.Version
	}
	if stats.IsInGracefulShutdown != nil {
		b.IsInGracefulShutdown = *stats.IsInGracefulShutdown
	}
	if stats.Drain != nil {
		b.Drain = *stats.Drain
	}
	if stats.RelayID != nil {
		b.RelayID = *stats.RelayID
	}
	if stats.SupportsColibri2 != nil {
		b.SupportsColibri2 = *stats.SupportsColibri2
	}
	next[id] = b
	r.bridges = next
}

// MarkFailed flags bridge id as faulty, starting its sticky-failure window.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[id]
	if !ok {
		return
	}
	next := r.cloneLocked()
	cp := *b
	cp.MarkFailed(time.Now())
	next[id] = &cp
	r.bridges = next
	metrics.OperationalBridges.Set(float64(r.operationalCountLocked(next)))
}

// Get returns bridge id, if known.
func (r *Registry) Get(id string) (*Bridge, bool) {
	r.mu.Lock()
	snapshot := r.bridges
	r.mu.Unlock()
	b, ok := snapshot[id]
	return b, ok
}

// Snapshot returns the current bridge set without locking callers out of
// concurrent mutation (copy-on-write: the map returned is never mutated in
// place).
func (r *Registry) Snapshot() map[string]*Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bridges
}

// OperationalCount returns how many bridges are currently operational,
// used by the readiness probe (internal/health).
func (r *Registry) OperationalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operationalCountLocked(r.bridges)
}

// TotalCount returns the number of known bridges.
func (r *Registry) TotalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

func (r *Registry) operationalCountLocked(snapshot map[string]*Bridge) int {
	now := time.Now()
	count := 0
	for _, b := range snapshot {
		if b.Operational(now, r.failureResetThreshold) {
			count++
		}
	}
	return count
}

func (r *Registry) cloneLocked() map[string]*Bridge {
	next := make(map[string]*Bridge, len(r.bridges)+1)
	for k, v := range r.bridges {
		next[k] = v
	}
	return next
}
