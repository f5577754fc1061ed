package conference

import "github.com/meetfocus/focus/internal/sourcemodel"

// pendingDiff is the coalesced add/remove batch staged for one owner since
// the last flush (spec.md §4.G "source signaling (the diff engine)").
type pendingDiff struct {
	add    *sourcemodel.EndpointSourceSet
	remove *sourcemodel.EndpointSourceSet
}

// diffEngine coalesces per-owner source-add/source-remove batches so peers
// receive the minimal set of messages that reproduce the current source map
// (spec.md §8 invariant 8, scenario S3).
type diffEngine struct {
	pending map[string]*pendingDiff
}

func newDiffEngine() *diffEngine {
	return &diffEngine{pending: make(map[string]*pendingDiff)}
}

func (e *diffEngine) entry(owner string) *pendingDiff {
	b, ok := e.pending[owner]
	if !ok {
		b = &pendingDiff{}
		e.pending[owner] = b
	}
	return b
}

// QueueAdd stages an add for owner. Consecutive adds coalesce into a single
// union; an add queued after a pending remove is emitted separately rather
// than cancelling it (spec.md §4.G: "a new add after a remove is emitted
// separately").
func (e *diffEngine) QueueAdd(owner string, set *sourcemodel.EndpointSourceSet) {
	if set.IsEmpty() {
		return
	}
	b := e.entry(owner)
	if b.add == nil {
		b.add = set.Clone()
	} else {
		b.add = b.add.Add(set)
	}
}

// QueueRemove stages a remove for owner. Any portion of set that matches a
// still-pending add cancels that add instead of being recorded as a remove
// (spec.md §4.G: "a remove following an add of the same source cancels
// both"); only the remainder — removal of something not in the pending add
// — is recorded.
func (e *diffEngine) QueueRemove(owner string, set *sourcemodel.EndpointSourceSet) {
	if set.IsEmpty() {
		return
	}
	b := e.entry(owner)

	overlap := intersect(b.add, set)
	if !overlap.IsEmpty() {
		b.add = b.add.Subtract(overlap)
	}

	remainder := set.Subtract(overlap)
	if remainder.IsEmpty() {
		return
	}
	if b.remove == nil {
		b.remove = remainder.Clone()
	} else {
		b.remove = b.remove.Add(remainder)
	}
}

// Flush returns and clears the pending add/remove batch for owner. Either
// return value may be nil if nothing of that kind is pending.
func (e *diffEngine) Flush(owner string) (add, remove *sourcemodel.EndpointSourceSet) {
	b, ok := e.pending[owner]
	if !ok {
		return nil, nil
	}
	delete(e.pending, owner)
	if b.add.IsEmpty() {
		b.add = nil
	}
	if b.remove.IsEmpty() {
		b.remove = nil
	}
	return b.add, b.remove
}

// FlushAll flushes every owner with pending work, returning a map of
// owner -> (add, remove).
func (e *diffEngine) FlushAll() map[string]pendingDiff {
	if len(e.pending) == 0 {
		return nil
	}
	out := make(map[string]pendingDiff, len(e.pending))
	for owner := range e.pending {
		add, remove := e.Flush(owner)
		out[owner] = pendingDiff{add: add, remove: remove}
	}
	return out
}

// intersect returns the sources and groups present in both a and b, nil-safe.
func intersect(a, b *sourcemodel.EndpointSourceSet) *sourcemodel.EndpointSourceSet {
	result := sourcemodel.NewEndpointSourceSet()
	if a == nil || b == nil {
		return result
	}
	for ssrc, src := range b.Sources {
		if _, ok := a.Sources[ssrc]; ok {
			result.Sources[ssrc] = src
		}
	}
	for key, g := range b.Groups {
		if _, ok := a.Groups[key]; ok {
			result.Groups[key] = g
		}
	}
	return result
}
