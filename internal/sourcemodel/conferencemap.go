package sourcemodel

import (
	"sync"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/metrics"
)

// ConferenceSourceMap maps ownerId -> EndpointSourceSet for one conference.
// Safe for concurrent readers; every mutator is serialized under mu so the
// map is never observed in a partially-validated state (spec.md §5).
type ConferenceSourceMap struct {
	mu sync.RWMutex

	byOwner     map[string]*EndpointSourceSet
	ssrcToOwner map[uint32]string
	msidToOwner map[string]string

	maxSsrcsPerUser  int
	maxGroupsPerUser int
}

// NewConferenceSourceMap builds an empty map enforcing the given per-owner
// limits (spec.md §4.A rule 3).
func NewConferenceSourceMap(maxSsrcsPerUser, maxGroupsPerUser int) *ConferenceSourceMap {
	return &ConferenceSourceMap{
		byOwner:          make(map[string]*EndpointSourceSet),
		ssrcToOwner:      make(map[uint32]string),
		msidToOwner:      make(map[string]string),
		maxSsrcsPerUser:  maxSsrcsPerUser,
		maxGroupsPerUser: maxGroupsPerUser,
	}
}

// Get returns a clone of owner's current source set, or an empty set if the
// owner has none. Safe to mutate the returned copy.
func (m *ConferenceSourceMap) Get(owner string) *EndpointSourceSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if set, ok := m.byOwner[owner]; ok {
		return set.Clone()
	}
	return NewEndpointSourceSet()
}

// Snapshot returns a deep copy of the entire map, keyed by owner.
func (m *ConferenceSourceMap) Snapshot() map[string]*EndpointSourceSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*EndpointSourceSet, len(m.byOwner))
	for owner, set := range m.byOwner {
		out[owner] = set.Clone()
	}
	return out
}

// TryToAdd is the validated mutator: it applies the full validation
// algorithm from spec.md §4.A before mutating anything. On failure the map
// is left completely unchanged.
func (m *ConferenceSourceMap) TryToAdd(owner string, set *EndpointSourceSet) error {
	if owner == "" || set == nil {
		metrics.SourceMapValidationFailures.WithLabelValues(string(apperror.KindRequiredParameterMissing)).Inc()
		return apperror.New(apperror.KindRequiredParameterMissing, "owner and set are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byOwner[owner]
	if !ok {
		existing = NewEndpointSourceSet()
	}
	merged := existing.Clone()

	for ssrc, src := range set.Sources {
		if !ValidateSSRC(ssrc) {
			return m.reject(apperror.KindInvalidSsrc, "ssrc %d out of range", ssrc)
		}
		if current, exists := m.ssrcToOwner[ssrc]; exists && current != owner {
			return m.reject(apperror.KindSsrcAlreadyUsed, "ssrc %d already used by %s", ssrc, current)
		}
		if _, already := existing.Sources[ssrc]; already {
			return m.reject(apperror.KindSsrcAlreadyUsed, "ssrc %d already owned by %s", ssrc, owner)
		}
		if src.Msid != "" {
			if current, exists := m.msidToOwner[src.Msid]; exists && current != owner {
				return m.reject(apperror.KindMsidConflict, "msid %s already used by %s", src.Msid, current)
			}
		}
		merged.Sources[ssrc] = src
	}

	if len(merged.Sources) > m.maxSsrcsPerUser {
		return m.reject(apperror.KindSsrcLimitExceeded, "owner %s would exceed %d sources", owner, m.maxSsrcsPerUser)
	}

	for key, g := range set.Groups {
		if len(g.Ssrcs) == 0 {
			continue // empty groups silently accepted-as-noop
		}
		if _, already := merged.Groups[key]; already {
			continue // already-present groups silently accepted-as-noop
		}
		if g.Semantics == SemanticsFid && len(g.Ssrcs) != 2 {
			return m.reject(apperror.KindInvalidFidGroup, "fid group %s must have exactly 2 ssrcs", key)
		}

		var groupMsid string
		for _, ssrc := range g.Ssrcs {
			src, present := merged.Sources[ssrc]
			if !present {
				return m.reject(apperror.KindGroupUnknownSource, "group references unknown ssrc %d", ssrc)
			}
			if src.Msid == "" {
				return m.reject(apperror.KindGroupMsidMismatch, "source %d in group has no msid", ssrc)
			}
			if groupMsid == "" {
				groupMsid = src.Msid
			} else if groupMsid != src.Msid {
				return m.reject(apperror.KindGroupMsidMismatch, "group %s sources have mismatched msids", key)
			}
		}
		merged.Groups[key] = g
	}

	if len(merged.Groups) > m.maxGroupsPerUser {
		return m.reject(apperror.KindSsrcGroupLimitExceeded, "owner %s would exceed %d groups", owner, m.maxGroupsPerUser)
	}

	if err := validateExtendedGroupMsidUniqueness(merged); err != nil {
		return m.reject(apperror.KindMsidConflict, "%s", err.Error())
	}

	m.commit(owner, merged)
	return nil
}

// TryToRemove is the validated mutator for removal. Sources are matched by
// ssrc only; groups referencing a removed primary or secondary ssrc are
// removed as well (spec.md §4.A).
func (m *ConferenceSourceMap) TryToRemove(owner string, set *EndpointSourceSet) error {
	if owner == "" || set == nil {
		return apperror.New(apperror.KindRequiredParameterMissing, "owner and set are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byOwner[owner]
	if !ok {
		existing = NewEndpointSourceSet()
	}

	for ssrc := range set.Sources {
		if _, present := existing.Sources[ssrc]; !present {
			return m.reject(apperror.KindSourceDoesNotExist, "owner %s has no source with ssrc %d", owner, ssrc)
		}
	}
	for key := range set.Groups {
		if _, present := existing.Groups[key]; !present {
			return m.reject(apperror.KindSourceGroupDoesNotExist, "owner %s has no group %s", owner, key)
		}
	}

	merged := existing.Clone()
	for ssrc := range set.Sources {
		delete(merged.Sources, ssrc)
	}
	for key := range set.Groups {
		delete(merged.Groups, key)
	}
	// Auto-remove groups whose primary or secondary ssrc was just dropped.
	for key, g := range merged.Groups {
		if !merged.allSsrcsPresent(g) {
			delete(merged.Groups, key)
		}
	}

	m.commit(owner, merged)
	return nil
}

// AddUnvalidated applies a union without running the validation algorithm.
// Reserved for internal replication (e.g. applying a remote focus
// instance's already-validated state); must never be exposed to external
// callers (spec.md §4.A).
func (m *ConferenceSourceMap) AddUnvalidated(owner string, set *EndpointSourceSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byOwner[owner]
	if !ok {
		existing = NewEndpointSourceSet()
	}
	m.commit(owner, existing.Add(set))
}

// RemoveUnvalidated applies a difference without validation. Internal
// replication use only.
func (m *ConferenceSourceMap) RemoveUnvalidated(owner string, set *EndpointSourceSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byOwner[owner]
	if !ok {
		return
	}
	m.commit(owner, existing.Subtract(set))
}

// commit installs merged as owner's set and keeps the auxiliary index maps
// consistent. Caller must hold mu.
func (m *ConferenceSourceMap) commit(owner string, merged *EndpointSourceSet) {
	if old, ok := m.byOwner[owner]; ok {
		for ssrc := range old.Sources {
			delete(m.ssrcToOwner, ssrc)
		}
		for _, src := range old.Sources {
			if src.Msid != "" {
				delete(m.msidToOwner, src.Msid)
			}
		}
	}

	if merged.IsEmpty() {
		delete(m.byOwner, owner)
		return
	}

	m.byOwner[owner] = merged
	for ssrc := range merged.Sources {
		m.ssrcToOwner[ssrc] = owner
	}
	for _, src := range merged.Sources {
		if src.Msid != "" {
			m.msidToOwner[src.Msid] = owner
		}
	}
}

func (m *ConferenceSourceMap) reject(kind apperror.Kind, format string, args ...any) error {
	metrics.SourceMapValidationFailures.WithLabelValues(string(kind)).Inc()
	return apperror.Newf(kind, format, args...)
}

// validateExtendedGroupMsidUniqueness enforces spec.md §4.A rule 6: within
// each media type, every extended group (a Sim group plus any Fid group
// whose primary is in it) must have a distinct msid.
func validateExtendedGroupMsidUniqueness(set *EndpointSourceSet) error {
	seen := make(map[string]string) // mediaType|msid -> extended group key
	for _, eg := range set.extendedGroups() {
		if eg.msid == "" {
			continue
		}
		var mt MediaType
		for ssrc := range eg.ssrcs {
			if src, ok := set.Sources[ssrc]; ok {
				mt = src.MediaType
				break
			}
		}
		dedupeKey := string(mt) + "|" + eg.msid
		if other, exists := seen[dedupeKey]; exists && other != eg.key {
			return apperror.Newf(apperror.KindMsidConflict, "msid %s reused across distinct extended groups", eg.msid)
		}
		seen[dedupeKey] = eg.key
	}
	return nil
}

// UnmodifiableView wraps m in a read-only facade whose mutators always fail.
func (m *ConferenceSourceMap) UnmodifiableView() *UnmodifiableConferenceSourceMap {
	return &UnmodifiableConferenceSourceMap{inner: m}
}

// UnmodifiableConferenceSourceMap is a read-only wrapper around a
// ConferenceSourceMap (spec.md §3: "unmodifiable view").
type UnmodifiableConferenceSourceMap struct {
	inner *ConferenceSourceMap
}

// Get delegates to the wrapped map.
func (u *UnmodifiableConferenceSourceMap) Get(owner string) *EndpointSourceSet {
	return u.inner.Get(owner)
}

// Snapshot delegates to the wrapped map.
func (u *UnmodifiableConferenceSourceMap) Snapshot() map[string]*EndpointSourceSet {
	return u.inner.Snapshot()
}

// TryToAdd always fails: this view is read-only.
func (u *UnmodifiableConferenceSourceMap) TryToAdd(string, *EndpointSourceSet) error {
	return apperror.New(apperror.KindBadRequest, "unsupported operation: unmodifiable source map")
}

// TryToRemove always fails: this view is read-only.
func (u *UnmodifiableConferenceSourceMap) TryToRemove(string, *EndpointSourceSet) error {
	return apperror.New(apperror.KindBadRequest, "unsupported operation: unmodifiable source map")
}
