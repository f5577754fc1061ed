package sourcemodel

import (
	"sort"

	"github.com/meetfocus/focus/internal/apperror"
)

// EndpointSourceSet is the sources and groups advertised by one endpoint.
// Invariant: every ssrc referenced by a group appears as the ssrc of some
// source in the set (spec.md §3).
type EndpointSourceSet struct {
	Sources map[uint32]Source
	Groups  map[string]SsrcGroup
}

// NewEndpointSourceSet returns an empty set.
func NewEndpointSourceSet() *EndpointSourceSet {
	return &EndpointSourceSet{
		Sources: make(map[uint32]Source),
		Groups:  make(map[string]SsrcGroup),
	}
}

// FromSourcesAndGroups builds a set from slices, dropping empty groups and
// groups whose ssrcs are not present among sources (per spec.md §4.A rule 4).
// ParseCompactJSON applies the same filter to decoded groups; Parse drops
// only empty groups.
func FromSourcesAndGroups(sources []Source, groups []SsrcGroup) *EndpointSourceSet {
	set := NewEndpointSourceSet()
	for _, s := range sources {
		set.Sources[s.SSRC] = s
	}
	for _, g := range groups {
		if len(g.Ssrcs) == 0 {
			continue
		}
		if !set.allSsrcsPresent(g) {
			continue
		}
		set.Groups[g.Key()] = g
	}
	return set
}

func (s *EndpointSourceSet) allSsrcsPresent(g SsrcGroup) bool {
	for _, ssrc := range g.Ssrcs {
		if _, ok := s.Sources[ssrc]; !ok {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the set has no sources and no groups.
func (s *EndpointSourceSet) IsEmpty() bool {
	return s == nil || (len(s.Sources) == 0 && len(s.Groups) == 0)
}

// Clone returns a deep copy.
func (s *EndpointSourceSet) Clone() *EndpointSourceSet {
	clone := NewEndpointSourceSet()
	for k, v := range s.Sources {
		clone.Sources[k] = v
	}
	for k, v := range s.Groups {
		ssrcs := make([]uint32, len(v.Ssrcs))
		copy(ssrcs, v.Ssrcs)
		clone.Groups[k] = SsrcGroup{Semantics: v.Semantics, Ssrcs: ssrcs, MediaType: v.MediaType}
	}
	return clone
}

// Add returns the union of s and other (source set and group set union).
func (s *EndpointSourceSet) Add(other *EndpointSourceSet) *EndpointSourceSet {
	result := s.Clone()
	if other == nil {
		return result
	}
	for k, v := range other.Sources {
		result.Sources[k] = v
	}
	for k, v := range other.Groups {
		result.Groups[k] = v
	}
	return result
}

// Subtract returns s minus other: sources and groups present in other are
// removed from the result (spec.md §8 invariant 2: (a+b)-b == a when b⊆a).
func (s *EndpointSourceSet) Subtract(other *EndpointSourceSet) *EndpointSourceSet {
	result := s.Clone()
	if other == nil {
		return result
	}
	for ssrc := range other.Sources {
		delete(result.Sources, ssrc)
	}
	for key := range other.Groups {
		delete(result.Groups, key)
	}
	return result
}

// StripInjected returns a copy with injected sources removed.
func (s *EndpointSourceSet) StripInjected() *EndpointSourceSet {
	result := NewEndpointSourceSet()
	for ssrc, src := range s.Sources {
		if !src.Injected {
			result.Sources[ssrc] = src
		}
	}
	for key, g := range s.Groups {
		if result.allSsrcsPresent(g) {
			result.Groups[key] = g
		}
	}
	return result
}

// FilterMediaType returns a copy containing only sources and groups of mt.
func (s *EndpointSourceSet) FilterMediaType(mt MediaType) *EndpointSourceSet {
	result := NewEndpointSourceSet()
	for ssrc, src := range s.Sources {
		if src.MediaType == mt {
			result.Sources[ssrc] = src
		}
	}
	for key, g := range s.Groups {
		if g.MediaType == mt {
			result.Groups[key] = g
		}
	}
	return result
}

// StripSimulcast returns a copy with simulcast projection applied: for each
// Sim group keep only the first ssrc; drop the rest plus any Fid group whose
// primary was dropped (and its retransmission ssrc). Idempotent (spec.md §8
// invariant 3).
func (s *EndpointSourceSet) StripSimulcast() (*EndpointSourceSet, error) {
	dropped := make(map[uint32]bool)

	for _, g := range s.Groups {
		if g.Semantics != SemanticsSim {
			continue
		}
		for i, ssrc := range g.Ssrcs {
			if i == 0 {
				continue
			}
			dropped[ssrc] = true
		}
	}

	for _, g := range s.Groups {
		if g.Semantics != SemanticsFid {
			continue
		}
		if len(g.Ssrcs) != 2 {
			return nil, apperror.New(apperror.KindInvalidFidGroup, "fid group must have exactly 2 ssrcs")
		}
		if dropped[g.Primary()] {
			if rtx, ok := g.Secondary(); ok {
				dropped[rtx] = true
			}
		}
	}

	result := NewEndpointSourceSet()
	for ssrc, src := range s.Sources {
		if !dropped[ssrc] {
			result.Sources[ssrc] = src
		}
	}
	for key, g := range s.Groups {
		if g.Semantics == SemanticsSim {
			// The simulcast projection keeps only the lowest layer; once a
			// Sim group has collapsed to that single ssrc, the grouping
			// itself is meaningless and is dropped rather than re-emitted
			// as a one-element group (spec.md §8 scenario S2).
			continue
		}
		if g.Semantics == SemanticsFid && dropped[g.Primary()] {
			continue
		}
		if result.allSsrcsPresent(g) {
			result.Groups[key] = g
		}
	}
	return result, nil
}

// SortedSources returns the sources ordered by ssrc, for deterministic
// iteration (encoding, diffing, testing).
func (s *EndpointSourceSet) SortedSources() []Source {
	out := make([]Source, 0, len(s.Sources))
	for _, src := range s.Sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SSRC < out[j].SSRC })
	return out
}

// SortedGroups returns the groups ordered by key, for deterministic
// iteration.
func (s *EndpointSourceSet) SortedGroups() []SsrcGroup {
	out := make([]SsrcGroup, 0, len(s.Groups))
	for _, g := range s.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// extendedGroups computes, for each source, the union of its Sim group and
// any Fid group whose primary falls in that Sim group — spec.md §4.A rule 6.
// Returns a slice of (ssrc set, msid) pairs, one per extended group; sources
// not in any group are not part of an extended group and are skipped.
func (s *EndpointSourceSet) extendedGroups() []extendedGroup {
	simOf := make(map[uint32]string) // ssrc -> sim group key
	for key, g := range s.Groups {
		if g.Semantics != SemanticsSim {
			continue
		}
		for _, ssrc := range g.Ssrcs {
			simOf[ssrc] = key
		}
	}

	members := make(map[string]map[uint32]bool) // sim group key -> member ssrcs
	for key, g := range s.Groups {
		if g.Semantics != SemanticsSim {
			continue
		}
		set := make(map[uint32]bool, len(g.Ssrcs))
		for _, ssrc := range g.Ssrcs {
			set[ssrc] = true
		}
		members[key] = set
	}

	for _, g := range s.Groups {
		if g.Semantics != SemanticsFid {
			continue
		}
		if simKey, ok := simOf[g.Primary()]; ok {
			if rtx, ok := g.Secondary(); ok {
				members[simKey][rtx] = true
			}
		}
	}

	var result []extendedGroup
	for key, set := range members {
		eg := extendedGroup{key: key, ssrcs: set}
		for ssrc := range set {
			if src, ok := s.Sources[ssrc]; ok && src.Msid != "" {
				eg.msid = src.Msid
				break
			}
		}
		result = append(result, eg)
	}
	return result
}

type extendedGroup struct {
	key   string
	ssrcs map[uint32]bool
	msid  string
}
