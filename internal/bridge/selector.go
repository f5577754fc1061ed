package bridge

import (
	"time"

	"github.com/meetfocus/focus/internal/config"
	"github.com/meetfocus/focus/internal/metrics"
)

// Selector picks a bridge per participant under a pluggable strategy
// (spec.md §4.B). conferenceBridges maps each bridge already used by the
// conference to its participant count on that bridge.
type Selector interface {
	Name() string
	SelectBridge(conferenceBridges map[*Bridge]int, participantRegion, version string) *Bridge
}

const maxBridgeStress = 2.0

// baseSelector holds the state shared by every strategy: the registry to
// read from, the failure-reset window, and the configured region groups.
type baseSelector struct {
	registry              *Registry
	failureResetThreshold time.Duration
	regionGroups          *config.Config
}

func (s *baseSelector) eligibleForNewLocked(now time.Time) []*Bridge {
	var out []*Bridge
	for _, b := range s.registry.Snapshot() {
		if b.EligibleForNewConferences(now, s.failureResetThreshold) {
			out = append(out, b)
		}
	}
	return out
}

func versionCompatible(b *Bridge, version string) bool {
	return version == "" || b.Version == version
}

// pinnedVersion returns the version the conference is already pinned to, if
// any (spec.md §4.B: "if the conference already has a bridge with version
// V, selection is implicitly pinned to V").
func pinnedVersion(conferenceBridges map[*Bridge]int, requested string) string {
	if requested != "" {
		return requested
	}
	for b := range conferenceBridges {
		if b.Version != "" {
			return b.Version
		}
	}
	return ""
}

// SingleSelector always prefers one shared bridge per conference unless it
// is overloaded (spec.md §4.B strategy 1).
type SingleSelector struct{ baseSelector }

// NewSingleSelector builds a SingleSelector.
func NewSingleSelector(registry *Registry, failureResetThreshold time.Duration) *SingleSelector {
	return &SingleSelector{baseSelector{registry: registry, failureResetThreshold: failureResetThreshold}}
}

func (s *SingleSelector) Name() string { return "single" }

func (s *SingleSelector) SelectBridge(conferenceBridges map[*Bridge]int, participantRegion, version string) *Bridge {
	now := time.Now()
	pinned := pinnedVersion(conferenceBridges, version)

	if existing := leastStressedExisting(conferenceBridges, pinned); existing != nil {
		avg := averageParticipantStress(conferenceBridges)
		if existing.Stress+avg <= maxBridgeStress {
			metrics.BridgeSelections.WithLabelValues(s.Name(), "reused").Inc()
			return existing
		}
	}

	candidates := filterVersion(s.eligibleForNewLocked(now), pinned)
	winner := leastStressed(candidates)
	recordSelection(s.Name(), winner)
	return winner
}

// RegionSelector prefers bridges in the participant's region, then a
// configured region-group, then the local region, then anything (spec.md
// §4.B strategy 2).
type RegionSelector struct {
	baseSelector
	localRegion string
}

// NewRegionSelector builds a RegionSelector. cfg supplies region-group
// membership and the local region.
func NewRegionSelector(registry *Registry, cfg *config.Config) *RegionSelector {
	return &RegionSelector{
		baseSelector: baseSelector{registry: registry, failureResetThreshold: cfg.BridgeFailureResetThreshold, regionGroups: cfg},
		localRegion:  cfg.LocalRegion,
	}
}

func (s *RegionSelector) Name() string { return "region" }

func (s *RegionSelector) SelectBridge(conferenceBridges map[*Bridge]int, participantRegion, version string) *Bridge {
	now := time.Now()
	pinned := pinnedVersion(conferenceBridges, version)
	candidates := filterVersion(s.eligibleForNewLocked(now), pinned)

	if len(candidates) == 0 {
		if existing := leastStressedExisting(conferenceBridges, pinned); existing != nil {
			metrics.BridgeSelections.WithLabelValues(s.Name(), "reused_no_region_match").Inc()
			return existing
		}
		recordSelection(s.Name(), nil)
		return nil
	}

	if participantRegion != "" {
		if b := leastStressed(filterRegion(candidates, participantRegion)); b != nil {
			recordSelection(s.Name(), b)
			return b
		}
		group := s.regionGroups.RegionGroup(participantRegion)
		if b := leastStressed(filterRegions(candidates, group)); b != nil {
			recordSelection(s.Name(), b)
			return b
		}
	}

	if b := leastStressed(filterRegion(candidates, s.localRegion)); b != nil {
		recordSelection(s.Name(), b)
		return b
	}

	winner := leastStressed(candidates)
	recordSelection(s.Name(), winner)
	return winner
}

// SplitSelector spreads a conference across bridges, always preferring one
// not yet in use by it (spec.md §4.B strategy 3).
type SplitSelector struct{ baseSelector }

// NewSplitSelector builds a SplitSelector.
func NewSplitSelector(registry *Registry, failureResetThreshold time.Duration) *SplitSelector {
	return &SplitSelector{baseSelector{registry: registry, failureResetThreshold: failureResetThreshold}}
}

func (s *SplitSelector) Name() string { return "split" }

func (s *SplitSelector) SelectBridge(conferenceBridges map[*Bridge]int, participantRegion, version string) *Bridge {
	now := time.Now()
	pinned := pinnedVersion(conferenceBridges, version)
	candidates := filterVersion(s.eligibleForNewLocked(now), pinned)

	var fresh []*Bridge
	for _, b := range candidates {
		if _, inUse := conferenceBridges[b]; !inUse {
			fresh = append(fresh, b)
		}
	}
	if len(fresh) > 0 {
		winner := leastStressed(fresh)
		recordSelection(s.Name(), winner)
		return winner
	}

	winner := leastStressed(candidates)
	recordSelection(s.Name(), winner)
	return winner
}

func recordSelection(strategy string, winner *Bridge) {
	outcome := "selected"
	if winner == nil {
		outcome = "failed"
	}
	metrics.BridgeSelections.WithLabelValues(strategy, outcome).Inc()
}

func filterVersion(bridges []*Bridge, version string) []*Bridge {
	if version == "" {
		return bridges
	}
	var out []*Bridge
	for _, b := range bridges {
		if versionCompatible(b, version) {
			out = append(out, b)
		}
	}
	return out
}

func filterRegion(bridges []*Bridge, region string) []*Bridge {
	return filterRegions(bridges, []string{region})
}

func filterRegions(bridges []*Bridge, regions []string) []*Bridge {
	if len(regions) == 0 {
		return nil
	}
	set := make(map[string]bool, len(regions))
	for _, r := range regions {
		set[r] = true
	}
	var out []*Bridge
	for _, b := range bridges {
		if set[b.Region] {
			out = append(out, b)
		}
	}
	return out
}

func leastStressed(bridges []*Bridge) *Bridge {
	var winner *Bridge
	for _, b := range bridges {
		if winner == nil || b.Stress < winner.Stress {
			winner = b
		}
	}
	return winner
}

func leastStressedExisting(conferenceBridges map[*Bridge]int, pinnedVersion string) *Bridge {
	var winner *Bridge
	for b := range conferenceBridges {
		if !versionCompatible(b, pinnedVersion) {
			continue
		}
		if winner == nil || b.Stress < winner.Stress {
			winner = b
		}
	}
	return winner
}

func averageParticipantStress(conferenceBridges map[*Bridge]int) float64 {
	total := 0
	for _, n := range conferenceBridges {
		total += n
	}
	if total == 0 {
		return 0
	}
	// Crude per-participant stress contribution estimate, matching
	// spec.md §4.B's "stress + avgParticipantStress > maxBridgeStress" test.
	return float64(total) / float64(len(conferenceBridges)) * 0.01
}
