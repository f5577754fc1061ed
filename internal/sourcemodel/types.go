// Package sourcemodel implements the canonical representation of every
// media source a conference participant advertises: Source, SsrcGroup,
// EndpointSourceSet, and the thread-safe ConferenceSourceMap, along with
// validation, diffing, and the compact wire encoding (spec.md §3, §4.A).
package sourcemodel

import "fmt"

// MediaType is the kind of media a Source or SsrcGroup carries.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// VideoType distinguishes a camera feed from a screen-share. The zero value
// means camera, matching the wire rule that absence implies camera.
type VideoType string

const (
	VideoCamera  VideoType = ""
	VideoDesktop VideoType = "desktop"
)

// Semantics identifies the kind of SsrcGroup.
type Semantics string

const (
	SemanticsSim Semantics = "Sim"
	SemanticsFid Semantics = "Fid"
	SemanticsFec Semantics = "Fec"
)

// compactSemantics maps a Semantics value to its one-letter compactJson code.
var compactSemantics = map[Semantics]string{
	SemanticsSim: "s",
	SemanticsFid: "f",
	SemanticsFec: "e",
}

var semanticsFromCompact = map[string]Semantics{
	"s": SemanticsSim,
	"f": SemanticsFid,
	"e": SemanticsFec,
}

// Source is one media source a participant advertises. Two sources are
// equal iff their SSRC fields are equal: duplicate-ssrc detection is
// ssrc-only (spec.md §3).
type Source struct {
	SSRC      uint32
	MediaType MediaType
	Name      string
	Msid      string
	VideoType VideoType
	Injected  bool
}

// Equal reports ssrc equality, the only equality that matters for this type.
func (s Source) Equal(other Source) bool {
	return s.SSRC == other.SSRC
}

// ValidateSSRC reports whether ssrc is in the valid range [1, 2^32).
func ValidateSSRC(ssrc uint32) bool {
	return ssrc != 0
}

// SsrcGroup is an ordered grouping of ssrcs sharing semantics (simulcast,
// RTX pairing, FEC). Order is meaningful: see spec.md §3.
type SsrcGroup struct {
	Semantics Semantics
	Ssrcs     []uint32
	MediaType MediaType
}

// Key returns a stable identity string for set/map membership, since Go has
// no structural-equality map key for slices.
func (g SsrcGroup) Key() string {
	return fmt.Sprintf("%s|%s|%v", g.Semantics, g.MediaType, g.Ssrcs)
}

// Primary is the first ssrc in the group (the non-RTX / base-layer ssrc).
func (g SsrcGroup) Primary() uint32 {
	if len(g.Ssrcs) == 0 {
		return 0
	}
	return g.Ssrcs[0]
}

// Secondary is the second ssrc in the group, if any (the RTX ssrc for Fid).
func (g SsrcGroup) Secondary() (uint32, bool) {
	if len(g.Ssrcs) < 2 {
		return 0, false
	}
	return g.Ssrcs[1], true
}

// Contains reports whether ssrc appears anywhere in the group.
func (g SsrcGroup) Contains(ssrc uint32) bool {
	for _, s := range g.Ssrcs {
		if s == ssrc {
			return true
		}
	}
	return false
}
