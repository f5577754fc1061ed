package sourcemodel

import "github.com/meetfocus/focus/internal/apperror"

// Content is the wire-level grouping of sources and groups by media type,
// the `[Content]` shape spec.md §4.A's parse/encode operate on. The exact
// transport envelope (signaling stanza, SDP, etc.) is out of scope; Content
// is the already-demultiplexed per-media-type payload.
type Content struct {
	MediaType  MediaType
	Sources    []Source
	SsrcGroups []SsrcGroup
}

// Parse converts a slice of Content into an EndpointSourceSet. Fails with
// apperror.KindBadRequest on an unrecognized media type or unparseable
// group semantics (spec.md §4.A).
func Parse(contents []Content) (*EndpointSourceSet, error) {
	set := NewEndpointSourceSet()
	for _, content := range contents {
		if content.MediaType != MediaAudio && content.MediaType != MediaVideo {
			return nil, apperror.Newf(apperror.KindBadRequest, "unrecognized media type %q", content.MediaType)
		}
		for _, src := range content.Sources {
			src.MediaType = content.MediaType
			set.Sources[src.SSRC] = src
		}
		for _, g := range content.SsrcGroups {
			if _, ok := compactSemantics[g.Semantics]; !ok {
				return nil, apperror.Newf(apperror.KindBadRequest, "unparseable group semantics %q", g.Semantics)
			}
			g.MediaType = content.MediaType
			if len(g.Ssrcs) == 0 {
				continue
			}
			set.Groups[g.Key()] = g
		}
	}
	return set, nil
}

// Encode is the inverse of Parse. ownerID is optional and, when non-empty,
// is not embedded in the Source/SsrcGroup values themselves (those carry no
// owner field); it exists purely so callers constructing an "owner"
// annotation for the outer envelope have it at hand.
func Encode(set *EndpointSourceSet, ownerID string) []Content {
	_ = ownerID
	byMedia := map[MediaType]*Content{
		MediaAudio: {MediaType: MediaAudio},
		MediaVideo: {MediaType: MediaVideo},
	}

	for _, src := range set.SortedSources() {
		c := byMedia[src.MediaType]
		c.Sources = append(c.Sources, src)
	}
	for _, g := range set.SortedGroups() {
		c := byMedia[g.MediaType]
		c.SsrcGroups = append(c.SsrcGroups, g)
	}

	var out []Content
	for _, mt := range []MediaType{MediaAudio, MediaVideo} {
		c := byMedia[mt]
		if len(c.Sources) > 0 || len(c.SsrcGroups) > 0 {
			out = append(out, *c)
		}
	}
	return out
}
