package sourcemodel

import (
	"encoding/json"
	"fmt"

	"github.com/meetfocus/focus/internal/apperror"
)

// compactSource is the wire shape of Source.compactJson (spec.md §6):
// {"s":<ssrc>[,"n":"name"][,"m":"msid"][,"v":"d"]}.
type compactSource struct {
	S uint32 `json:"s"`
	N string `json:"n,omitempty"`
	M string `json:"m,omitempty"`
	V string `json:"v,omitempty"`
}

func toCompactSource(src Source) compactSource {
	cs := compactSource{S: src.SSRC, N: src.Name, M: src.Msid}
	if src.VideoType == VideoDesktop {
		cs.V = "d"
	}
	return cs
}

func fromCompactSource(cs compactSource, mt MediaType) Source {
	src := Source{SSRC: cs.S, MediaType: mt, Name: cs.N, Msid: cs.M}
	if cs.V == "d" {
		src.VideoType = VideoDesktop
	}
	return src
}

// compactGroup encodes as ["s"|"f"|"e", ssrc, ssrc, ...].
func toCompactGroup(g SsrcGroup) ([]any, error) {
	code, ok := compactSemantics[g.Semantics]
	if !ok {
		return nil, apperror.Newf(apperror.KindBadRequest, "unknown group semantics %q", g.Semantics)
	}
	out := make([]any, 0, len(g.Ssrcs)+1)
	out = append(out, code)
	for _, ssrc := range g.Ssrcs {
		out = append(out, ssrc)
	}
	return out, nil
}

func fromCompactGroup(raw []json.RawMessage, mt MediaType) (SsrcGroup, error) {
	if len(raw) == 0 {
		return SsrcGroup{}, apperror.New(apperror.KindBadRequest, "empty compact group")
	}
	var code string
	if err := json.Unmarshal(raw[0], &code); err != nil {
		return SsrcGroup{}, apperror.Wrap(apperror.KindBadRequest, "decoding group semantics code", err)
	}
	semantics, ok := semanticsFromCompact[code]
	if !ok {
		return SsrcGroup{}, apperror.Newf(apperror.KindBadRequest, "unrecognized group code %q", code)
	}
	ssrcs := make([]uint32, 0, len(raw)-1)
	for _, r := range raw[1:] {
		var ssrc uint32
		if err := json.Unmarshal(r, &ssrc); err != nil {
			return SsrcGroup{}, apperror.Wrap(apperror.KindBadRequest, "decoding group ssrc", err)
		}
		ssrcs = append(ssrcs, ssrc)
	}
	return SsrcGroup{Semantics: semantics, Ssrcs: ssrcs, MediaType: mt}, nil
}

// CompactJSON renders the size-optimized dump described in spec.md §4.A:
// [ [videoSources], [videoGroups], [audioSources], [audioGroups] ], with
// trailing empty elements omitted.
func (s *EndpointSourceSet) CompactJSON() ([]byte, error) {
	video := s.FilterMediaType(MediaVideo)
	audio := s.FilterMediaType(MediaAudio)

	videoSources := make([]compactSource, 0, len(video.Sources))
	for _, src := range video.SortedSources() {
		videoSources = append(videoSources, toCompactSource(src))
	}
	audioSources := make([]compactSource, 0, len(audio.Sources))
	for _, src := range audio.SortedSources() {
		audioSources = append(audioSources, toCompactSource(src))
	}

	videoGroups := make([][]any, 0, len(video.Groups))
	for _, g := range video.SortedGroups() {
		cg, err := toCompactGroup(g)
		if err != nil {
			return nil, err
		}
		videoGroups = append(videoGroups, cg)
	}
	audioGroups := make([][]any, 0, len(audio.Groups))
	for _, g := range audio.SortedGroups() {
		cg, err := toCompactGroup(g)
		if err != nil {
			return nil, err
		}
		audioGroups = append(audioGroups, cg)
	}

	elements := []any{videoSources, videoGroups, audioSources, audioGroups}
	for len(elements) > 0 && isEmptyCompactElement(elements[len(elements)-1]) {
		elements = elements[:len(elements)-1]
	}

	return json.Marshal(elements)
}

func isEmptyCompactElement(v any) bool {
	switch t := v.(type) {
	case []compactSource:
		return len(t) == 0
	case [][]any:
		return len(t) == 0
	default:
		return false
	}
}

// ParseCompactJSON decodes the wire format produced by CompactJSON.
func ParseCompactJSON(data []byte) (*EndpointSourceSet, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperror.Wrap(apperror.KindBadRequest, "decoding compact source set", err)
	}

	set := NewEndpointSourceSet()
	decodeSources := func(msg json.RawMessage, mt MediaType) error {
		var sources []compactSource
		if err := json.Unmarshal(msg, &sources); err != nil {
			return apperror.Wrap(apperror.KindBadRequest, "decoding compact sources", err)
		}
		for _, cs := range sources {
			if !ValidateSSRC(cs.S) {
				return apperror.Newf(apperror.KindInvalidSsrc, "ssrc %d out of range", cs.S)
			}
			set.Sources[cs.S] = fromCompactSource(cs, mt)
		}
		return nil
	}
	decodeGroups := func(msg json.RawMessage, mt MediaType) error {
		var groups [][]json.RawMessage
		if err := json.Unmarshal(msg, &groups); err != nil {
			return apperror.Wrap(apperror.KindBadRequest, "decoding compact groups", err)
		}
		for _, raw := range groups {
			g, err := fromCompactGroup(raw, mt)
			if err != nil {
				return err
			}
			if len(g.Ssrcs) == 0 || !set.allSsrcsPresent(g) {
				continue
			}
			set.Groups[g.Key()] = g
		}
		return nil
	}

	positions := []struct {
		mt      MediaType
		isGroup bool
	}{
		{MediaVideo, false},
		{MediaVideo, true},
		{MediaAudio, false},
		{MediaAudio, true},
	}

	for i, pos := range positions {
		if i >= len(raw) {
			break
		}
		var err error
		if pos.isGroup {
			err = decodeGroups(raw[i], pos.mt)
		} else {
			err = decodeSources(raw[i], pos.mt)
		}
		if err != nil {
			return nil, err
		}
	}

	return set, nil
}

// ConferenceSourceMapCompactJSON renders `{ "ownerId": <EndpointSourceSet.compactJson>, … }`
// for an entire snapshot (spec.md §6).
func ConferenceSourceMapCompactJSON(snapshot map[string]*EndpointSourceSet) ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(snapshot))
	for owner, set := range snapshot {
		encoded, err := set.CompactJSON()
		if err != nil {
			return nil, fmt.Errorf("encoding owner %s: %w", owner, err)
		}
		raw[owner] = encoded
	}
	return json.Marshal(raw)
}
