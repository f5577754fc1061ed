package sourcemodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/apperror"
)

func videoSource(ssrc uint32, msid string) Source {
	return Source{SSRC: ssrc, MediaType: MediaVideo, Msid: msid}
}

func TestTryToAdd_CrossEndpointSsrcConflict(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	require.NoError(t, m.TryToAdd("alice", FromSourcesAndGroups([]Source{videoSource(1, "m1")}, nil)))

	err := m.TryToAdd("bob", FromSourcesAndGroups([]Source{videoSource(1, "m2")}, nil))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindSsrcAlreadyUsed))

	// Map must be left unchanged: bob owns nothing.
	assert.True(t, m.Get("bob").IsEmpty())
}

func TestTryToAdd_MsidSharedAcrossAudioVideoSameEndpoint(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	sources := []Source{
		{SSRC: 1, MediaType: MediaAudio, Msid: "shared"},
		{SSRC: 2, MediaType: MediaVideo, Msid: "shared"},
	}
	require.NoError(t, m.TryToAdd("alice", FromSourcesAndGroups(sources, nil)))
}

func TestTryToAdd_MsidConflictAcrossEndpoints(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	require.NoError(t, m.TryToAdd("alice", FromSourcesAndGroups([]Source{videoSource(1, "m1")}, nil)))

	err := m.TryToAdd("bob", FromSourcesAndGroups([]Source{videoSource(2, "m1")}, nil))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindMsidConflict))
}

func TestTryToAdd_SsrcLimitExceeded(t *testing.T) {
	m := NewConferenceSourceMap(1, 20)
	require.NoError(t, m.TryToAdd("alice", FromSourcesAndGroups([]Source{videoSource(1, "m1")}, nil)))

	err := m.TryToAdd("alice", FromSourcesAndGroups([]Source{videoSource(2, "m2")}, nil))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindSsrcLimitExceeded))
}

// A zero limit rejects every addition, including the first (spec.md §8
// boundary behaviors).
func TestTryToAdd_ZeroSsrcLimitRejectsFirstAddition(t *testing.T) {
	m := NewConferenceSourceMap(0, 20)

	err := m.TryToAdd("alice", FromSourcesAndGroups([]Source{videoSource(1, "m1")}, nil))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindSsrcLimitExceeded))
}

func TestTryToAdd_ZeroGroupLimitRejectsFirstGroup(t *testing.T) {
	m := NewConferenceSourceMap(20, 0)
	sources := []Source{videoSource(1, "m1"), videoSource(2, "m1")}
	groups := []SsrcGroup{{Semantics: SemanticsFid, Ssrcs: []uint32{1, 2}, MediaType: MediaVideo}}

	err := m.TryToAdd("alice", FromSourcesAndGroups(sources, groups))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindSsrcGroupLimitExceeded))
}

func TestTryToAdd_InvalidFidGroupSize(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	sources := []Source{videoSource(1, "m1"), videoSource(2, "m1"), videoSource(3, "m1")}
	groups := []SsrcGroup{{Semantics: SemanticsFid, Ssrcs: []uint32{1, 2, 3}, MediaType: MediaVideo}}

	err := m.TryToAdd("alice", FromSourcesAndGroups(sources, groups))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindInvalidFidGroup))
}

func TestTryToAdd_GroupReferencesUnknownSource(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	set := NewEndpointSourceSet()
	set.Sources[1] = videoSource(1, "m1")
	// Bypass FromSourcesAndGroups' own filtering so the validator sees it.
	set.Groups["bad"] = SsrcGroup{Semantics: SemanticsFid, Ssrcs: []uint32{1, 99}, MediaType: MediaVideo}

	err := m.TryToAdd("alice", set)
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindGroupUnknownSource))
}

func TestTryToRemove_SourceDoesNotExist(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	err := m.TryToRemove("alice", FromSourcesAndGroups([]Source{videoSource(1, "m1")}, nil))
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindSourceDoesNotExist))
}

func TestTryToRemove_AutoRemovesDependentGroups(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	sources := []Source{videoSource(1, "m1"), videoSource(2, "m1")}
	groups := []SsrcGroup{{Semantics: SemanticsFid, Ssrcs: []uint32{1, 2}, MediaType: MediaVideo}}
	require.NoError(t, m.TryToAdd("alice", FromSourcesAndGroups(sources, groups)))

	require.NoError(t, m.TryToRemove("alice", FromSourcesAndGroups([]Source{videoSource(1, "")}, nil)))

	remaining := m.Get("alice")
	assert.Empty(t, remaining.Groups, "fid group must be auto-removed once its primary ssrc is gone")
	_, stillThere := remaining.Sources[2]
	assert.True(t, stillThere, "the retransmission source itself is not implicitly removed, only the group")
}

// Invariant 2: (a + b) - b == a whenever b subseteq a.
func TestAddSubtractRoundTrip(t *testing.T) {
	a := FromSourcesAndGroups([]Source{videoSource(1, "m1"), videoSource(2, "m2")}, nil)
	b := FromSourcesAndGroups([]Source{videoSource(2, "m2")}, nil)

	result := a.Add(b).Subtract(b)
	assert.Equal(t, a.Sources, result.Sources)
}

// Invariant 3: stripSimulcast is idempotent.
func TestStripSimulcastIdempotent(t *testing.T) {
	sources := []Source{videoSource(1, "m1"), videoSource(2, "m1"), videoSource(3, "m1")}
	groups := []SsrcGroup{
		{Semantics: SemanticsSim, Ssrcs: []uint32{1, 2}, MediaType: MediaVideo},
		{Semantics: SemanticsFid, Ssrcs: []uint32{2, 3}, MediaType: MediaVideo},
	}
	set := FromSourcesAndGroups(sources, groups)

	once, err := set.StripSimulcast()
	require.NoError(t, err)
	twice, err := once.StripSimulcast()
	require.NoError(t, err)

	assert.Equal(t, once.Sources, twice.Sources)
	assert.Equal(t, once.Groups, twice.Groups)
	// The dropped simulcast layer (ssrc 2) takes its Fid retransmission (3) with it.
	_, hasSsrc2 := once.Sources[2]
	_, hasSsrc3 := once.Sources[3]
	assert.False(t, hasSsrc2)
	assert.False(t, hasSsrc3)
}

// Scenario S2 (spec.md §8): {Sim[1,2,3], Fid[1,4], Fid[2,5], Fid[3,6]}
// strips down to {Fid[1,4]} alone -- the collapsed Sim group itself is
// dropped, not re-emitted as a one-ssrc group.
func TestStripSimulcast_ScenarioS2(t *testing.T) {
	sources := []Source{
		videoSource(1, "m1"), videoSource(2, "m1"), videoSource(3, "m1"),
		videoSource(4, "m1"), videoSource(5, "m1"), videoSource(6, "m1"),
	}
	groups := []SsrcGroup{
		{Semantics: SemanticsSim, Ssrcs: []uint32{1, 2, 3}, MediaType: MediaVideo},
		{Semantics: SemanticsFid, Ssrcs: []uint32{1, 4}, MediaType: MediaVideo},
		{Semantics: SemanticsFid, Ssrcs: []uint32{2, 5}, MediaType: MediaVideo},
		{Semantics: SemanticsFid, Ssrcs: []uint32{3, 6}, MediaType: MediaVideo},
	}
	set := FromSourcesAndGroups(sources, groups)

	result, err := set.StripSimulcast()
	require.NoError(t, err)

	assert.Len(t, result.Groups, 1)
	assert.Equal(t, []uint32{1, 4}, result.Groups[SsrcGroup{Semantics: SemanticsFid, Ssrcs: []uint32{1, 4}, MediaType: MediaVideo}.Key()].Ssrcs)
	_, hasSim := result.Groups[SsrcGroup{Semantics: SemanticsSim, Ssrcs: []uint32{1}, MediaType: MediaVideo}.Key()]
	assert.False(t, hasSim, "the collapsed Sim group must not be re-emitted")
}

// Invariant 4 (informal): parse(encode(x)) == x ignoring ordering.
func TestParseEncodeRoundTrip(t *testing.T) {
	set := FromSourcesAndGroups([]Source{
		{SSRC: 1, MediaType: MediaVideo, Name: "cam", Msid: "m1"},
		{SSRC: 2, MediaType: MediaAudio, Msid: "m2"},
	}, []SsrcGroup{
		{Semantics: SemanticsSim, Ssrcs: []uint32{1}, MediaType: MediaVideo},
	})

	contents := Encode(set, "alice")
	roundTripped, err := Parse(contents)
	require.NoError(t, err)

	assert.Equal(t, set.Sources, roundTripped.Sources)
	assert.Equal(t, set.Groups, roundTripped.Groups)
}

// Invariant 5: compactJson round-trips through a standard JSON parser.
func TestCompactJSONRoundTrip(t *testing.T) {
	set := FromSourcesAndGroups([]Source{
		{SSRC: 1, MediaType: MediaVideo, Name: "cam", Msid: "m1", VideoType: VideoDesktop},
		{SSRC: 2, MediaType: MediaAudio, Msid: "m2"},
	}, []SsrcGroup{
		{Semantics: SemanticsSim, Ssrcs: []uint32{1}, MediaType: MediaVideo},
	})

	data, err := set.CompactJSON()
	require.NoError(t, err)

	decoded, err := ParseCompactJSON(data)
	require.NoError(t, err)
	assert.Equal(t, set.Sources, decoded.Sources)
	assert.Equal(t, set.Groups, decoded.Groups)
}

func TestExtendedGroupMsidUniquenessRejected(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	sources := []Source{
		videoSource(1, "dup"),
		videoSource(2, "dup"),
		videoSource(3, "dup"),
		videoSource(4, "dup"),
	}
	groups := []SsrcGroup{
		{Semantics: SemanticsSim, Ssrcs: []uint32{1}, MediaType: MediaVideo},
		{Semantics: SemanticsSim, Ssrcs: []uint32{2}, MediaType: MediaVideo},
	}
	set := FromSourcesAndGroups(sources, groups)
	// Both sim groups would have msid "dup" -- distinct extended groups
	// sharing an msid within the same endpoint should be rejected.
	err := m.TryToAdd("alice", set)
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindMsidConflict))
}

func TestUnmodifiableViewRejectsMutation(t *testing.T) {
	m := NewConferenceSourceMap(20, 20)
	view := m.UnmodifiableView()

	err := view.TryToAdd("alice", NewEndpointSourceSet())
	require.Error(t, err)
}
