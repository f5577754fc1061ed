package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/sourcemodel"
)

func sourceSet(ssrcs ...uint32) *sourcemodel.EndpointSourceSet {
	set := sourcemodel.NewEndpointSourceSet()
	for _, ssrc := range ssrcs {
		set.Sources[ssrc] = sourcemodel.Source{SSRC: ssrc, MediaType: sourcemodel.MediaAudio}
	}
	return set
}

// TestDiffEngine_AddThenRemoveCancels is spec.md §8 scenario S3: addSources
// for S1, addSources for S2, removeSources for S2, then flush. Only a
// single add for S1 should remain; S2 never leaves a trace.
func TestDiffEngine_AddThenRemoveCancels(t *testing.T) {
	e := newDiffEngine()

	s1 := sourceSet(1)
	s2 := sourceSet(2)

	e.QueueAdd("alice", s1)
	e.QueueAdd("alice", s2)
	e.QueueRemove("alice", s2)

	add, remove := e.Flush("alice")
	require.NotNil(t, add)
	assert.Len(t, add.Sources, 1)
	_, ok := add.Sources[1]
	assert.True(t, ok)
	assert.Nil(t, remove)
}

func TestDiffEngine_ConsecutiveAddsCoalesce(t *testing.T) {
	e := newDiffEngine()
	e.QueueAdd("alice", sourceSet(1))
	e.QueueAdd("alice", sourceSet(2))

	add, remove := e.Flush("alice")
	require.NotNil(t, add)
	assert.Len(t, add.Sources, 2)
	assert.Nil(t, remove)
}

// TestDiffEngine_AddAfterRemoveIsSeparate: a remove followed by an add of a
// different source must not cancel the add (spec.md §4.G: "a new add after
// a remove is emitted separately").
func TestDiffEngine_AddAfterRemoveIsSeparate(t *testing.T) {
	e := newDiffEngine()
	e.QueueRemove("alice", sourceSet(1))
	e.QueueAdd("alice", sourceSet(2))

	add, remove := e.Flush("alice")
	require.NotNil(t, add)
	require.NotNil(t, remove)
	assert.Len(t, add.Sources, 1)
	assert.Len(t, remove.Sources, 1)
	_, addOK := add.Sources[2]
	_, removeOK := remove.Sources[1]
	assert.True(t, addOK)
	assert.True(t, removeOK)
}

func TestDiffEngine_RemoveLargerThanPendingAddLeavesRemainder(t *testing.T) {
	e := newDiffEngine()
	e.QueueAdd("alice", sourceSet(1))
	e.QueueRemove("alice", sourceSet(1, 2))

	add, remove := e.Flush("alice")
	assert.Nil(t, add)
	require.NotNil(t, remove)
	assert.Len(t, remove.Sources, 1)
	_, ok := remove.Sources[2]
	assert.True(t, ok)
}

func TestDiffEngine_FlushClearsPendingState(t *testing.T) {
	e := newDiffEngine()
	e.QueueAdd("alice", sourceSet(1))
	_, _ = e.Flush("alice")

	add, remove := e.Flush("alice")
	assert.Nil(t, add)
	assert.Nil(t, remove)
}

func TestDiffEngine_EmptySetsAreNoOps(t *testing.T) {
	e := newDiffEngine()
	e.QueueAdd("alice", sourcemodel.NewEndpointSourceSet())
	e.QueueRemove("alice", sourcemodel.NewEndpointSourceSet())

	add, remove := e.Flush("alice")
	assert.Nil(t, add)
	assert.Nil(t, remove)
}
