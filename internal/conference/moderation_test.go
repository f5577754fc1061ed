package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetfocus/focus/internal/sourcemodel"
)

func TestModerationState_ModeratorAlwaysExempt(t *testing.T) {
	m := newModerationState()
	m.setEnabled(sourcemodel.MediaAudio, true)

	mod := &Participant{EndpointID: "alice", IsModerator: true}
	assert.True(t, m.exempt(mod, sourcemodel.MediaAudio))
}

func TestModerationState_WhitelistedJidExempt(t *testing.T) {
	m := newModerationState()
	m.setEnabled(sourcemodel.MediaVideo, true)
	m.setWhitelisted(sourcemodel.MediaVideo, "bob@example.com", true)

	bob := &Participant{EndpointID: "bob", Jid: "bob@example.com"}
	assert.True(t, m.exempt(bob, sourcemodel.MediaVideo))

	carol := &Participant{EndpointID: "carol", Jid: "carol@example.com"}
	assert.False(t, m.exempt(carol, sourcemodel.MediaVideo))
}

func TestModerationState_WhitelistIsPerMediaType(t *testing.T) {
	m := newModerationState()
	m.setWhitelisted(sourcemodel.MediaAudio, "bob@example.com", true)

	bob := &Participant{EndpointID: "bob", Jid: "bob@example.com"}
	assert.True(t, m.whitelisted(sourcemodel.MediaAudio, bob.Jid))
	assert.False(t, m.whitelisted(sourcemodel.MediaVideo, bob.Jid))
}

func TestModerationState_UnwhitelistRemovesExemption(t *testing.T) {
	m := newModerationState()
	m.setWhitelisted(sourcemodel.MediaAudio, "bob@example.com", true)
	m.setWhitelisted(sourcemodel.MediaAudio, "bob@example.com", false)

	assert.False(t, m.whitelisted(sourcemodel.MediaAudio, "bob@example.com"))
}

func TestModerationState_DisabledMeansNobodyIsMuted(t *testing.T) {
	m := newModerationState()
	carol := &Participant{EndpointID: "carol", Jid: "carol@example.com"}
	assert.False(t, m.enabled(sourcemodel.MediaAudio))
	assert.False(t, m.exempt(carol, sourcemodel.MediaAudio))
}
