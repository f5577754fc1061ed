package conference

import "github.com/meetfocus/focus/internal/sourcemodel"

// moderationState holds the per-room A/V moderation booleans and the
// per-media-type whitelist of jids exempt from moderation (spec.md §4.G
// "moderation"). Always accessed with the owning Session's lock held.
type moderationState struct {
	audioOn bool
	videoOn bool

	audioWhitelist map[string]bool
	videoWhitelist map[string]bool
}

func newModerationState() *moderationState {
	return &moderationState{
		audioWhitelist: make(map[string]bool),
		videoWhitelist: make(map[string]bool),
	}
}

func (m *moderationState) enabled(mt sourcemodel.MediaType) bool {
	if mt == sourcemodel.MediaAudio {
		return m.audioOn
	}
	return m.videoOn
}

func (m *moderationState) setEnabled(mt sourcemodel.MediaType, enabled bool) {
	if mt == sourcemodel.MediaAudio {
		m.audioOn = enabled
	} else {
		m.videoOn = enabled
	}
}

func (m *moderationState) whitelisted(mt sourcemodel.MediaType, jid string) bool {
	if mt == sourcemodel.MediaAudio {
		return m.audioWhitelist[jid]
	}
	return m.videoWhitelist[jid]
}

func (m *moderationState) setWhitelisted(mt sourcemodel.MediaType, jid string, exempt bool) {
	var set map[string]bool
	if mt == sourcemodel.MediaAudio {
		set = m.audioWhitelist
	} else {
		set = m.videoWhitelist
	}
	if exempt {
		set[jid] = true
	} else {
		delete(set, jid)
	}
}

// exempt reports whether p must never be auto-muted for mt: moderators and
// whitelisted jids are exempt (spec.md §4.G "every non-moderator not on the
// whitelist is muted").
func (m *moderationState) exempt(p *Participant, mt sourcemodel.MediaType) bool {
	return p.IsModerator || m.whitelisted(mt, p.Jid)
}
