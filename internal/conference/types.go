// Package conference implements ConferenceSession, the per-room state
// machine that admits members, drives role assignment and A/V moderation,
// runs the source-signaling diff engine, and re-invites participants when
// the bridge layer reports a failure (spec.md §3 "Conference"/"Participant",
// §4.G).
package conference

import (
	"time"

	"github.com/meetfocus/focus/internal/sourcemodel"
)

// State is one of ConferenceSession's four lifecycle states (spec.md §4.G).
type State string

const (
	StateJoining  State = "joining"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateDisposed State = "disposed"
)

// Participant mirrors spec.md §3's Participant entity. BridgeID and
// ColibriChannels are populated once the allocator's invite succeeds.
type Participant struct {
	EndpointID                 string
	Jid                        string
	Region                     string
	SupportedFeatures          []string
	SupportsSourceNames        bool
	SupportsJSONEncodedSources bool
	MutedAudio                 bool
	MutedVideo                 bool
	OfferSentAt                time.Time
	JoinedAt                   time.Time
	IsModerator                bool
	IsRobot                    bool
	BridgeID                   string
	RestartRequested           bool
}

// mediaMuted reports the mute flag for mt.
func (p *Participant) mediaMuted(mt sourcemodel.MediaType) bool {
	if mt == sourcemodel.MediaAudio {
		return p.MutedAudio
	}
	return p.MutedVideo
}

func (p *Participant) setMediaMuted(mt sourcemodel.MediaType, muted bool) {
	if mt == sourcemodel.MediaAudio {
		p.MutedAudio = muted
	} else {
		p.MutedVideo = muted
	}
}
