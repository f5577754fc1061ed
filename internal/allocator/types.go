// Package allocator implements the per-participant invite/re-invite
// handshake: a cancellable task that allocates bridge resources and builds
// the SDP-shaped offer the client is sent.
package allocator

import (
	"context"

	"github.com/meetfocus/focus/internal/sourcemodel"
)

// Features is what feature discovery returns for a participant: capability
// flags that gate media-type filtering and the data-channel content when the
// offer is built. SupportsSimulcast is carried but not read by the allocator;
// simulcast stripping is controlled by the stripSimulcast setting.
type Features struct {
	AudioOnly          bool
	VideoOnly          bool
	SupportsSimulcast  bool
	SupportsDataChannel bool
}

// FeatureDiscoverer resolves a participant's negotiated capabilities.
type FeatureDiscoverer interface {
	DiscoverFeatures(ctx context.Context, participantID string) (Features, error)
}

// Transport is the bridge-side ICE/DTLS transport decorating an offer.
type Transport struct {
	IceUfrag        string
	IcePwd          string
	Candidates      []string
	DtlsFingerprint string
	DtlsHashFunc    string
	IceRtcpMux      bool
	Sctp            *SctpMap
}

// SctpMap describes the WebRTC data channel transport, when the participant
// supports one (spec.md §4.F step 4).
type SctpMap struct {
	Port     int
	Protocol string
	Streams  int
}

// dataChannelSctp is the deterministic SCTP description every data-channel
// offer carries.
func dataChannelSctp() *SctpMap {
	return &SctpMap{Port: 5000, Protocol: "WebRtcChannel", Streams: 1024}
}

// jvbFeedbackSources returns the JVB-owned feedback sources with the
// deterministic naming spec.md §4.F step 6 requires.
func jvbFeedbackSources() []sourcemodel.Source {
	return []sourcemodel.Source{
		{SSRC: jvbAudioFeedbackSSRC, MediaType: sourcemodel.MediaAudio, Name: "jvb-a0"},
		{SSRC: jvbVideoFeedbackSSRC, MediaType: sourcemodel.MediaVideo, Name: "jvb-v0"},
	}
}

// Fixed, well-known ssrcs for the bridge's own feedback sources. These never
// collide with client-allocated ssrcs because real clients never choose
// ssrc 1/2 (randomly generated ssrcs are effectively never this low).
const (
	jvbAudioFeedbackSSRC uint32 = 1
	jvbVideoFeedbackSSRC uint32 = 2
)

// Offer is the media description sent to a participant: per-media contents
// (with all other participants' sources folded in) plus bridge transport.
type Offer struct {
	Contents  []sourcemodel.Content
	Transport Transport
}
