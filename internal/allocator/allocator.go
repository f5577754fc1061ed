package allocator

import (
	"context"
	"sync/atomic"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/colibri"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// ModerationChecker reports whether a participant must be muted for a
// media type on join, per room moderation state (spec.md §4.F step 8).
type ModerationChecker interface {
	ShouldMuteOnJoin(participantID string, mt sourcemodel.MediaType) bool
}

// Allocator wraps the full invite/re-invite handshake for one participant as
// a cancellable task (spec.md §4.F).
type Allocator struct {
	ParticipantID     string
	ParticipantRegion string
	BridgeVersion     string
	ReInvite          bool
	StripSimulcast    bool

	features   FeatureDiscoverer
	manager    *colibri.Manager
	sources    *sourcemodel.ConferenceSourceMap
	signaling  Signaling
	moderation ModerationChecker

	cancelled atomic.Bool
	allocated atomic.Bool

	// MutedOnJoin is populated by Run with the media types the conference
	// must mute for this participant once the invite succeeds (spec.md
	// §4.F step 8); muting itself is the conference's moderation state to
	// apply, not the allocator's.
	MutedOnJoin []sourcemodel.MediaType
}

// New builds an Allocator for one participant's invite/re-invite.
func New(participantID, participantRegion, bridgeVersion string, reInvite, stripSimulcast bool,
	features FeatureDiscoverer, manager *colibri.Manager, sources *sourcemodel.ConferenceSourceMap,
	signaling Signaling, moderation ModerationChecker) *Allocator {
	return &Allocator{
		ParticipantID:     participantID,
		ParticipantRegion: participantRegion,
		BridgeVersion:     bridgeVersion,
		ReInvite:          reInvite,
		StripSimulcast:    stripSimulcast,
		features:          features,
		manager:           manager,
		sources:           sources,
		signaling:         signaling,
		moderation:        moderation,
	}
}

// Cancel raises a flag checked between steps; if channels were already
// allocated, they are expired (spec.md §4.F cancel()).
func (a *Allocator) Cancel(ctx context.Context) {
	a.cancelled.Store(true)
	if a.allocated.Load() {
		a.manager.RemoveParticipants(ctx, []string{a.ParticipantID})
	}
}

func (a *Allocator) checkCancelled() error {
	if a.cancelled.Load() {
		return apperror.New(apperror.KindBadRequest, "allocation cancelled")
	}
	return nil
}

// Run executes the full handshake: discover features, build an offer,
// allocate channels, decorate the offer with transport, fold in other
// participants' sources, add JVB feedback sources, and send the
// session-initiate/transport-replace stanza.
func (a *Allocator) Run(ctx context.Context) error {
	if err := a.checkCancelled(); err != nil {
		return err
	}
	features, err := a.features.DiscoverFeatures(ctx, a.ParticipantID)
	if err != nil {
		return err
	}

	if err := a.checkCancelled(); err != nil {
		return err
	}
	contents := buildEmptyOffer(features)

	if err := a.checkCancelled(); err != nil {
		return err
	}
	result, err := a.manager.Allocate(ctx, a.ParticipantID, a.ParticipantRegion, contents, a.BridgeVersion)
	if err != nil {
		return err
	}
	a.allocated.Store(true)

	if err := a.checkCancelled(); err != nil {
		a.manager.RemoveParticipants(ctx, []string{a.ParticipantID})
		return err
	}

	offer := Offer{
		Contents: result.Contents,
		Transport: Transport{
			IceUfrag:        result.Transport.IceUfrag,
			IcePwd:          result.Transport.IcePwd,
			Candidates:      result.Transport.Candidates,
			DtlsFingerprint: result.Transport.DtlsFingerprint,
			DtlsHashFunc:    result.Transport.DtlsHashFunc,
			IceRtcpMux:      result.Transport.IceRtcpMux,
		},
	}
	if features.SupportsDataChannel {
		offer.Transport.Sctp = dataChannelSctp()
	}

	if err := a.checkCancelled(); err != nil {
		a.manager.RemoveParticipants(ctx, []string{a.ParticipantID})
		return err
	}
	offer.Contents = appendOtherSources(offer.Contents, a.sources, a.ParticipantID, features, a.StripSimulcast)
	offer.Contents = appendJvbFeedback(offer.Contents)

	var sendErr error
	if a.ReInvite {
		sendErr = a.signaling.SendTransportReplace(ctx, a.ParticipantID, offer)
	} else {
		sendErr = a.signaling.SendSessionInitiate(ctx, a.ParticipantID, offer)
	}
	if sendErr != nil {
		return apperror.Wrap(apperror.KindBridgeFailed, "invite failed", sendErr)
	}

	if a.moderation != nil {
		for _, mt := range []sourcemodel.MediaType{sourcemodel.MediaAudio, sourcemodel.MediaVideo} {
			if a.moderation.ShouldMuteOnJoin(a.ParticipantID, mt) {
				a.MutedOnJoin = append(a.MutedOnJoin, mt)
			}
		}
	}
	return nil
}

func buildEmptyOffer(f Features) []sourcemodel.Content {
	var contents []sourcemodel.Content
	if !f.VideoOnly {
		contents = append(contents, sourcemodel.Content{MediaType: sourcemodel.MediaAudio})
	}
	if !f.AudioOnly {
		contents = append(contents, sourcemodel.Content{MediaType: sourcemodel.MediaVideo})
	}
	return contents
}

// appendOtherSources folds every other participant's sources into the
// offer, stripped of the inviting participant's own entries, filtered to
// the media types the participant supports, and simulcast-stripped per
// configuration (spec.md §4.F step 5).
func appendOtherSources(contents []sourcemodel.Content, sources *sourcemodel.ConferenceSourceMap, selfID string, f Features, stripSimulcast bool) []sourcemodel.Content {
	if sources == nil {
		return contents
	}
	byMedia := make(map[sourcemodel.MediaType][]sourcemodel.Source)
	byMediaGroups := make(map[sourcemodel.MediaType][]sourcemodel.SsrcGroup)

	for owner, set := range sources.Snapshot() {
		if owner == selfID {
			continue
		}
		view := set
		if stripSimulcast {
			stripped, err := view.StripSimulcast()
			if err == nil {
				view = stripped
			}
		}
		if f.AudioOnly {
			view = view.FilterMediaType(sourcemodel.MediaAudio)
		}
		if f.VideoOnly {
			view = view.FilterMediaType(sourcemodel.MediaVideo)
		}
		for _, s := range view.SortedSources() {
			byMedia[s.MediaType] = append(byMedia[s.MediaType], s)
		}
		for _, g := range view.SortedGroups() {
			byMediaGroups[g.MediaType] = append(byMediaGroups[g.MediaType], g)
		}
	}

	for i := range contents {
		mt := contents[i].MediaType
		contents[i].Sources = append(contents[i].Sources, byMedia[mt]...)
		contents[i].SsrcGroups = append(contents[i].SsrcGroups, byMediaGroups[mt]...)
	}
	return contents
}

// appendJvbFeedback adds the bridge-owned feedback sources with the
// deterministic jvb-a0/jvb-v0 naming (spec.md §4.F step 6).
func appendJvbFeedback(contents []sourcemodel.Content) []sourcemodel.Content {
	feedback := jvbFeedbackSources()
	for i := range contents {
		for _, s := range feedback {
			if s.MediaType == contents[i].MediaType {
				contents[i].Sources = append(contents[i].Sources, s)
			}
		}
	}
	return contents
}
