package conference

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/allocator"
	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/colibri"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/metrics"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// maxInviteAttempts bounds the number of bridges a single invite will try
// before giving up and leaving the participant uninvited (spec.md §4.E:
// bridge-failed "triggers... re-invite on a different bridge", which the
// selector's own failed-bridge bookkeeping makes possible without the
// caller tracking exclusions itself).
const maxInviteAttempts = 2

// Session is the per-room state machine (spec.md §4.G). One instance exists
// per conference for its entire lifetime.
type Session struct {
	RoomID    string
	MeetingID string

	mu        sync.Mutex
	state     State
	members   map[string]*Participant
	joinOrder []string

	sources *sourcemodel.ConferenceSourceMap
	colibri *colibri.Manager

	rolePolicy RolePolicy
	moderation *moderationState
	diff       *diffEngine

	features  allocator.FeatureDiscoverer
	signaling allocator.Signaling

	stripSimulcast  bool
	startMutedAudio bool
	startMutedVideo bool

	lingerDuration time.Duration
	lingerTimer    *time.Timer

	onDispose func(roomID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config bundles the knobs NewSession needs beyond its collaborator
// objects, mirroring internal/config.Config's conference-timing fields.
type Config struct {
	LingerDuration  time.Duration
	StripSimulcast  bool
	StartMutedAudio bool
	StartMutedVideo bool
}

// NewSession builds a ConferenceSession in the joining state. colibriMgr and
// sources are dedicated to this conference; rolePolicy, features, and
// signaling are the pluggable/external collaborators passed explicitly per
// spec.md §9's "services struct, not module-level singletons" design note.
func NewSession(roomID, meetingID string, cfg Config, colibriMgr *colibri.Manager, sources *sourcemodel.ConferenceSourceMap,
	rolePolicy RolePolicy, features allocator.FeatureDiscoverer, signaling allocator.Signaling, onDispose func(string)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		RoomID:          roomID,
		MeetingID:       meetingID,
		state:           StateJoining,
		members:         make(map[string]*Participant),
		sources:         sources,
		colibri:         colibriMgr,
		rolePolicy:      rolePolicy,
		moderation:      newModerationState(),
		diff:            newDiffEngine(),
		features:        features,
		signaling:       signaling,
		stripSimulcast:  cfg.StripSimulcast,
		startMutedAudio: cfg.StartMutedAudio,
		startMutedVideo: cfg.StartMutedVideo,
		lingerDuration:  cfg.LingerDuration,
		onDispose:       onDispose,
		ctx:             ctx,
		cancel:          cancel,
	}
	metrics.ActiveConferences.Inc()
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of every current member, ordered by join time.
func (s *Session) Snapshot() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		if p, ok := s.members[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Join admits a new participant: folds it into the member table, applies
// role assignment, and fires its allocate-and-invite task asynchronously
// (spec.md §4.G "membership"). Rejected once the conference is draining or
// disposed.
func (s *Session) Join(p *Participant) error {
	s.mu.Lock()
	if s.state == StateDraining || s.state == StateDisposed {
		s.mu.Unlock()
		return apperror.New(apperror.KindServiceUnavailable, "conference is shutting down")
	}
	if _, exists := s.members[p.EndpointID]; exists {
		s.mu.Unlock()
		return apperror.Newf(apperror.KindBadRequest, "participant %s already joined", p.EndpointID)
	}

	p.JoinedAt = time.Now()
	p.MutedAudio = s.startMutedAudio
	p.MutedVideo = s.startMutedVideo
	s.members[p.EndpointID] = p
	s.joinOrder = append(s.joinOrder, p.EndpointID)
	s.rolePolicy.OnJoin(s.members, s.joinOrder, p)

	if s.state == StateJoining {
		s.state = StateRunning
	}
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
		s.lingerTimer = nil
	}
	s.mu.Unlock()

	metrics.ConferenceParticipants.WithLabelValues(s.RoomID).Set(float64(s.memberCount()))
	s.launchInvite(p, false)
	return nil
}

// Leave removes a participant, re-elects an owner if needed, tears down its
// bridge-side resources, and either disposes the conference immediately
// (already draining) or starts the linger timer (spec.md §3 "destroyed when
// the last human member leaves (after a configurable linger)").
func (s *Session) Leave(ctx context.Context, endpointID string) error {
	s.mu.Lock()
	p, ok := s.members[endpointID]
	if !ok {
		s.mu.Unlock()
		return apperror.Newf(apperror.KindItemNotFound, "participant %s is not a member", endpointID)
	}
	delete(s.members, endpointID)
	s.joinOrder = removeID(s.joinOrder, endpointID)
	s.rolePolicy.OnLeave(s.members, s.joinOrder, p)
	realLeft := s.realParticipantCountLocked()
	draining := s.state == StateDraining
	s.mu.Unlock()

	s.colibri.RemoveParticipants(ctx, []string{endpointID})
	s.dropOwnerSources(ctx, endpointID)

	metrics.ConferenceParticipants.WithLabelValues(s.RoomID).Set(float64(s.memberCount()))

	if realLeft == 0 {
		if draining {
			s.Dispose()
		} else {
			s.startLinger()
		}
	}
	return nil
}

// dropOwnerSources removes every source the departed owner advertised,
// pushing the change out through the diff engine to remaining participants.
func (s *Session) dropOwnerSources(ctx context.Context, ownerID string) {
	owned := s.sources.Get(ownerID)
	if owned.IsEmpty() {
		return
	}
	if err := s.sources.TryToRemove(ownerID, owned); err != nil {
		logging.Warn(ctx, "failed to remove departed participant's sources", zap.String("owner", ownerID), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.diff.QueueRemove(ownerID, owned)
	s.mu.Unlock()
}

func (s *Session) startLinger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return
	}
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
	}
	s.lingerTimer = time.AfterFunc(s.lingerDuration, func() {
		if s.realParticipantCount() == 0 {
			s.Dispose()
		}
	})
}

// Dispose transitions the conference to disposed, cancels all in-flight
// invite tasks, and waits for them to unwind.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisposed
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
		s.lingerTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	metrics.ActiveConferences.Dec()
	metrics.ConferenceParticipants.DeleteLabelValues(s.RoomID)
	if s.onDispose != nil {
		s.onDispose(s.RoomID)
	}
}

// TriggerGracefulShutdown moves a running conference into the draining
// state: no new joins are admitted, but existing members finish naturally
// (spec.md §4.G state diagram).
func (s *Session) TriggerGracefulShutdown() {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateJoining {
		s.state = StateDraining
	}
	empty := s.realParticipantCountLocked() == 0
	s.mu.Unlock()
	if empty {
		s.Dispose()
	}
}

// BridgesDown reports a set of failed bridges to the conference's colibri
// manager and re-invites every affected participant on a different bridge
// (spec.md §4.G "bridge-down").
func (s *Session) BridgesDown(bridgeIDs map[string]bool) {
	affected := s.colibri.BridgesDown(s.ctx, bridgeIDs)

	s.mu.Lock()
	participants := make([]*Participant, 0, len(affected))
	for _, id := range affected {
		if p, ok := s.members[id]; ok {
			p.RestartRequested = true
			participants = append(participants, p)
		}
	}
	s.mu.Unlock()

	for _, p := range participants {
		s.launchInvite(p, true)
	}
}

// Authenticate marks endpointID's identity as confirmed, letting the role
// policy react (the authenticated policy grants ownership here; the
// auto-owner policy ignores it).
func (s *Session) Authenticate(endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.members[endpointID]
	if !ok {
		return apperror.Newf(apperror.KindItemNotFound, "participant %s is not a member", endpointID)
	}
	s.rolePolicy.OnAuthenticated(s.members, p)
	return nil
}

// Mute applies spec.md §4.G's muting rules: muting another participant
// requires moderator rights; un-muting another participant is never
// allowed; self-unmute is governed by the moderation state.
func (s *Session) Mute(requesterID, targetID string, mt sourcemodel.MediaType, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requester, ok := s.members[requesterID]
	if !ok {
		return apperror.Newf(apperror.KindItemNotFound, "requester %s is not a member", requesterID)
	}
	target, ok := s.members[targetID]
	if !ok {
		return apperror.Newf(apperror.KindItemNotFound, "target %s is not a member", targetID)
	}

	if targetID != requesterID {
		if !muted {
			return apperror.New(apperror.KindForbidden, "un-muting another participant is never allowed")
		}
		if !requester.IsModerator {
			return apperror.New(apperror.KindForbidden, "only a moderator may mute another participant")
		}
		target.setMediaMuted(mt, true)
		return nil
	}

	if !muted {
		if s.moderation.enabled(mt) && !s.moderation.exempt(requester, mt) {
			return apperror.New(apperror.KindForbidden, "self-unmute is disabled while moderation is active")
		}
	}
	target.setMediaMuted(mt, muted)
	return nil
}

// AcceptWorkerRequest implements spec.md §4.G's accept-jibri-request /
// accept-jigasi-request operation: an external dial-out/recording/streaming
// request is authorized only if its initiator is a member of this
// conference and is either a moderator or on a configured trusted domain
// (isTrustedDomain, evaluated against the member's jid).
func (s *Session) AcceptWorkerRequest(initiatorID string, isTrustedDomain func(jid string) bool) error {
	s.mu.Lock()
	requester, ok := s.members[initiatorID]
	s.mu.Unlock()
	if !ok {
		return apperror.Newf(apperror.KindNotAuthorized, "initiator %s is not a member of this conference", initiatorID)
	}
	if requester.IsModerator {
		return nil
	}
	if isTrustedDomain != nil && isTrustedDomain(requester.Jid) {
		return nil
	}
	return apperror.Newf(apperror.KindNotAuthorized, "initiator %s is neither a moderator nor on a trusted domain", initiatorID)
}

// SetModeration flips the room-wide moderation flag for mt. Transitioning
// false->true mutes every non-moderator not on the whitelist and returns
// their endpoint IDs so the caller can notify them (spec.md §4.G
// "moderation").
func (s *Session) SetModeration(mt sourcemodel.MediaType, enabled bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.moderation.enabled(mt)
	s.moderation.setEnabled(mt, enabled)
	if was || !enabled {
		return nil
	}

	var mutedIDs []string
	for _, id := range s.joinOrder {
		p, ok := s.members[id]
		if !ok || s.moderation.exempt(p, mt) || p.mediaMuted(mt) {
			continue
		}
		p.setMediaMuted(mt, true)
		mutedIDs = append(mutedIDs, id)
	}
	return mutedIDs
}

// SetModerationWhitelist exempts (or un-exempts) jid from moderation for mt.
func (s *Session) SetModerationWhitelist(mt sourcemodel.MediaType, jid string, exempt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderation.setWhitelisted(mt, jid, exempt)
}

// AddSources validates and applies ownerID's new sources, pushes them to
// its bridge and the relay mesh, and stages the change in the diff engine
// for other participants (spec.md §4.E "addSources").
func (s *Session) AddSources(ctx context.Context, ownerID string, contents []sourcemodel.Content) error {
	set, err := sourcemodel.Parse(contents)
	if err != nil {
		return err
	}
	if err := s.sources.TryToAdd(ownerID, set); err != nil {
		return err
	}
	if err := s.colibri.AddSources(ctx, ownerID, set); err != nil {
		return err
	}
	s.mu.Lock()
	s.diff.QueueAdd(ownerID, set)
	s.mu.Unlock()
	return nil
}

// RemoveSources mirrors AddSources for source removal.
func (s *Session) RemoveSources(ctx context.Context, ownerID string, contents []sourcemodel.Content) error {
	set, err := sourcemodel.Parse(contents)
	if err != nil {
		return err
	}
	if err := s.sources.TryToRemove(ownerID, set); err != nil {
		return err
	}
	if err := s.colibri.RemoveSources(ctx, ownerID, set); err != nil {
		return err
	}
	s.mu.Lock()
	s.diff.QueueRemove(ownerID, set)
	s.mu.Unlock()
	return nil
}

// FlushSourceDiff returns and clears the coalesced pending add/remove batch
// for ownerID, for the external transport to relay to peers.
func (s *Session) FlushSourceDiff(ownerID string) (add, remove *sourcemodel.EndpointSourceSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diff.Flush(ownerID)
}

func (s *Session) memberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *Session) realParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realParticipantCountLocked()
}

func (s *Session) realParticipantCountLocked() int {
	count := 0
	for _, p := range s.members {
		if !p.IsRobot {
			count++
		}
	}
	return count
}

// launchInvite runs a participant's allocate-and-invite handshake on the
// I/O pool (spec.md §5: "request handlers ... may offload long operations
// ... to the I/O pool").
func (s *Session) launchInvite(p *Participant, reInvite bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runInvite(p, reInvite, 0)
	}()
}

func (s *Session) runInvite(p *Participant, reInvite bool, attempt int) {
	a := allocator.New(p.EndpointID, p.Region, "", reInvite, s.stripSimulcast,
		s.features, s.colibri, s.sources, s.signaling, moderationChecker{s})

	err := a.Run(s.ctx)
	if err != nil {
		if kind, ok := apperror.KindOf(err); ok && (kind == apperror.KindBridgeFailed || kind == apperror.KindColibriConfExpired) && attempt+1 < maxInviteAttempts {
			logging.Warn(s.ctx, "invite failed, retrying on a different bridge",
				zap.String("room_id", s.RoomID), zap.String("participant_id", p.EndpointID), zap.Error(err))
			s.runInvite(p, true, attempt+1)
			return
		}
		logging.Error(s.ctx, "invite failed",
			zap.String("room_id", s.RoomID), zap.String("participant_id", p.EndpointID), zap.Error(err))
		return
	}

	s.mu.Lock()
	p.OfferSentAt = time.Now()
	s.mu.Unlock()
	if bridgeID, ok := s.colibri.BridgeFor(p.EndpointID); ok {
		s.mu.Lock()
		p.BridgeID = bridgeID
		s.mu.Unlock()
	}
	for _, mt := range a.MutedOnJoin {
		s.mu.Lock()
		p.setMediaMuted(mt, true)
		s.mu.Unlock()
	}
}

// moderationChecker adapts Session to allocator.ModerationChecker (spec.md
// §4.F step 8: "if the room has A/V-moderation on ... mute them").
type moderationChecker struct{ s *Session }

func (c moderationChecker) ShouldMuteOnJoin(participantID string, mt sourcemodel.MediaType) bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.members[participantID]
	if !ok {
		return false
	}
	return c.s.moderation.enabled(mt) && !c.s.moderation.exempt(p, mt)
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
