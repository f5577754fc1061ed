package colibri

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// BridgeAddr resolves a bridge ID to its dialable RPC address.
type BridgeAddr func(bridgeID string) (string, bool)

// AllocationResult is what Manager.Allocate returns on success: the
// bridge-assigned sources plus the transport the allocator decorates its
// offer with.
type AllocationResult struct {
	BridgeID  string
	SessionID string
	Contents  []sourcemodel.Content
	Transport bridge.TransportInfo
}

// Manager aggregates the BridgeSessions for a single conference: it owns
// fan-out updates and octo-relay mesh maintenance (spec.md §4.E).
type Manager struct {
	conferenceID string
	registry     *bridge.Registry
	selector     bridge.Selector
	client       bridge.Client
	resolve      BridgeAddr

	mu       sync.RWMutex
	sessions map[string]*BridgeSession // bridge ID -> session
	owner    map[string]string         // participant ID -> bridge ID
}

// NewManager builds a Manager for one conference.
func NewManager(conferenceID string, registry *bridge.Registry, selector bridge.Selector, client bridge.Client, resolve BridgeAddr) *Manager {
	return &Manager{
		conferenceID: conferenceID,
		registry:     registry,
		selector:     selector,
		client:       client,
		resolve:      resolve,
		sessions:     make(map[string]*BridgeSession),
		owner:        make(map[string]string),
	}
}

// conferenceBridgesLocked returns the bridge->participantCount map the
// selector needs, built from the sessions currently in use.
func (m *Manager) conferenceBridgesLocked() map[*bridge.Bridge]int {
	out := make(map[*bridge.Bridge]int, len(m.sessions))
	for _, s := range m.sessions {
		out[s.Bridge] = s.ParticipantCount()
	}
	return out
}

// getOrCreateSession returns the BridgeSession for b, creating one (and its
// RPC client binding) on first use.
func (m *Manager) getOrCreateSession(b *bridge.Bridge) (*BridgeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[b.ID]; ok {
		return s, nil
	}
	addr, ok := m.resolve(b.ID)
	if !ok {
		return nil, apperror.Newf(apperror.KindBridgeSelectionFailed, "cannot resolve address for bridge %s", b.ID)
	}
	session, err := NewBridgeSession(m.conferenceID, b, addr, m.client)
	if err != nil {
		return nil, err
	}
	m.sessions[b.ID] = session
	return session, nil
}

// Allocate runs the allocation protocol (spec.md §4.E) for one participant:
// select a bridge, get-or-create its session, send the one-shot allocate
// request, and interpret the result.
func (m *Manager) Allocate(ctx context.Context, participantID, participantRegion string, contents []sourcemodel.Content, version string) (*AllocationResult, error) {
	m.mu.RLock()
	conferenceBridges := m.conferenceBridgesLocked()
	m.mu.RUnlock()

	b := m.selector.SelectBridge(conferenceBridges, participantRegion, version)
	if b == nil {
		return nil, apperror.New(apperror.KindBridgeSelectionFailed, "no bridge available for participant")
	}

	session, err := m.getOrCreateSession(b)
	if err != nil {
		return nil, err
	}

	resp, err := session.Allocate(ctx, bridge.AllocateRequest{
		ConferenceID:  m.conferenceID,
		ParticipantID: participantID,
		Contents:      contents,
	})
	if err != nil {
		return m.handleAllocationError(ctx, session, err)
	}

	m.mu.Lock()
	m.owner[participantID] = b.ID
	m.mu.Unlock()

	m.recomputeRelayMesh(ctx)

	return &AllocationResult{BridgeID: b.ID, SessionID: resp.SessionID, Contents: resp.Contents, Transport: resp.Transport}, nil
}

// handleAllocationError implements the per-error-kind dispatch of §4.E step
// protocol 4-6: conference-not-found triggers a re-invite (not a faulty
// bridge); bad-request fails without marking the bridge faulty or retrying;
// anything else marks the bridge (and session) faulty and asks the caller to
// re-invite on a different bridge.
func (m *Manager) handleAllocationError(ctx context.Context, session *BridgeSession, cause error) (*AllocationResult, error) {
	kind, _ := apperror.KindOf(cause)
	switch kind {
	case apperror.KindConferenceNotFound:
		return nil, apperror.Wrap(apperror.KindColibriConfExpired, "bridge forgot the conference", cause).WithRestart()
	case apperror.KindBadRequest:
		return nil, cause
	default:
		session.MarkFailed()
		m.registry.MarkFailed(session.Bridge.ID)
		logging.Warn(ctx, "bridge allocation failed, marking bridge faulty",
			zap.String("conference_id", m.conferenceID), zap.String("bridge_id", session.Bridge.ID), zap.Error(cause))
		return nil, apperror.Wrap(apperror.KindBridgeFailed, "bridge allocation failed", cause).WithRestart()
	}
}

// AddSources pushes a participant's own sources to its bridge and
// propagates them as relay sources to every other bridge session.
func (m *Manager) AddSources(ctx context.Context, participantID string, set *sourcemodel.EndpointSourceSet) error {
	ownerBridge, session, err := m.sessionFor(participantID)
	if err != nil {
		return err
	}
	contents := sourcemodel.Encode(set, participantID)
	if err := session.UpdateParticipantChannels(ctx, participantID, contents); err != nil {
		return err
	}
	m.fanOutRelaySources(ctx, ownerBridge, set.SortedSources(), true)
	return nil
}

// RemoveSources mirrors AddSources for source removal.
func (m *Manager) RemoveSources(ctx context.Context, participantID string, set *sourcemodel.EndpointSourceSet) error {
	ownerBridge, session, err := m.sessionFor(participantID)
	if err != nil {
		return err
	}
	contents := sourcemodel.Encode(set, participantID)
	if err := session.UpdateParticipantChannels(ctx, participantID, contents); err != nil {
		return err
	}
	m.fanOutRelaySources(ctx, ownerBridge, set.SortedSources(), false)
	return nil
}

func (m *Manager) fanOutRelaySources(ctx context.Context, ownerBridge string, sources []sourcemodel.Source, add bool) {
	m.mu.RLock()
	targets := make([]*BridgeSession, 0, len(m.sessions))
	for id, s := range m.sessions {
		if id == ownerBridge {
			continue
		}
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		var err error
		if add {
			err = s.AddSourcesToRelay(ctx, sources)
		} else {
			err = s.RemoveSourcesFromRelay(ctx, sources)
		}
		if err != nil {
			logging.Warn(ctx, "failed to propagate relay sources",
				zap.String("conference_id", m.conferenceID), zap.String("bridge_id", s.Bridge.ID), zap.Error(err))
		}
	}
}

// UpdateTransport and UpdateChannels both push a participant's current
// channel description to its bridge; the wire protocol (§6) does not
// distinguish transport-only updates from full channel updates once the
// content list is resolved by the caller.
func (m *Manager) UpdateTransport(ctx context.Context, participantID string, contents []sourcemodel.Content) error {
	_, session, err := m.sessionFor(participantID)
	if err != nil {
		return err
	}
	return session.UpdateParticipantChannels(ctx, participantID, contents)
}

func (m *Manager) UpdateChannels(ctx context.Context, participantID string, contents []sourcemodel.Content) error {
	_, session, err := m.sessionFor(participantID)
	if err != nil {
		return err
	}
	return session.UpdateParticipantChannels(ctx, participantID, contents)
}

func (m *Manager) SetRtpDescriptionMap(ctx context.Context, participantID string, contents []sourcemodel.Content) error {
	_, session, err := m.sessionFor(participantID)
	if err != nil {
		return err
	}
	return session.UpdateParticipantChannels(ctx, participantID, contents)
}

func (m *Manager) sessionFor(participantID string) (string, *BridgeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bridgeID, ok := m.owner[participantID]
	if !ok {
		return "", nil, apperror.New(apperror.KindItemNotFound, "participant has no bridge session")
	}
	session, ok := m.sessions[bridgeID]
	if !ok {
		return "", nil, apperror.New(apperror.KindItemNotFound, "no bridge session for participant's bridge")
	}
	return bridgeID, session, nil
}

// BridgeFor reports which bridge ID participantID is currently allocated
// on, if any.
func (m *Manager) BridgeFor(participantID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bridgeID, ok := m.owner[participantID]
	return bridgeID, ok
}

// RemoveParticipants removes a batch of participants atomically across
// bridge sessions, then expires any bridge session left with no real
// participants.
func (m *Manager) RemoveParticipants(ctx context.Context, participantIDs []string) {
	m.mu.Lock()
	touched := make(map[string]*BridgeSession)
	for _, id := range participantIDs {
		bridgeID, ok := m.owner[id]
		if !ok {
			continue
		}
		delete(m.owner, id)
		if s, ok := m.sessions[bridgeID]; ok {
			s.Terminate(id)
			touched[bridgeID] = s
		}
	}
	var emptied []string
	for bridgeID, s := range touched {
		if s.ParticipantCount() == 0 {
			emptied = append(emptied, bridgeID)
			delete(m.sessions, bridgeID)
		}
	}
	m.mu.Unlock()

	for _, bridgeID := range emptied {
		if s, ok := touched[bridgeID]; ok {
			s.Dispose(ctx, s.HasFailed())
		}
	}
	if len(emptied) > 0 {
		m.recomputeRelayMesh(ctx)
	}
}

// BridgesDown marks the given bridges failed and returns the participants
// that need re-invitation as a result (spec.md §4.E).
func (m *Manager) BridgesDown(ctx context.Context, bridgeIDs map[string]bool) []string {
	m.mu.Lock()
	var affected []string
	for bridgeID := range bridgeIDs {
		s, ok := m.sessions[bridgeID]
		if !ok {
			continue
		}
		s.MarkFailed()
		m.registry.MarkFailed(bridgeID)
		for participantID, owner := range m.owner {
			if owner == bridgeID {
				affected = append(affected, participantID)
			}
		}
		delete(m.sessions, bridgeID)
	}
	m.mu.Unlock()

	m.recomputeRelayMesh(ctx)
	return affected
}

// recomputeRelayMesh recomputes each bridge session's relay list as the set
// of this conference's other bridge sessions and pushes it via SetRelays
// (spec.md §4.E relay mesh maintenance). Relays are torn down (empty list)
// once fewer than two bridges remain in use.
func (m *Manager) recomputeRelayMesh(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	sessions := make(map[string]*BridgeSession, len(m.sessions))
	for id, s := range m.sessions {
		ids = append(ids, id)
		sessions[id] = s
	}
	m.mu.RUnlock()

	for id, s := range sessions {
		var relays []string
		if len(ids) >= 2 {
			for _, other := range ids {
				if other != id {
					relays = append(relays, other)
				}
			}
		}
		if err := s.SetRelays(ctx, relays); err != nil {
			logging.Warn(ctx, "failed to update relay mesh",
				zap.String("conference_id", m.conferenceID), zap.String("bridge_id", id), zap.Error(err))
		}
	}
}
