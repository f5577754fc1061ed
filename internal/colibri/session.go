// Package colibri implements the per-bridge resource allocation and
// multi-bridge relay mesh that sit between the bridge selector and a
// conference's participants.
package colibri

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/metrics"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// relaySourceOp queues a relay source add/remove until the relay participant
// is established on this bridge session.
type relaySourceOp struct {
	add     bool
	sources []sourcemodel.Source
}

// BridgeSession is the allocation of resources on one bridge for one
// conference: the set of real participants pinned there, plus the relay
// participant representing everyone on other bridges.
type BridgeSession struct {
	ConferenceID string
	Bridge       *bridge.Bridge
	SessionID    string

	mu              sync.RWMutex
	participants    map[string]struct{}
	relayEstablished bool
	relayIDs        []string
	pendingRelayOps []relaySourceOp
	hasFailed       bool

	client       bridge.Client
	bridgeAddr   string
}

// NewBridgeSession creates a BridgeSession with a fresh 24-bit hex session
// ID, used by clients to disambiguate stale ICE-failed reports against a
// prior allocation on the same bridge.
func NewBridgeSession(conferenceID string, b *bridge.Bridge, bridgeAddr string, client bridge.Client) (*BridgeSession, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating bridge session id: %w", err)
	}
	return &BridgeSession{
		ConferenceID: conferenceID,
		Bridge:       b,
		SessionID:    id,
		participants: make(map[string]struct{}),
		client:       client,
		bridgeAddr:   bridgeAddr,
	}, nil
}

func generateSessionID() (string, error) {
	buf := make([]byte, 3) // 24 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// AddParticipant pins participantID to this bridge session.
func (s *BridgeSession) AddParticipant(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[participantID] = struct{}{}
}

// Terminate removes one participant from this bridge session.
func (s *BridgeSession) Terminate(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, participantID)
}

// TerminateAll removes every real participant (the relay is excluded) and
// returns their IDs so the caller can notify/re-invite them.
func (s *BridgeSession) TerminateAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	s.participants = make(map[string]struct{})
	return ids
}

// ParticipantCount returns the number of real (non-relay) participants
// pinned to this bridge session.
func (s *BridgeSession) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// HasFailed reports the sticky faulty flag.
func (s *BridgeSession) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasFailed
}

// MarkFailed raises the sticky faulty flag.
func (s *BridgeSession) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasFailed = true
}

// UpdateParticipantChannels pushes a participant's RTP description, sources,
// and transport information to the bridge.
func (s *BridgeSession) UpdateParticipantChannels(ctx context.Context, participantID string, contents []sourcemodel.Content) error {
	return s.client.UpdateChannels(ctx, s.bridgeAddr, s.ConferenceID, participantID, contents)
}

// SetRelays updates the set of remote bridges the relay participant peers
// with. When two or more bridges are in use, the relay must exist on each
// before media can flow between them.
func (s *BridgeSession) SetRelays(ctx context.Context, relayIDs []string) error {
	if err := s.client.SetRelays(ctx, s.bridgeAddr, s.ConferenceID, relayIDs); err != nil {
		return err
	}

	s.mu.Lock()
	s.relayIDs = relayIDs
	establishedNow := len(relayIDs) >= 1 && !s.relayEstablished
	s.relayEstablished = len(relayIDs) >= 1
	var pending []relaySourceOp
	if establishedNow {
		pending = s.pendingRelayOps
		s.pendingRelayOps = nil
	}
	s.mu.Unlock()

	if !establishedNow {
		return nil
	}
	for _, op := range pending {
		if op.add {
			if err := s.client.UpdateChannels(ctx, s.bridgeAddr, s.ConferenceID, relayParticipantID, toContents(op.sources, true)); err != nil {
				logging.Warn(ctx, "failed to flush queued relay source add", zap.String("conference_id", s.ConferenceID), zap.Error(err))
			}
			continue
		}
		if err := s.client.UpdateChannels(ctx, s.bridgeAddr, s.ConferenceID, relayParticipantID, toContents(op.sources, false)); err != nil {
			logging.Warn(ctx, "failed to flush queued relay source remove", zap.String("conference_id", s.ConferenceID), zap.Error(err))
		}
	}
	return nil
}

const relayParticipantID = "__relay__"

// toContents wraps sources as a single video Content for relay propagation.
// add is currently unused by the wire shape but documents intent at call
// sites; removal semantics are carried by the caller issuing a subsequent
// removeSourcesFromRelay with the same sources.
func toContents(sources []sourcemodel.Source, add bool) []sourcemodel.Content {
	return []sourcemodel.Content{{MediaType: sourcemodel.MediaVideo, Sources: sources}}
}

// AddSourcesToRelay applies sources to the relay participant immediately if
// the relay is already established, otherwise queues them until SetRelays
// establishes it.
func (s *BridgeSession) AddSourcesToRelay(ctx context.Context, sources []sourcemodel.Source) error {
	s.mu.Lock()
	if !s.relayEstablished {
		s.pendingRelayOps = append(s.pendingRelayOps, relaySourceOp{add: true, sources: sources})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.client.UpdateChannels(ctx, s.bridgeAddr, s.ConferenceID, relayParticipantID, toContents(sources, true))
}

// RemoveSourcesFromRelay mirrors AddSourcesToRelay for removal.
func (s *BridgeSession) RemoveSourcesFromRelay(ctx context.Context, sources []sourcemodel.Source) error {
	s.mu.Lock()
	if !s.relayEstablished {
		s.pendingRelayOps = append(s.pendingRelayOps, relaySourceOp{add: false, sources: sources})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.client.UpdateChannels(ctx, s.bridgeAddr, s.ConferenceID, relayParticipantID, toContents(sources, false))
}

// Dispose tears down the bridge session. If faulty, the bridge is assumed
// unreachable: skip the expire round trip rather than block on a dead peer.
func (s *BridgeSession) Dispose(ctx context.Context, faulty bool) {
	if faulty {
		return
	}
	if err := s.client.Expire(ctx, s.bridgeAddr, s.ConferenceID); err != nil {
		logging.Warn(ctx, "failed to expire bridge session",
			zap.String("conference_id", s.ConferenceID), zap.String("bridge_id", s.Bridge.ID), zap.Error(err))
	}
}

// Allocate performs the one-shot allocation round trip for a participant.
// No retry against the same bridge: a failure here is handled by the
// caller's error-kind dispatch (spec.md §4.E allocation protocol).
func (s *BridgeSession) Allocate(ctx context.Context, req bridge.AllocateRequest) (*bridge.AllocateResponse, error) {
	start := time.Now()
	resp, err := s.client.Allocate(ctx, s.bridgeAddr, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind, ok := apperror.KindOf(err); ok {
			outcome = string(kind)
		}
	}
	metrics.AllocationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	s.AddParticipant(req.ParticipantID)
	return resp, nil
}
