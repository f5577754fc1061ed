// Package supervisor implements FocusSupervisor, the process-wide registry
// of ConferenceSessions (spec.md §4.I).
package supervisor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/allocator"
	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/colibri"
	"github.com/meetfocus/focus/internal/conference"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// Deps bundles the collaborators every new ConferenceSession needs. They're
// shared across the whole process and passed to each session explicitly
// (spec.md §9: "pass these explicitly via a services struct, not as
// module-level singletons").
type Deps struct {
	Registry        *bridge.Registry
	Selector        bridge.Selector
	BridgeClient    bridge.Client
	ResolveBridge   colibri.BridgeAddr
	Features        allocator.FeatureDiscoverer
	NewSignaling    func(roomID string) allocator.Signaling
	NewRolePolicy   func() conference.RolePolicy
	SessionConfig   conference.Config
	MaxSsrcsPerUser int
	MaxGroupsPerUser int
}

// Supervisor is the conference table keyed by room ID, matching
// `internal_teacher/v1/session/hub.go`'s Hub: a mutex-guarded map with
// atomic get-or-create and reference-counted cleanup, generalized from
// "one Room per room ID" to "one ConferenceSession per room ID".
type Supervisor struct {
	deps Deps

	mu          sync.Mutex
	conferences map[string]*conference.Session
	draining    bool
}

// New builds an empty Supervisor.
func New(deps Deps) *Supervisor {
	return &Supervisor{
		deps:        deps,
		conferences: make(map[string]*conference.Session),
	}
}

// GetOrCreate returns the existing session for roomID, or creates one.
// Creation is refused once graceful shutdown has been enabled (spec.md
// §4.I: "refuses creation of new conferences").
func (s *Supervisor) GetOrCreate(roomID, meetingID string) (*conference.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.conferences[roomID]; ok {
		return session, nil
	}
	if s.draining {
		return nil, apperror.New(apperror.KindServiceUnavailable, "focus is shutting down, no new conferences are accepted")
	}

	mgr := colibri.NewManager(roomID, s.deps.Registry, s.deps.Selector, s.deps.BridgeClient, s.deps.ResolveBridge)
	sources := sourcemodel.NewConferenceSourceMap(s.deps.MaxSsrcsPerUser, s.deps.MaxGroupsPerUser)
	var signaling allocator.Signaling
	if s.deps.NewSignaling != nil {
		signaling = s.deps.NewSignaling(roomID)
	}
	var rolePolicy conference.RolePolicy = conference.AutoOwnerPolicy{}
	if s.deps.NewRolePolicy != nil {
		rolePolicy = s.deps.NewRolePolicy()
	}

	session := conference.NewSession(roomID, meetingID, s.deps.SessionConfig, mgr, sources, rolePolicy,
		s.deps.Features, signaling, s.remove)
	s.conferences[roomID] = session

	logging.Info(context.Background(), "conference created", zap.String("room_id", roomID))
	return session, nil
}

// Get looks up an existing session without creating one.
func (s *Supervisor) Get(roomID string) (*conference.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.conferences[roomID]
	return session, ok
}

// Count returns the number of live conferences, for metrics reporting.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conferences)
}

// Range calls fn for every live conference. fn must not call back into the
// Supervisor.
func (s *Supervisor) Range(fn func(roomID string, session *conference.Session)) {
	s.mu.Lock()
	snapshot := make(map[string]*conference.Session, len(s.conferences))
	for id, session := range s.conferences {
		snapshot[id] = session
	}
	s.mu.Unlock()

	for id, session := range snapshot {
		fn(id, session)
	}
}

// EnableGracefulShutdown refuses new conference creation from this point on
// and lets every existing conference drain naturally (spec.md §4.I).
func (s *Supervisor) EnableGracefulShutdown() {
	s.mu.Lock()
	s.draining = true
	sessions := make([]*conference.Session, 0, len(s.conferences))
	for _, session := range s.conferences {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.TriggerGracefulShutdown()
	}
}

// remove is the Session.onDispose callback: it drops roomID from the table
// once the conference has finished tearing down.
func (s *Supervisor) remove(roomID string) {
	s.mu.Lock()
	delete(s.conferences, roomID)
	s.mu.Unlock()
	logging.Info(context.Background(), "conference disposed", zap.String("room_id", roomID))
}
