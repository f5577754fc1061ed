package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/logging"
	"github.com/meetfocus/focus/internal/metrics"
)

// WorkerAddr resolves a worker ID to its dialable address. Supplied by the
// caller (cmd/focus) since address discovery is deployment-specific.
type WorkerAddr func(workerID string) (string, bool)

// Manager drives the JibriSession state machine: selection, the pending
// timeout, and the retry-with-failover loop (spec.md §4.C).
type Manager struct {
	pool       *Pool
	client     Client
	resolve    WorkerAddr
	maxRetries int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager.
func NewManager(pool *Pool, client Client, resolve WorkerAddr, maxRetries int) *Manager {
	return &Manager{
		pool:       pool,
		client:     client,
		resolve:    resolve,
		maxRetries: maxRetries,
		sessions:   make(map[string]*Session),
	}
}

// StartSession selects a worker with the given capability and drives the
// pending->on/off handshake, retrying on a fresh worker up to maxRetries
// times when the current attempt reports shouldRetry (spec.md §4.C).
func (m *Manager) StartSession(ctx context.Context, sessionType SessionType, capability Capability, preferredRegion string, req StartRequest, initiator string) (*Session, error) {
	session := &Session{
		ID:              uuid.New().String(),
		Type:            sessionType,
		State:           StatePending,
		RetriesLeft:     m.maxRetries,
		SipAddress:      req.SipAddress,
		StreamID:        req.StreamID,
		ApplicationData: req.ApplicationData,
		Initiator:       initiator,
	}
	req.SessionID = session.ID

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	excluded := make(map[string]bool)
	if err := m.attempt(ctx, session, capability, preferredRegion, req, excluded); err != nil {
		return session, err
	}
	return session, nil
}

// attempt performs one worker selection + start round trip, recursing on a
// retryable failure until the budget is exhausted (spec.md §4.C dial-out
// fan-out steps 2-3).
func (m *Manager) attempt(ctx context.Context, session *Session, capability Capability, preferredRegion string, req StartRequest, excluded map[string]bool) error {
	w := m.pool.SelectWorker(excluded, preferredRegion, capability)
	if w == nil {
		m.setState(session, StateOff, FailureFailure)
		return apperror.New(apperror.KindNoWorkersAvailable, "no workers available")
	}

	addr, ok := m.resolve(w.ID)
	if !ok {
		excluded[w.ID] = true
		return m.retryOrFail(ctx, session, capability, preferredRegion, req, excluded, apperror.Newf(apperror.KindInternalServer, "cannot resolve address for worker %s", w.ID))
	}

	session.CurrentWorker = w.ID
	resp, err := m.client.Start(ctx, addr, req)
	if err != nil {
		excluded[w.ID] = true
		return m.retryOrFail(ctx, session, capability, preferredRegion, req, excluded, err)
	}

	if resp.Busy || !resp.Accepted {
		excluded[w.ID] = true
		if resp.ShouldRetry {
			return m.retryOrFail(ctx, session, capability, preferredRegion, req, excluded, apperror.New(apperror.KindOneBusy, "worker busy"))
		}
		m.setState(session, StateOff, FailureFailure)
		return apperror.New(apperror.KindAllBusy, "worker rejected without retry hint")
	}

	m.setState(session, StateOn, FailureNone)
	metrics.AcceptedWorkerRequests.Inc()
	return nil
}

func (m *Manager) retryOrFail(ctx context.Context, session *Session, capability Capability, preferredRegion string, req StartRequest, excluded map[string]bool, cause error) error {
	m.mu.Lock()
	session.RetriesLeft--
	retriesLeft := session.RetriesLeft
	m.mu.Unlock()

	if retriesLeft < 0 {
		m.setState(session, StateOff, FailureFailure)
		if apperror.HasKind(cause, apperror.KindRemoteServerTimeout) {
			return apperror.Wrap(apperror.KindRemoteServerTimeout, "worker retry budget exhausted", cause)
		}
		return apperror.Wrap(apperror.KindInternalServer, "worker retry budget exhausted", cause)
	}

	metrics.WorkerRetries.Inc()
	logging.Warn(ctx, "retrying worker session on a different worker",
		zap.String("session_id", session.ID), zap.Error(cause))
	return m.attempt(ctx, session, capability, preferredRegion, req, excluded)
}

// HandlePendingTimeout transitions a still-pending session to off(failure)
// and returns true if it did (spec.md §4.C: "on expiry the session is moved
// to off(failure)").
func (m *Manager) HandlePendingTimeout(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.State != StatePending {
		return false
	}
	session.State = StateOff
	session.FailureReason = FailureFailure
	return true
}

// Stop ends a session. Idempotent: stopping an already-off session is a
// no-op (spec.md §4.C).
func (m *Manager) Stop(ctx context.Context, sessionID, terminator string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return apperror.New(apperror.KindItemNotFound, "no such session")
	}
	if session.State == StateOff {
		m.mu.Unlock()
		return nil
	}
	addr, hasAddr := "", false
	if session.CurrentWorker != "" {
		addr, hasAddr = m.resolve(session.CurrentWorker)
	}
	m.mu.Unlock()

	if hasAddr {
		if err := m.client.Stop(ctx, addr, sessionID); err != nil {
			logging.Error(ctx, "failed to stop worker session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	m.setState(session, StateOff, FailureClean)
	m.mu.Lock()
	session.Terminator = terminator
	m.mu.Unlock()
	return nil
}

func (m *Manager) setState(session *Session, state SessionState, reason FailureReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.State = state
	session.FailureReason = reason
}

// Get returns session sessionID, if known.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// PendingTimeoutTimer schedules HandlePendingTimeout after timeout unless
// the session has already left the pending state, matching spec.md §5's
// "scheduled pool for timers (pending-session timeouts)".
func (m *Manager) PendingTimeoutTimer(sessionID string, timeout time.Duration) *time.Timer {
	return time.AfterFunc(timeout, func() {
		m.HandlePendingTimeout(sessionID)
	})
}
