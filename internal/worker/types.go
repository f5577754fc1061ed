// Package worker implements the recording/streaming/SIP worker pool (Jibri
// and Jigasi in spec.md's vocabulary): selection with region-aware
// least-loaded tie-breaking, retry on failure, and the JibriSession state
// machine (spec.md §3, §4.C).
package worker

import "time"

// Capability is a feature a worker advertises: recording, streaming,
// SIP dial-out, or transcription.
type Capability string

const (
	CapabilitySIP            Capability = "sip"
	CapabilityTranscription  Capability = "transcription"
	CapabilityRecording      Capability = "recording"
	CapabilityStreaming      Capability = "streaming"
)

// Worker mirrors spec.md §3's Worker entity.
type Worker struct {
	ID                   string
	Region               string
	SupportsSip          bool
	SupportsTranscription bool
	IsInGracefulShutdown bool
	ParticipantCount     int
}

func (w *Worker) hasCapability(c Capability) bool {
	switch c {
	case CapabilitySIP:
		return w.SupportsSip
	case CapabilityTranscription:
		return w.SupportsTranscription
	case CapabilityRecording, CapabilityStreaming:
		return true
	default:
		return false
	}
}

// SessionType distinguishes the three JibriSession kinds (spec.md §3).
type SessionType string

const (
	SessionRecording SessionType = "recording"
	SessionStreaming SessionType = "streaming"
	SessionSipCall   SessionType = "sipCall"
)

// SessionState is the JibriSession state machine's current state.
type SessionState string

const (
	StateUndefined SessionState = "undefined"
	StatePending   SessionState = "pending"
	StateOn        SessionState = "on"
	StateOff       SessionState = "off"
)

// FailureReason records why a session transitioned to StateOff.
type FailureReason string

const (
	FailureNone    FailureReason = ""
	FailureFailure FailureReason = "failure"
	FailureClean   FailureReason = "clean"
)

// Session is a JibriSession: a recording, streaming, or SIP-dial task
// tracked through its worker handshake and retry budget.
type Session struct {
	ID              string
	Type            SessionType
	State           SessionState
	CurrentWorker   string
	PendingTimeout  time.Duration
	RetriesLeft     int
	SipAddress      string
	StreamID        string
	ApplicationData map[string]string
	Initiator       string
	Terminator      string
	FailureReason   FailureReason
}
