package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/worker"
)

// authorizeWorkerRequest resolves the conference named by the request's
// roomId and runs spec.md §4.G's accept-jibri-request/accept-jigasi-request
// check against initiatorID: the initiator must be a member who is either a
// moderator or on a configured trusted domain. On failure it writes the
// error response itself and returns ok=false.
func (d *Dispatcher) authorizeWorkerRequest(c *gin.Context, initiatorID string) bool {
	roomID := c.Param("roomId")
	session, ok := d.Supervisor.Get(roomID)
	if !ok {
		writeAppError(c, apperror.Newf(apperror.KindConferenceNotFound, "conference %s does not exist", roomID))
		return false
	}
	if err := session.AcceptWorkerRequest(initiatorID, d.isTrustedDomain); err != nil {
		writeAppError(c, err)
		return false
	}
	return true
}

// DialOutRequest is the body for POST /conferences/:roomId/dial-out.
type DialOutRequest struct {
	InitiatorID string `json:"initiatorId" binding:"required"`
	SipAddress  string `json:"sipAddress" binding:"required"`
	Region      string `json:"region"`
}

// StartSessionResponse reports the JibriSession created by a start/dial-out
// request.
type StartSessionResponse struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

// DialOut handles spec.md §4.H's "dial-out": delegate to C with
// initiator = caller.
func (d *Dispatcher) DialOut(c *gin.Context) {
	var req DialOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	if _, err := worker.ValidateSipAddress(req.SipAddress); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", "invalid sip address: "+err.Error())
		return
	}
	if !d.authorizeWorkerRequest(c, req.InitiatorID) {
		return
	}

	session, err := d.Workers.StartSession(c.Request.Context(), worker.SessionSipCall, worker.CapabilitySIP,
		req.Region, worker.StartRequest{SipAddress: req.SipAddress}, req.InitiatorID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StartSessionResponse{SessionID: session.ID, State: string(session.State)})
}

// StartRecordingRequest is the body for POST /conferences/:roomId/recording.
type StartRecordingRequest struct {
	InitiatorID     string            `json:"initiatorId" binding:"required"`
	Region          string            `json:"region"`
	ApplicationData map[string]string `json:"applicationData"`
}

// StartRecording handles spec.md §4.H's "start-recording": delegate to C.
func (d *Dispatcher) StartRecording(c *gin.Context) {
	var req StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	if !d.authorizeWorkerRequest(c, req.InitiatorID) {
		return
	}
	session, err := d.Workers.StartSession(c.Request.Context(), worker.SessionRecording, worker.CapabilityRecording,
		req.Region, worker.StartRequest{ApplicationData: req.ApplicationData}, req.InitiatorID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StartSessionResponse{SessionID: session.ID, State: string(session.State)})
}

// StartStreamingRequest is the body for POST /conferences/:roomId/streaming.
type StartStreamingRequest struct {
	InitiatorID string `json:"initiatorId" binding:"required"`
	StreamID    string `json:"streamId" binding:"required"`
	Region      string `json:"region"`
}

// StartStreaming handles spec.md §4.H's "start-streaming": delegate to C.
func (d *Dispatcher) StartStreaming(c *gin.Context) {
	var req StartStreamingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	if !d.authorizeWorkerRequest(c, req.InitiatorID) {
		return
	}
	session, err := d.Workers.StartSession(c.Request.Context(), worker.SessionStreaming, worker.CapabilityStreaming,
		req.Region, worker.StartRequest{StreamID: req.StreamID}, req.InitiatorID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StartSessionResponse{SessionID: session.ID, State: string(session.State)})
}

// StopSessionRequest is the body for POST /sessions/:sessionId/stop.
type StopSessionRequest struct {
	TerminatorID string `json:"terminatorId" binding:"required"`
}

// StopSession stops a running JibriSession (recording, streaming, or SIP
// call), regardless of which start-* endpoint created it.
func (d *Dispatcher) StopSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	var req StopSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	if err := d.Workers.Stop(c.Request.Context(), sessionID, req.TerminatorID); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
