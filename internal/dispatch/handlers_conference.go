package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/conference"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

// AllocateConferenceRequest is the body for POST /conferences/:roomId/join.
type AllocateConferenceRequest struct {
	MeetingID   string   `json:"meetingId"`
	EndpointID  string   `json:"endpointId" binding:"required"`
	Jid         string   `json:"jid"`
	Region      string   `json:"region"`
	Features    []string `json:"supportedFeatures"`
	IsRobot     bool     `json:"isRobot"`
}

// AllocateConferenceResponse is spec.md §4.H's "response signaling
// readiness plus capability flags".
type AllocateConferenceResponse struct {
	Ready             bool `json:"ready"`
	Authentication    bool `json:"authentication"`
	ExternalAuth      bool `json:"externalAuth"`
	SipGatewayEnabled bool `json:"sipGatewayEnabled"`
}

// AllocateConference handles spec.md §4.H's "allocate-conference": it
// authenticates the caller (via RequireAuth middleware upstream), looks up
// or creates the conference via the supervisor, and admits the caller as a
// participant.
func (d *Dispatcher) AllocateConference(c *gin.Context) {
	roomID := c.Param("roomId")
	var req AllocateConferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	claims, _ := claimsFrom(c)

	session, err := d.Supervisor.GetOrCreate(roomID, req.MeetingID)
	if err != nil {
		writeAppError(c, err)
		return
	}

	p := &conference.Participant{
		EndpointID:        req.EndpointID,
		Jid:               req.Jid,
		Region:            req.Region,
		SupportedFeatures: req.Features,
		IsRobot:           req.IsRobot,
	}
	if err := session.Join(p); err != nil {
		writeAppError(c, err)
		return
	}
	if claims != nil {
		_ = session.Authenticate(req.EndpointID)
	}

	c.JSON(http.StatusOK, AllocateConferenceResponse{
		Ready:             true,
		Authentication:    d.Auth != nil,
		ExternalAuth:      d.Auth != nil,
		SipGatewayEnabled: d.SipGatewayReady,
	})
}

// LeaveConferenceRequest is the body for POST /conferences/:roomId/leave.
type LeaveConferenceRequest struct {
	EndpointID string `json:"endpointId" binding:"required"`
}

func (d *Dispatcher) LeaveConference(c *gin.Context) {
	roomID := c.Param("roomId")
	var req LeaveConferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	session, ok := d.Supervisor.Get(roomID)
	if !ok {
		writeError(c, http.StatusNotFound, string(apperror.KindItemNotFound), "no such conference")
		return
	}
	if err := session.Leave(c.Request.Context(), req.EndpointID); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MuteRequest is the body for POST /conferences/:roomId/mute.
type MuteRequest struct {
	RequesterID string              `json:"requesterId" binding:"required"`
	TargetID    string              `json:"targetId" binding:"required"`
	MediaType   sourcemodel.MediaType `json:"mediaType" binding:"required"`
	Muted       bool                `json:"muted"`
}

// Mute handles spec.md §4.H's "mute": apply per §4.G.
func (d *Dispatcher) Mute(c *gin.Context) {
	roomID := c.Param("roomId")
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	session, ok := d.Supervisor.Get(roomID)
	if !ok {
		writeError(c, http.StatusNotFound, string(apperror.KindItemNotFound), "no such conference")
		return
	}
	if err := session.Mute(req.RequesterID, req.TargetID, req.MediaType, req.Muted); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AVModerationRequest is the body for POST /conferences/:roomId/moderation.
type AVModerationRequest struct {
	MediaType sourcemodel.MediaType `json:"mediaType" binding:"required"`
	Enabled   bool                `json:"enabled"`
}

// AVModerationResponse reports which participants the toggle muted.
type AVModerationResponse struct {
	Muted []string `json:"muted,omitempty"`
}

// AVModeration handles spec.md §4.H's "av-moderation": update per-room
// moderation state.
func (d *Dispatcher) AVModeration(c *gin.Context) {
	roomID := c.Param("roomId")
	var req AVModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	session, ok := d.Supervisor.Get(roomID)
	if !ok {
		writeError(c, http.StatusNotFound, string(apperror.KindItemNotFound), "no such conference")
		return
	}
	muted := session.SetModeration(req.MediaType, req.Enabled)
	c.JSON(http.StatusOK, AVModerationResponse{Muted: muted})
}
