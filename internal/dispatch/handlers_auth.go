package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoginURLRequest is the body for POST /auth/login-url.
type LoginURLRequest struct {
	MachineUID string `json:"machineUid" binding:"required"`
	PeerID     string `json:"peerId" binding:"required"`
	RoomID     string `json:"roomId" binding:"required"`
	Popup      bool   `json:"popup"`
}

// LoginURLResponse carries the authentication authority's generated URL.
type LoginURLResponse struct {
	URL string `json:"url"`
}

// LoginURL handles spec.md §4.H's "login-url": delegate to the
// authentication authority.
func (d *Dispatcher) LoginURL(c *gin.Context) {
	var req LoginURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	url, err := d.Auth.CreateLoginURL(req.MachineUID, req.PeerID, req.RoomID, req.Popup)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, LoginURLResponse{URL: url})
}

// LogoutRequest is the body for POST /auth/logout.
type LogoutRequest struct {
	Token string `json:"token" binding:"required"`
}

// Logout handles spec.md §4.H's "logout": delegate to the authentication
// authority.
func (d *Dispatcher) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad-request", err.Error())
		return
	}
	if err := d.Auth.ProcessLogout(c.Request.Context(), req.Token); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
