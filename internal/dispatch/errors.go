package dispatch

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetfocus/focus/internal/apperror"
)

// ErrorResponse is the typed error response shape spec.md §4.H's "a typed
// error response (§7)" names.
type ErrorResponse struct {
	Condition string `json:"condition"`
	Message   string `json:"message,omitempty"`
	Restart   bool   `json:"restartConference,omitempty"`
}

// statusAndCondition maps an apperror.Kind to the HTTP status and wire
// condition string a caller sees (spec.md §7's taxonomy "mapped to a
// standard error condition").
func statusAndCondition(kind apperror.Kind) (int, string) {
	switch kind {
	case apperror.KindInvalidSsrc, apperror.KindSsrcAlreadyUsed, apperror.KindSsrcLimitExceeded,
		apperror.KindSsrcGroupLimitExceeded, apperror.KindMsidConflict, apperror.KindGroupUnknownSource,
		apperror.KindInvalidFidGroup, apperror.KindRequiredParameterMissing, apperror.KindGroupMsidMismatch,
		apperror.KindSourceDoesNotExist, apperror.KindSourceGroupDoesNotExist, apperror.KindBadRequest:
		return http.StatusBadRequest, string(kind)
	case apperror.KindItemNotFound, apperror.KindConferenceNotFound:
		return http.StatusNotFound, string(kind)
	case apperror.KindForbidden, apperror.KindNotAuthorized:
		return http.StatusForbidden, string(kind)
	case apperror.KindTimeout, apperror.KindRemoteServerTimeout:
		return http.StatusGatewayTimeout, string(kind)
	case apperror.KindServiceUnavailable, apperror.KindNoWorkersAvailable, apperror.KindAllBusy:
		return http.StatusServiceUnavailable, string(kind)
	case apperror.KindOneBusy:
		return http.StatusConflict, string(kind)
	case apperror.KindBridgeSelectionFailed, apperror.KindBridgeFailed, apperror.KindColibriConfDisposed,
		apperror.KindColibriConfExpired, apperror.KindColibriParsing, apperror.KindWrongResponseType,
		apperror.KindGenericColibri, apperror.KindInternalServer, apperror.KindUnexpectedResponse:
		return http.StatusInternalServerError, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

// writeAppError renders err — an *apperror.Error if possible, a generic
// internal error otherwise — as the typed error response.
func writeAppError(c *gin.Context, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		writeError(c, http.StatusInternalServerError, "internal-server-error", err.Error())
		return
	}
	status, condition := statusAndCondition(appErr.Kind)
	c.JSON(status, ErrorResponse{Condition: condition, Message: appErr.Message, Restart: appErr.RestartConference})
}

func writeError(c *gin.Context, status int, condition, message string) {
	c.JSON(status, ErrorResponse{Condition: condition, Message: message})
}
