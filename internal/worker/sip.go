package worker

import (
	"github.com/emiago/sipgo/sip"

	"github.com/meetfocus/focus/internal/apperror"
)

// ValidateSipAddress parses a SIP URI the way flowpbx's outbound trunk
// handler does (sip.ParseUri into a sip.Uri), rejecting anything the dial-out
// path can't route to before a worker ever sees it.
func ValidateSipAddress(address string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(address, &uri); err != nil {
		return sip.Uri{}, apperror.Wrap(apperror.KindBadRequest, "invalid SIP address", err)
	}
	if uri.User == "" {
		return sip.Uri{}, apperror.New(apperror.KindBadRequest, "SIP address missing user part")
	}
	return uri, nil
}
