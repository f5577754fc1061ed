package allocator

import "context"

// Signaling is the outbound half of the invite handshake: sending the
// session-initiate/transport-replace stanza and awaiting the client's ack
// (spec.md §4.F step 7, a named blocking operation).
type Signaling interface {
	SendSessionInitiate(ctx context.Context, participantID string, offer Offer) error
	SendTransportReplace(ctx context.Context, participantID string, offer Offer) error
}
