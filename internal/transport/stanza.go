// Package transport adapts the generic signaling collaborator spec.md §6
// describes ("a send/recv API carrying requests and indications with
// fields from, to, type, an id, and an opaque payload") to the
// allocator.Signaling and allocator.FeatureDiscoverer interfaces the core
// consumes. The wire format of the underlying channel (WebSocket frame,
// XMPP stanza, whatever a given deployment uses) is explicitly out of
// scope for the core (spec.md §6); this package only fixes the shape of
// the request/reply envelope and leaves delivery to an injected Sender.
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meetfocus/focus/internal/allocator"
	"github.com/meetfocus/focus/internal/apperror"
)

// StanzaType is one of the four kinds spec.md §6 names.
type StanzaType string

const (
	StanzaGet    StanzaType = "get"
	StanzaSet    StanzaType = "set"
	StanzaResult StanzaType = "result"
	StanzaError  StanzaType = "error"
)

// Stanza is the request/indication envelope. Payload is left opaque (an
// `any`) since its shape is entirely determined by Kind.
type Stanza struct {
	ID      string
	From    string
	To      string
	Type    StanzaType
	Kind    string
	Payload any
}

// Sender delivers a stanza to its destination. For a `get`/`set` stanza it
// blocks for the correlated `result`/`error` reply or ctx's deadline,
// whichever comes first; nil reply with nil error means the deployment's
// transport is fire-and-forget (a `result` is never solicited).
type Sender interface {
	Send(ctx context.Context, stanza Stanza) (*Stanza, error)
}

// offerPayload is the wire shape of a session-initiate/transport-replace
// indication.
type offerPayload struct {
	Contents  []any
	Transport allocator.Transport
}

// StanzaSignaling adapts a Sender to allocator.Signaling, one instance per
// conference (spec.md §4.F step 7: "send session-initiate... or
// transport-replace... and await ack").
type StanzaSignaling struct {
	RoomID string
	sender Sender
}

// NewStanzaSignaling builds a StanzaSignaling that addresses every stanza
// `from` roomID and delivers it through sender.
func NewStanzaSignaling(roomID string, sender Sender) *StanzaSignaling {
	return &StanzaSignaling{RoomID: roomID, sender: sender}
}

func (s *StanzaSignaling) SendSessionInitiate(ctx context.Context, participantID string, offer allocator.Offer) error {
	return s.sendOffer(ctx, "session-initiate", participantID, offer)
}

func (s *StanzaSignaling) SendTransportReplace(ctx context.Context, participantID string, offer allocator.Offer) error {
	return s.sendOffer(ctx, "transport-replace", participantID, offer)
}

func (s *StanzaSignaling) sendOffer(ctx context.Context, kind, participantID string, offer allocator.Offer) error {
	contents := make([]any, len(offer.Contents))
	for i, c := range offer.Contents {
		contents[i] = c
	}
	reply, err := s.sender.Send(ctx, Stanza{
		ID:      uuid.NewString(),
		From:    s.RoomID,
		To:      participantID,
		Type:    StanzaSet,
		Kind:    kind,
		Payload: offerPayload{Contents: contents, Transport: offer.Transport},
	})
	if err != nil {
		return apperror.Wrap(apperror.KindTimeout, "sending "+kind, err)
	}
	if reply != nil && reply.Type == StanzaError {
		return apperror.Newf(apperror.KindBadRequest, "participant %s rejected %s", participantID, kind)
	}
	return nil
}

// StanzaFeatureDiscoverer adapts a Sender to allocator.FeatureDiscoverer by
// sending a `get` stanza for the participant's capabilities and parsing the
// `result` reply.
type StanzaFeatureDiscoverer struct {
	RoomID  string
	sender  Sender
	timeout time.Duration
}

// NewStanzaFeatureDiscoverer builds a StanzaFeatureDiscoverer with the
// given per-request timeout (defaults to 5s if zero or negative).
func NewStanzaFeatureDiscoverer(roomID string, sender Sender, timeout time.Duration) *StanzaFeatureDiscoverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StanzaFeatureDiscoverer{RoomID: roomID, sender: sender, timeout: timeout}
}

func (d *StanzaFeatureDiscoverer) DiscoverFeatures(ctx context.Context, participantID string) (allocator.Features, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reply, err := d.sender.Send(ctx, Stanza{
		ID:   uuid.NewString(),
		From: d.RoomID,
		To:   participantID,
		Type: StanzaGet,
		Kind: "features",
	})
	if err != nil {
		return allocator.Features{}, apperror.Wrap(apperror.KindTimeout, "discovering features", err)
	}
	if reply == nil || reply.Type == StanzaError {
		// No reply means the client doesn't support feature discovery;
		// fall back to the conservative default (nothing stripped).
		return allocator.Features{}, nil
	}
	features, ok := reply.Payload.(allocator.Features)
	if !ok {
		return allocator.Features{}, nil
	}
	return features, nil
}
