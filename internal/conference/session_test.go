package conference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/meetfocus/focus/internal/allocator"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/colibri"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

type fakeBridgeClient struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBridgeClient) Allocate(ctx context.Context, addr string, req bridge.AllocateRequest) (*bridge.AllocateResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &bridge.AllocateResponse{SessionID: "sess", Contents: req.Contents}, nil
}

func (f *fakeBridgeClient) UpdateChannels(ctx context.Context, addr, conferenceID, participantID string, contents []sourcemodel.Content) error {
	return nil
}

func (f *fakeBridgeClient) SetRelays(ctx context.Context, addr, conferenceID string, relayIDs []string) error {
	return nil
}

func (f *fakeBridgeClient) Expire(ctx context.Context, addr, conferenceID string) error { return nil }

type fakeFeatures struct{}

func (fakeFeatures) DiscoverFeatures(ctx context.Context, participantID string) (allocator.Features, error) {
	return allocator.Features{}, nil
}

type fakeSignaling struct {
	mu  sync.Mutex
	ack int
}

func (f *fakeSignaling) SendSessionInitiate(ctx context.Context, participantID string, offer allocator.Offer) error {
	f.mu.Lock()
	f.ack++
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) SendTransportReplace(ctx context.Context, participantID string, offer allocator.Offer) error {
	f.mu.Lock()
	f.ack++
	f.mu.Unlock()
	return nil
}

func newTestSession(t *testing.T) (*Session, *fakeBridgeClient) {
	t.Helper()
	registry := bridge.NewRegistry(time.Minute)
	registry.AddBridge(&bridge.Bridge{ID: "b1", IsOperational: true, LastEventAt: time.Now()})
	selector := bridge.NewSingleSelector(registry, time.Minute)
	client := &fakeBridgeClient{}
	resolve := func(id string) (string, bool) { return id + ":8080", true }

	mgr := colibri.NewManager("room-1", registry, selector, client, resolve)
	sources := sourcemodel.NewConferenceSourceMap(16, 8)

	disposed := make(chan string, 1)
	cfg := Config{LingerDuration: 20 * time.Millisecond}
	s := NewSession("room-1", "meeting-1", cfg, mgr, sources, AutoOwnerPolicy{}, fakeFeatures{}, &fakeSignaling{}, func(id string) {
		disposed <- id
	})
	return s, client
}

func TestSession_JoinAssignsOwnerAndInvites(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, client := newTestSession(t)

	alice := &Participant{EndpointID: "alice"}
	require.NoError(t, s.Join(alice))

	assert.Eventually(t, func() bool { return client.calls >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, s.State())

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].IsModerator)

	s.Dispose()
}

func TestSession_LeaveLastMemberDisposesAfterLinger(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newTestSession(t)

	alice := &Participant{EndpointID: "alice"}
	require.NoError(t, s.Join(alice))
	require.NoError(t, s.Leave(context.Background(), "alice"))

	assert.Eventually(t, func() bool { return s.State() == StateDisposed }, time.Second, time.Millisecond)
}

func TestSession_JoinRejectedWhenDraining(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newTestSession(t)

	alice := &Participant{EndpointID: "alice"}
	require.NoError(t, s.Join(alice))
	s.TriggerGracefulShutdown()

	err := s.Join(&Participant{EndpointID: "bob"})
	require.Error(t, err)

	require.NoError(t, s.Leave(context.Background(), "alice"))
	assert.Eventually(t, func() bool { return s.State() == StateDisposed }, time.Second, time.Millisecond)
}

func TestSession_MuteRules(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newTestSession(t)

	alice := &Participant{EndpointID: "alice"}
	bob := &Participant{EndpointID: "bob"}
	require.NoError(t, s.Join(alice))
	require.NoError(t, s.Join(bob))
	assert.Eventually(t, func() bool { return !alice.OfferSentAt.IsZero() && !bob.OfferSentAt.IsZero() }, time.Second, time.Millisecond)

	// bob (non-moderator) cannot mute alice.
	err := s.Mute("bob", "alice", sourcemodel.MediaAudio, true)
	require.Error(t, err)

	// alice (moderator) can mute bob.
	require.NoError(t, s.Mute("alice", "bob", sourcemodel.MediaAudio, true))

	// nobody can un-mute someone else.
	err = s.Mute("alice", "bob", sourcemodel.MediaAudio, false)
	require.Error(t, err)

	// self-mute always allowed.
	require.NoError(t, s.Mute("bob", "bob", sourcemodel.MediaVideo, true))

	s.Dispose()
}

func TestSession_SetModerationMutesNonExemptMembers(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _ := newTestSession(t)

	alice := &Participant{EndpointID: "alice"}
	bob := &Participant{EndpointID: "bob"}
	require.NoError(t, s.Join(alice))
	require.NoError(t, s.Join(bob))
	assert.Eventually(t, func() bool { return !alice.OfferSentAt.IsZero() && !bob.OfferSentAt.IsZero() }, time.Second, time.Millisecond)

	muted := s.SetModeration(sourcemodel.MediaAudio, true)
	assert.Contains(t, muted, "bob")
	assert.NotContains(t, muted, "alice")

	s.Dispose()
}
