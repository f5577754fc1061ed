package colibri

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/apperror"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

type fakeBridgeClient struct {
	mu          sync.Mutex
	allocateErr map[string]error
	updates     []string
	relays      map[string][]string
	expires     int
}

func newFakeBridgeClient() *fakeBridgeClient {
	return &fakeBridgeClient{allocateErr: map[string]error{}, relays: map[string][]string{}}
}

func (f *fakeBridgeClient) Allocate(ctx context.Context, addr string, req bridge.AllocateRequest) (*bridge.AllocateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.allocateErr[addr]; ok {
		return nil, err
	}
	return &bridge.AllocateResponse{SessionID: "abc123", Contents: req.Contents}, nil
}

func (f *fakeBridgeClient) UpdateChannels(ctx context.Context, addr, conferenceID, participantID string, contents []sourcemodel.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, addr+":"+participantID)
	return nil
}

func (f *fakeBridgeClient) SetRelays(ctx context.Context, addr, conferenceID string, relayIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relays[addr] = relayIDs
	return nil
}

func (f *fakeBridgeClient) Expire(ctx context.Context, addr, conferenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires++
	return nil
}

func testBridge(id string) *bridge.Bridge {
	return &bridge.Bridge{ID: id, IsOperational: true}
}

func resolver(addrs map[string]string) BridgeAddr {
	return func(id string) (string, bool) {
		a, ok := addrs[id]
		return a, ok
	}
}

type staticSelector struct{ b *bridge.Bridge }

func (s staticSelector) Name() string { return "static" }
func (s staticSelector) SelectBridge(map[*bridge.Bridge]int, string, string) *bridge.Bridge {
	return s.b
}

func TestManager_AllocateSuccess(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b)
	mgr := NewManager("conf1", reg, staticSelector{b}, client, resolver(map[string]string{"b1": "b1:8080"}))

	result, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "b1", result.BridgeID)
	assert.Equal(t, "abc123", result.SessionID)
}

func TestManager_AllocateConferenceNotFoundTriggersRestart(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	client.allocateErr["b1:8080"] = apperror.New(apperror.KindConferenceNotFound, "expired")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b)
	mgr := NewManager("conf1", reg, staticSelector{b}, client, resolver(map[string]string{"b1": "b1:8080"}))

	_, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindColibriConfExpired))
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.RestartConference)
}

func TestManager_AllocateBadRequestDoesNotMarkBridgeFaulty(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	client.allocateErr["b1:8080"] = apperror.New(apperror.KindBadRequest, "malformed")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b)
	mgr := NewManager("conf1", reg, staticSelector{b}, client, resolver(map[string]string{"b1": "b1:8080"}))

	_, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindBadRequest))

	got, ok := reg.Get("b1")
	require.True(t, ok)
	assert.True(t, got.Operational(time.Now(), time.Minute), "bad-request must not mark the bridge faulty")
}

func TestManager_AllocateGenericErrorMarksBridgeFaulty(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	client.allocateErr["b1:8080"] = apperror.New(apperror.KindGenericColibri, "oops")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b)
	mgr := NewManager("conf1", reg, staticSelector{b}, client, resolver(map[string]string{"b1": "b1:8080"}))

	_, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindBridgeFailed))

	got, ok := reg.Get("b1")
	require.True(t, ok)
	assert.False(t, got.Operational(time.Now(), time.Minute), "a generic colibri error must mark the bridge faulty")
}

func TestManager_RelayMeshEstablishedAcrossTwoBridges(t *testing.T) {
	client := newFakeBridgeClient()
	b1, b2 := testBridge("b1"), testBridge("b2")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b1)
	reg.AddBridge(b2)
	addrs := resolver(map[string]string{"b1": "b1:8080", "b2": "b2:8080"})

	mgr := NewManager("conf1", reg, staticSelector{b1}, client, addrs)
	_, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.NoError(t, err)

	mgr.selector = staticSelector{b2}
	_, err = mgr.Allocate(context.Background(), "bob", "", nil, "")
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"b2"}, client.relays["b1:8080"])
	assert.Equal(t, []string{"b1"}, client.relays["b2:8080"])
}

func TestManager_RemoveParticipantsExpiresEmptyBridgeSession(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b)
	mgr := NewManager("conf1", reg, staticSelector{b}, client, resolver(map[string]string{"b1": "b1:8080"}))

	_, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.NoError(t, err)

	mgr.RemoveParticipants(context.Background(), []string{"alice"})

	mgr.mu.RLock()
	_, stillExists := mgr.sessions["b1"]
	mgr.mu.RUnlock()
	assert.False(t, stillExists)
}

func TestManager_BridgesDownReturnsAffectedParticipants(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	reg := bridge.NewRegistry(time.Minute)
	reg.AddBridge(b)
	mgr := NewManager("conf1", reg, staticSelector{b}, client, resolver(map[string]string{"b1": "b1:8080"}))

	_, err := mgr.Allocate(context.Background(), "alice", "", nil, "")
	require.NoError(t, err)

	affected := mgr.BridgesDown(context.Background(), map[string]bool{"b1": true})
	assert.ElementsMatch(t, []string{"alice"}, affected)

	got, _ := reg.Get("b1")
	assert.False(t, got.Operational(time.Now(), time.Minute))
}

func TestBridgeSession_RelaySourcesQueuedUntilEstablished(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	session, err := NewBridgeSession("conf1", b, "b1:8080", client)
	require.NoError(t, err)

	require.NoError(t, session.AddSourcesToRelay(context.Background(), []sourcemodel.Source{{SSRC: 1}}))

	client.mu.Lock()
	updatesBefore := len(client.updates)
	client.mu.Unlock()
	assert.Equal(t, 0, updatesBefore, "relay sources must queue until the relay is established")

	require.NoError(t, session.SetRelays(context.Background(), []string{"b2:8080"}))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, len(client.updates), "queued relay source add must flush once the relay is established")
}

func TestBridgeSession_DisposeSkipsExpireWhenFaulty(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	session, err := NewBridgeSession("conf1", b, "b1:8080", client)
	require.NoError(t, err)
	session.MarkFailed()
	session.Dispose(context.Background(), true)
	assert.True(t, session.HasFailed())
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 0, client.expires)
}

func TestBridgeSession_SessionIDIsTwentyFourBitHex(t *testing.T) {
	client := newFakeBridgeClient()
	b := testBridge("b1")
	session, err := NewBridgeSession("conf1", b, "b1:8080", client)
	require.NoError(t, err)
	assert.Len(t, session.SessionID, 6)
}
