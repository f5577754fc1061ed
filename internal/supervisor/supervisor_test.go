package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/allocator"
	"github.com/meetfocus/focus/internal/bridge"
	"github.com/meetfocus/focus/internal/conference"
	"github.com/meetfocus/focus/internal/sourcemodel"
)

type noopBridgeClient struct{}

func (noopBridgeClient) Allocate(ctx context.Context, addr string, req bridge.AllocateRequest) (*bridge.AllocateResponse, error) {
	return &bridge.AllocateResponse{SessionID: "s", Contents: req.Contents}, nil
}
func (noopBridgeClient) UpdateChannels(context.Context, string, string, string, []sourcemodel.Content) error {
	return nil
}
func (noopBridgeClient) SetRelays(context.Context, string, string, []string) error { return nil }
func (noopBridgeClient) Expire(context.Context, string, string) error              { return nil }

type noopFeatures struct{}

func (noopFeatures) DiscoverFeatures(context.Context, string) (allocator.Features, error) {
	return allocator.Features{}, nil
}

type noopSignaling struct{}

func (noopSignaling) SendSessionInitiate(context.Context, string, allocator.Offer) error { return nil }
func (noopSignaling) SendTransportReplace(context.Context, string, allocator.Offer) error {
	return nil
}

func testDeps() Deps {
	registry := bridge.NewRegistry(time.Minute)
	registry.AddBridge(&bridge.Bridge{ID: "b1", IsOperational: true, LastEventAt: time.Now()})
	return Deps{
		Registry:         registry,
		Selector:         bridge.NewSingleSelector(registry, time.Minute),
		BridgeClient:     noopBridgeClient{},
		ResolveBridge:    func(id string) (string, bool) { return id + ":8080", true },
		Features:         noopFeatures{},
		NewSignaling:     func(string) allocator.Signaling { return noopSignaling{} },
		NewRolePolicy:    func() conference.RolePolicy { return conference.AutoOwnerPolicy{} },
		SessionConfig:    conference.Config{LingerDuration: 10 * time.Millisecond},
		MaxSsrcsPerUser:  16,
		MaxGroupsPerUser: 8,
	}
}

func TestSupervisor_GetOrCreateIsIdempotent(t *testing.T) {
	sup := New(testDeps())

	a, err := sup.GetOrCreate("room-1", "meeting-1")
	require.NoError(t, err)
	b, err := sup.GetOrCreate("room-1", "meeting-1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, sup.Count())
}

func TestSupervisor_GracefulShutdownRefusesNewConferences(t *testing.T) {
	sup := New(testDeps())
	_, err := sup.GetOrCreate("room-1", "meeting-1")
	require.NoError(t, err)

	sup.EnableGracefulShutdown()

	_, err = sup.GetOrCreate("room-2", "meeting-2")
	require.Error(t, err)
}

func TestSupervisor_DisposedConferenceIsRemoved(t *testing.T) {
	sup := New(testDeps())
	session, err := sup.GetOrCreate("room-1", "meeting-1")
	require.NoError(t, err)

	session.Dispose()

	assert.Eventually(t, func() bool {
		_, ok := sup.Get("room-1")
		return !ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, sup.Count())
}
