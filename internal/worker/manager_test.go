package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/apperror"
)

type fakeClient struct {
	responses map[string]*StartResponse
	errs      map[string]error
}

func (f *fakeClient) Start(ctx context.Context, addr string, req StartRequest) (*StartResponse, error) {
	if err, ok := f.errs[addr]; ok {
		return nil, err
	}
	return f.responses[addr], nil
}

func (f *fakeClient) Stop(ctx context.Context, addr, sessionID string) error { return nil }

func addrFor(id string) (string, bool) { return id + ":8080", true }

func TestManager_RetriesOnBusyThenSucceeds(t *testing.T) {
	pool := NewPool(nil)
	pool.Upsert(&Worker{ID: "w1", SupportsSip: true})
	pool.Upsert(&Worker{ID: "w2", SupportsSip: true})

	client := &fakeClient{
		responses: map[string]*StartResponse{
			"w1:8080": {Busy: true, ShouldRetry: true},
			"w2:8080": {Accepted: true},
		},
	}
	mgr := NewManager(pool, client, addrFor, 2)

	session, err := mgr.StartSession(context.Background(), SessionSipCall, CapabilitySIP, "", StartRequest{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateOn, session.State)
}

func TestManager_ExhaustsRetryBudget(t *testing.T) {
	pool := NewPool(nil)
	pool.Upsert(&Worker{ID: "w1", SupportsSip: true})

	client := &fakeClient{
		responses: map[string]*StartResponse{
			"w1:8080": {Busy: true, ShouldRetry: true},
		},
	}
	mgr := NewManager(pool, client, addrFor, 0)

	session, err := mgr.StartSession(context.Background(), SessionSipCall, CapabilitySIP, "", StartRequest{}, "alice")
	require.Error(t, err)
	assert.Equal(t, StateOff, session.State)
	assert.Equal(t, FailureFailure, session.FailureReason)
}

func TestManager_NoWorkersAvailable(t *testing.T) {
	pool := NewPool(nil)
	mgr := NewManager(pool, &fakeClient{}, addrFor, 2)

	_, err := mgr.StartSession(context.Background(), SessionRecording, CapabilityRecording, "", StartRequest{}, "alice")
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindNoWorkersAvailable))
}

func TestManager_StopIsIdempotent(t *testing.T) {
	pool := NewPool(nil)
	pool.Upsert(&Worker{ID: "w1", SupportsSip: true})
	client := &fakeClient{responses: map[string]*StartResponse{"w1:8080": {Accepted: true}}}
	mgr := NewManager(pool, client, addrFor, 0)

	session, err := mgr.StartSession(context.Background(), SessionSipCall, CapabilitySIP, "", StartRequest{}, "alice")
	require.NoError(t, err)

	require.NoError(t, mgr.Stop(context.Background(), session.ID, "alice"))
	require.NoError(t, mgr.Stop(context.Background(), session.ID, "alice"), "stopping an already-off session must be a no-op")
}

func TestValidateSipAddress(t *testing.T) {
	_, err := ValidateSipAddress("sip:+15551234567@gateway.example.com")
	require.NoError(t, err)

	_, err = ValidateSipAddress("not-a-uri")
	require.Error(t, err)
}
