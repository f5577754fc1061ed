package bridge

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetfocus/focus/internal/config"
	"github.com/meetfocus/focus/internal/metrics"
)

func TestSingleSelector_PrefersLeastStressed(t *testing.T) {
	reg := NewRegistry(time.Minute)
	reg.AddBridge(&Bridge{ID: "a", Stress: 0.8})
	reg.AddBridge(&Bridge{ID: "b", Stress: 0.2})

	sel := NewSingleSelector(reg, time.Minute)
	winner := sel.SelectBridge(nil, "", "")
	require.NotNil(t, winner)
	assert.Equal(t, "b", winner.ID)
}

func TestSingleSelector_VersionPinningFailsClosed(t *testing.T) {
	reg := NewRegistry(time.Minute)
	reg.AddBridge(&Bridge{ID: "a", Version: "1"})

	sel := NewSingleSelector(reg, time.Minute)
	winner := sel.SelectBridge(nil, "", "2")
	assert.Nil(t, winner, "selection must fail rather than silently switch version")
}

func TestSingleSelector_DrainedBridgeIneligibleForNew(t *testing.T) {
	reg := NewRegistry(time.Minute)
	reg.AddBridge(&Bridge{ID: "a", Drain: true})

	sel := NewSingleSelector(reg, time.Minute)
	winner := sel.SelectBridge(nil, "", "")
	assert.Nil(t, winner)
}

func TestRegionSelector_PrefersParticipantRegion(t *testing.T) {
	reg := NewRegistry(time.Minute)
	reg.AddBridge(&Bridge{ID: "us", Region: "us-east", Stress: 0.1})
	reg.AddBridge(&Bridge{ID: "eu", Region: "eu-west", Stress: 0.9})

	cfg := &config.Config{LocalRegion: "us-east", RegionGroups: map[string][]string{}}
	sel := NewRegionSelector(reg, cfg)

	winner := sel.SelectBridge(nil, "eu-west", "")
	require.NotNil(t, winner)
	assert.Equal(t, "eu", winner.ID)
}

func TestSplitSelector_SpreadsAcrossBridges(t *testing.T) {
	reg := NewRegistry(time.Minute)
	a := &Bridge{ID: "a", Stress: 0.1}
	b := &Bridge{ID: "b", Stress: 0.1}
	reg.AddBridge(a)
	reg.AddBridge(b)

	sel := NewSplitSelector(reg, time.Minute)
	conferenceBridges := map[*Bridge]int{a: 3}

	winner := sel.SelectBridge(conferenceBridges, "", "")
	require.NotNil(t, winner)
	assert.Equal(t, "b", winner.ID, "split must prefer a bridge not yet used by the conference")
}

func TestRegistry_NonGracefulRemovalIncrementsLostCounter(t *testing.T) {
	reg := NewRegistry(time.Minute)
	reg.AddBridge(&Bridge{ID: "a"})
	before := testutil.ToFloat64(metrics.BridgesLost)
	reg.RemoveBridge("a", false)
	after := testutil.ToFloat64(metrics.BridgesLost)
	assert.Greater(t, after, before)
}
